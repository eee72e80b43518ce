package playback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/internal/writer"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/sampleindex"
)

type fakeMeta struct {
	recordings map[clock.CompositeID]metadb.Recording
	playback   map[clock.CompositeID][]byte
	streams    map[clock.StreamID]metadb.Stream
}

func (f *fakeMeta) GetRecording(_ context.Context, id clock.CompositeID) (metadb.Recording, error) {
	if r, ok := f.recordings[id]; ok {
		return r, nil
	}
	return metadb.Recording{}, storage.New(storage.KindMismatch, "no such recording")
}

func (f *fakeMeta) LookupPlayback(_ context.Context, id clock.CompositeID) ([]byte, error) {
	if b, ok := f.playback[id]; ok {
		return b, nil
	}
	return nil, storage.New(storage.KindMismatch, "no such playback row")
}

func (f *fakeMeta) GetStream(_ context.Context, id clock.StreamID) (metadb.Stream, error) {
	return f.streams[id], nil
}

func (f *fakeMeta) ListRecordings(_ context.Context, streamID clock.StreamID, startTime, endTime clock.Timestamp90k, _ metadb.Order) ([]metadb.Recording, error) {
	var out []metadb.Recording
	for _, r := range f.recordings {
		if r.StreamID == streamID && r.StartTime90k < endTime && r.StartTime90k.Add(r.Duration90k) > startTime {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakePending struct {
	entries map[clock.CompositeID]metadb.UncommittedRecording
}

func (f *fakePending) PendingEntry(id clock.CompositeID) (metadb.UncommittedRecording, bool) {
	rec, ok := f.entries[id]
	return rec, ok
}

type fakeGrowing struct {
	byStream map[clock.StreamID]*writer.GrowingSnapshot
}

func (f *fakeGrowing) Growing(streamID clock.StreamID) *writer.GrowingSnapshot {
	return f.byStream[streamID]
}

func indexBlob(entries []sampleindex.Entry) []byte {
	return sampleindex.Encode(sampleindex.DeltasFromAbsolute(entries))
}

func TestResolveCommittedFullRange(t *testing.T) {
	id := clock.NewCompositeID(1, 5)
	entries := []sampleindex.Entry{
		{Duration: 3000, Size: 1000, IsSync: true},
		{Duration: 3000, Size: 500, IsSync: false},
		{Duration: 3000, Size: 500, IsSync: false},
	}
	meta := &fakeMeta{
		recordings: map[clock.CompositeID]metadb.Recording{
			id: {CompositeID: id, StreamID: 1, OpenID: 9, StartTime90k: 1000, VideoSampleEntryID: 7},
		},
		playback: map[clock.CompositeID][]byte{id: indexBlob(entries)},
		streams:  map[clock.StreamID]metadb.Stream{1: {ID: 1, SampleFileDirID: 2}},
	}

	r := New(Config{Meta: meta})
	seg, err := r.Resolve(context.Background(), SegmentSpec{CompositeID: id})
	require.NoError(t, err)
	require.Len(t, seg.Samples, 3)
	require.Equal(t, clock.Duration90k(9000), seg.Duration())
	require.False(t, seg.Growing)
	require.Equal(t, clock.OpenID(9), seg.OpenID)
	require.Equal(t, int64(2), seg.SampleFileDirID)
}

func TestResolveOpenIDMismatch(t *testing.T) {
	id := clock.NewCompositeID(1, 5)
	meta := &fakeMeta{
		recordings: map[clock.CompositeID]metadb.Recording{
			id: {CompositeID: id, StreamID: 1, OpenID: 9},
		},
		playback: map[clock.CompositeID][]byte{id: indexBlob(nil)},
		streams:  map[clock.StreamID]metadb.Stream{1: {ID: 1}},
	}
	r := New(Config{Meta: meta})
	bad := clock.OpenID(4)
	_, err := r.Resolve(context.Background(), SegmentSpec{CompositeID: id, OpenID: &bad})
	require.Error(t, err)
	require.True(t, storage.Is(err, storage.KindMismatch))
}

func TestResolveRangeExtendsBackToSyncSample(t *testing.T) {
	id := clock.NewCompositeID(1, 5)
	entries := []sampleindex.Entry{
		{Duration: 1000, Size: 100, IsSync: true},  // [0, 1000)
		{Duration: 1000, Size: 50, IsSync: false},  // [1000, 2000)
		{Duration: 1000, Size: 50, IsSync: false},  // [2000, 3000)
		{Duration: 1000, Size: 100, IsSync: true},  // [3000, 4000)
		{Duration: 1000, Size: 50, IsSync: false},  // [4000, 5000)
	}
	meta := &fakeMeta{
		recordings: map[clock.CompositeID]metadb.Recording{id: {CompositeID: id, StreamID: 1}},
		playback:   map[clock.CompositeID][]byte{id: indexBlob(entries)},
		streams:    map[clock.StreamID]metadb.Stream{1: {ID: 1}},
	}
	r := New(Config{Meta: meta})

	relStart := clock.Duration90k(2500)
	relEnd := clock.Duration90k(4500)
	seg, err := r.Resolve(context.Background(), SegmentSpec{CompositeID: id, RelStart: &relStart, RelEnd: &relEnd})
	require.NoError(t, err)

	// rel_start 2500 falls in sample index 2 ([2000,3000)); extend back to
	// the preceding sync sample at index 0.
	require.Len(t, seg.Samples, 5)
	require.True(t, seg.Samples[0].IsSync)
}

func TestResolvePendingOverlay(t *testing.T) {
	id := clock.NewCompositeID(1, 6)
	meta := &fakeMeta{
		recordings: map[clock.CompositeID]metadb.Recording{},
		playback:   map[clock.CompositeID][]byte{},
		streams:    map[clock.StreamID]metadb.Stream{1: {ID: 1, SampleFileDirID: 3}},
	}
	entries := []sampleindex.Entry{{Duration: 1000, Size: 10, IsSync: true}}
	pending := &fakePending{entries: map[clock.CompositeID]metadb.UncommittedRecording{
		id: {
			Recording: metadb.Recording{CompositeID: id, StreamID: 1, OpenID: 2},
			Playback:  metadb.RecordingPlayback{CompositeID: id, SampleIndex: indexBlob(entries)},
		},
	}}

	r := New(Config{Meta: meta, Pending: pending})
	seg, err := r.Resolve(context.Background(), SegmentSpec{CompositeID: id})
	require.NoError(t, err)
	require.Len(t, seg.Samples, 1)
	require.False(t, seg.Growing)
}

func TestResolveGrowingOverlayExcludesPendingSample(t *testing.T) {
	streamID := clock.StreamID(1)
	id := clock.NewCompositeID(streamID, 7)
	meta := &fakeMeta{
		recordings: map[clock.CompositeID]metadb.Recording{},
		playback:   map[clock.CompositeID][]byte{},
		streams:    map[clock.StreamID]metadb.Stream{1: {ID: 1}},
	}
	growing := &fakeGrowing{byStream: map[clock.StreamID]*writer.GrowingSnapshot{
		streamID: {
			CompositeID: id,
			OpenID:      3,
			StreamID:    streamID,
			StartTime:   0,
			Samples: []sampleindex.Entry{
				{Duration: 1000, Size: 10, IsSync: true},
				{Duration: 1000, Size: 8, IsSync: false},
			},
		},
	}}

	r := New(Config{Meta: meta, Growing: growing})
	seg, err := r.Resolve(context.Background(), SegmentSpec{CompositeID: id})
	require.NoError(t, err)
	require.True(t, seg.Growing)
	require.Len(t, seg.Samples, 2)
	require.Equal(t, clock.Duration90k(2000), seg.Duration())
}

func TestResolveUnknownFails(t *testing.T) {
	id := clock.NewCompositeID(1, 99)
	meta := &fakeMeta{streams: map[clock.StreamID]metadb.Stream{1: {ID: 1}}}
	r := New(Config{Meta: meta})
	_, err := r.Resolve(context.Background(), SegmentSpec{CompositeID: id})
	require.Error(t, err)
	require.True(t, storage.Is(err, storage.KindMismatch))
}
