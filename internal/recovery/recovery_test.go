package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/sampledir"
	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

func newTestStore(t *testing.T) *metadb.Store {
	t.Helper()
	s, err := metadb.NewStore("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestOpenFreshDirectorySucceeds(t *testing.T) {
	path := t.TempDir()
	dbRow := metadb.SampleFileDir{UUID: [16]byte{1}}

	d, err := Open(path, dbRow)
	require.NoError(t, err)
	defer d.Close()
}

func TestOpenMismatchedUUIDFails(t *testing.T) {
	path := t.TempDir()

	seed, err := sampledir.Open(path)
	require.NoError(t, err)
	require.NoError(t, seed.WriteInProgressOpen(clock.OpenID(1), [16]byte{1}, clock.Timestamp90k(0)))
	start, end := clock.Timestamp90k(0), clock.Timestamp90k(100)
	require.NoError(t, seed.PromoteToLastComplete(clock.OpenID(1), [16]byte{1}, start, end))
	require.NoError(t, seed.Close())

	openID := clock.OpenID(1)
	dbRow := metadb.SampleFileDir{UUID: [16]byte{2}, LastCompleteOpenID: &openID}

	_, err = Open(path, dbRow)
	require.Error(t, err)
	require.True(t, storage.Is(err, storage.KindMismatch))
}

func TestRecoverDeletesOrphanAndGarbageFiles(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	dbRow := metadb.SampleFileDir{UUID: [16]byte{3}}

	d, err := Open(path, dbRow)
	require.NoError(t, err)
	defer d.Close()

	store := newTestStore(t)

	dirRow, err := store.UpsertSampleFileDir(ctx, path, dbRow.UUID)
	require.NoError(t, err)
	cameraID, err := store.UpsertCamera(ctx, [16]byte{4}, "front")
	require.NoError(t, err)
	streamID, err := store.UpsertStream(ctx, cameraID, "main", dirRow.ID, "rtsp://cam/main", 1<<30, 60, true)
	require.NoError(t, err)

	// garbageID is a committed recording's file, which advances
	// next_recording_id to 1 and is separately listed as garbage; orphanID
	// sits beyond next_recording_id entirely. Both must be deleted by
	// Recover, the former as garbage and the latter as an orphan.
	garbageID := clock.NewCompositeID(streamID, 0)
	f, err := d.CreateSampleFile(garbageID)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entryID, err := store.InsertVideoSampleEntry(ctx, metadb.VideoSampleEntry{
		SHA1: [20]byte{1}, Width: 1280, Height: 720, RFC6381Codec: "avc1.42001f", Data: []byte{1, 2, 3},
	})
	require.NoError(t, err)
	openRow, err := store.CreateOpen(ctx, [16]byte{9}, clock.Timestamp90k(0))
	require.NoError(t, err)
	uncommitted := []metadb.UncommittedRecording{{
		Recording: metadb.Recording{
			CompositeID: garbageID, StreamID: streamID, OpenID: openRow.ID,
			SampleFileBytes: 4096, Duration90k: clock.Duration90k(90000),
			VideoSamples: 30, VideoSyncSamples: 1, VideoSampleEntryID: entryID,
		},
		Playback: metadb.RecordingPlayback{CompositeID: garbageID, SampleIndex: []byte{1, 2, 3}},
	}}
	require.NoError(t, store.CommitBatch(ctx, uncommitted,
		[]metadb.GarbageEntry{{DirID: dirRow.ID, CompositeID: garbageID}}, nil))

	orphanID := clock.NewCompositeID(streamID, 5)
	f, err = d.CreateSampleFile(orphanID)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	streams, err := store.ListStreams(ctx)
	require.NoError(t, err)

	res, err := Recover(ctx, store, d, dirRow, streams, clock.Timestamp90k(1000), nil)
	require.NoError(t, err)
	require.Contains(t, res.FilesDeleted, orphanID)
	require.Contains(t, res.GarbageDeleted, garbageID)

	remaining, err := d.ListSampleFiles()
	require.NoError(t, err)
	require.Empty(t, remaining)

	require.NotNil(t, d.Meta().InProgress)
	require.Equal(t, res.OpenID, d.Meta().InProgress.ID)
}

func TestRecoverKeepsCommittedRecordingFiles(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	dbRow := metadb.SampleFileDir{UUID: [16]byte{5}}

	d, err := Open(path, dbRow)
	require.NoError(t, err)
	defer d.Close()

	store := newTestStore(t)
	dirRow, err := store.UpsertSampleFileDir(ctx, path, dbRow.UUID)
	require.NoError(t, err)
	cameraID, err := store.UpsertCamera(ctx, [16]byte{6}, "back")
	require.NoError(t, err)
	streamID, err := store.UpsertStream(ctx, cameraID, "main", dirRow.ID, "rtsp://cam/main", 1<<30, 60, true)
	require.NoError(t, err)

	committedID := clock.NewCompositeID(streamID, 0)
	f, err := d.CreateSampleFile(committedID)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entryID, err := store.InsertVideoSampleEntry(ctx, metadb.VideoSampleEntry{
		SHA1: [20]byte{2}, Width: 1280, Height: 720, RFC6381Codec: "avc1.42001f", Data: []byte{1, 2, 3},
	})
	require.NoError(t, err)
	openRow, err := store.CreateOpen(ctx, [16]byte{8}, clock.Timestamp90k(0))
	require.NoError(t, err)
	uncommitted := []metadb.UncommittedRecording{{
		Recording: metadb.Recording{
			CompositeID: committedID, StreamID: streamID, OpenID: openRow.ID,
			SampleFileBytes: 4096, Duration90k: clock.Duration90k(90000),
			VideoSamples: 30, VideoSyncSamples: 1, VideoSampleEntryID: entryID,
		},
		Playback: metadb.RecordingPlayback{CompositeID: committedID, SampleIndex: []byte{1, 2, 3}},
	}}
	// Committed, not garbage: next_recording_id advances past committedID's
	// sequence, and Recover must leave its file alone.
	require.NoError(t, store.CommitBatch(ctx, uncommitted, nil, nil))

	streams, err := store.ListStreams(ctx)
	require.NoError(t, err)

	_, err = Recover(ctx, store, d, dirRow, streams, clock.Timestamp90k(1000), nil)
	require.NoError(t, err)

	remaining, err := d.ListSampleFiles()
	require.NoError(t, err)
	require.Contains(t, remaining, committedID)
}

func TestPromoteAfterFirstFlush(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir()
	dbRow := metadb.SampleFileDir{UUID: [16]byte{7}}

	d, err := Open(path, dbRow)
	require.NoError(t, err)
	defer d.Close()

	store := newTestStore(t)
	dirRow, err := store.UpsertSampleFileDir(ctx, path, dbRow.UUID)
	require.NoError(t, err)

	streams, err := store.ListStreams(ctx)
	require.NoError(t, err)
	res, err := Recover(ctx, store, d, dirRow, streams, clock.Timestamp90k(0), nil)
	require.NoError(t, err)

	require.NoError(t, PromoteAfterFirstFlush(ctx, store, d, dirRow, res, clock.Timestamp90k(0), clock.Timestamp90k(100)))
	require.Nil(t, d.Meta().InProgress)
	require.Equal(t, res.OpenID, d.Meta().LastComplete.ID)

	got, err := store.GetSampleFileDir(ctx, dirRow.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastCompleteOpenID)
	require.Equal(t, res.OpenID, *got.LastCompleteOpenID)
}
