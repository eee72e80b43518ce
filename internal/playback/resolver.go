package playback

import (
	"context"
	"fmt"
	"math"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/sampleindex"
)

// Config carries the Resolver's dependencies, each optional except Meta.
type Config struct {
	Meta    MetaSource
	Pending PendingSource // nil disables the flush-pending overlay
	Growing GrowingSource // nil disables the growing-recording overlay
}

// Resolver resolves segment specs: given one, it finds the recording
// wherever it currently lives (committed, pending flush, or still being
// written) and decodes its sample index into an IndexedSegment.
type Resolver struct {
	meta    MetaSource
	pending PendingSource
	growing GrowingSource
}

// New constructs a Resolver.
func New(cfg Config) *Resolver {
	return &Resolver{meta: cfg.Meta, pending: cfg.Pending, growing: cfg.Growing}
}

// recordingView is the handful of fields every resolution source can
// supply, regardless of whether the recording is committed, pending, or
// still growing.
type recordingView struct {
	openID             clock.OpenID
	runOffset          int
	startTime          clock.Timestamp90k
	videoSampleEntryID int64
	entries            []sampleindex.Entry
	growing            bool
}

// Resolve turns a single spec into an IndexedSegment.
func (r *Resolver) Resolve(ctx context.Context, spec SegmentSpec) (*IndexedSegment, error) {
	view, err := r.resolveView(ctx, spec.CompositeID)
	if err != nil {
		return nil, err
	}

	if spec.OpenID != nil && *spec.OpenID != view.openID {
		return nil, storage.New(storage.KindMismatch,
			fmt.Sprintf("recording %s: open_id %d does not match server's %d", spec.CompositeID, *spec.OpenID, view.openID))
	}

	stream, err := r.meta.GetStream(ctx, spec.CompositeID.Stream())
	if err != nil {
		return nil, fmt.Errorf("resolve segment %s: %w", spec.CompositeID, err)
	}

	samples, segStart, segEnd := buildSampleRefs(view.entries, spec.RelStart, spec.RelEnd)

	return &IndexedSegment{
		StreamID:           spec.CompositeID.Stream(),
		CompositeID:        spec.CompositeID,
		OpenID:             view.openID,
		RunOffset:          view.runOffset,
		SampleFileDirID:    stream.SampleFileDirID,
		VideoSampleEntryID: view.videoSampleEntryID,
		RecordingStart:     view.startTime,
		Samples:            samples,
		SegmentStart:       segStart,
		SegmentEnd:         segEnd,
		Growing:            view.growing,
	}, nil
}

// ResolveAll resolves every spec, preserving request order.
func (r *Resolver) ResolveAll(ctx context.Context, specs []SegmentSpec) ([]*IndexedSegment, error) {
	out := make([]*IndexedSegment, 0, len(specs))
	for _, spec := range specs {
		seg, err := r.Resolve(ctx, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, nil
}

// resolveView finds id wherever it currently lives, preferring committed
// state, then the flush-pending overlay, then the writer's growing
// snapshot, mirroring the freshness order a crash could leave them in.
func (r *Resolver) resolveView(ctx context.Context, id clock.CompositeID) (recordingView, error) {
	rec, err := r.meta.GetRecording(ctx, id)
	if err == nil {
		blob, err := r.meta.LookupPlayback(ctx, id)
		if err != nil {
			return recordingView{}, fmt.Errorf("resolve %s: %w", id, err)
		}
		entries, err := sampleindex.DecodeAll(blob)
		if err != nil {
			return recordingView{}, storage.Wrap(storage.KindCorrupt, fmt.Sprintf("sample index for recording %s", id), err)
		}
		return recordingView{
			openID:             rec.OpenID,
			runOffset:          rec.RunOffset,
			startTime:          rec.StartTime90k,
			videoSampleEntryID: rec.VideoSampleEntryID,
			entries:            entries,
		}, nil
	}
	if !storage.Is(err, storage.KindMismatch) {
		return recordingView{}, fmt.Errorf("resolve %s: %w", id, err)
	}

	if r.pending != nil {
		if uncommitted, ok := r.pending.PendingEntry(id); ok {
			entries, err := sampleindex.DecodeAll(uncommitted.Playback.SampleIndex)
			if err != nil {
				return recordingView{}, storage.Wrap(storage.KindCorrupt, fmt.Sprintf("sample index for recording %s", id), err)
			}
			return recordingView{
				openID:             uncommitted.Recording.OpenID,
				runOffset:          uncommitted.Recording.RunOffset,
				startTime:          uncommitted.Recording.StartTime90k,
				videoSampleEntryID: uncommitted.Recording.VideoSampleEntryID,
				entries:            entries,
			}, nil
		}
	}

	if r.growing != nil {
		if snap := r.growing.Growing(id.Stream()); snap != nil && snap.CompositeID == id {
			return recordingView{
				openID:             snap.OpenID,
				runOffset:          snap.RunOffset,
				startTime:          snap.StartTime,
				videoSampleEntryID: snap.EntryID,
				entries:            snap.Samples,
				growing:            true,
			}, nil
		}
	}

	return recordingView{}, r.mismatchWithAvailableRange(ctx, id, fmt.Sprintf("no recording %s in committed, pending, or growing state", id))
}

// mismatchWithAvailableRange builds a Mismatch error and, if the stream
// has any recordings at all, attaches the range they span so a client's
// 404 tells it what range IS available.
func (r *Resolver) mismatchWithAvailableRange(ctx context.Context, id clock.CompositeID, msg string) error {
	err := storage.New(storage.KindMismatch, msg)
	recs, lookupErr := r.meta.ListRecordings(ctx, id.Stream(),
		clock.Timestamp90k(math.MinInt64), clock.Timestamp90k(math.MaxInt64), metadb.Ascending)
	if lookupErr != nil || len(recs) == 0 {
		return err
	}
	first, last := recs[0], recs[len(recs)-1]
	return err.WithAvailableRange(first.StartTime90k, last.StartTime90k.Add(last.Duration90k))
}

// buildSampleRefs finds the first sample whose
// cumulative duration reaches relStart, extend back to the nearest
// preceding sync sample, then continue through the last sample whose
// cumulative duration reaches relEnd (or the recording's end).
func buildSampleRefs(entries []sampleindex.Entry, relStart, relEnd *clock.Duration90k) ([]SampleRef, clock.Duration90k, clock.Duration90k) {
	if len(entries) == 0 {
		return nil, 0, 0
	}

	start := clock.Duration90k(0)
	if relStart != nil {
		start = *relStart
	}

	times := make([]clock.Duration90k, len(entries)+1)
	offsets := make([]int64, len(entries)+1)
	var cum clock.Duration90k
	var offset int64
	for i, e := range entries {
		times[i] = cum
		offsets[i] = offset
		cum += clock.Duration90k(e.Duration)
		offset += e.Size
	}
	times[len(entries)] = cum
	offsets[len(entries)] = offset

	firstIdx := len(entries) - 1
	for i := range entries {
		if times[i+1] >= start {
			firstIdx = i
			break
		}
	}
	for firstIdx > 0 && !entries[firstIdx].IsSync {
		firstIdx--
	}

	lastIdx := len(entries) - 1
	if relEnd != nil {
		for i := firstIdx; i < len(entries); i++ {
			if times[i+1] >= *relEnd {
				lastIdx = i
				break
			}
		}
	}

	refs := make([]SampleRef, 0, lastIdx-firstIdx+1)
	for i := firstIdx; i <= lastIdx; i++ {
		refs = append(refs, SampleRef{
			RelStart: times[i],
			Offset:   offsets[i],
			Size:     entries[i].Size,
			IsSync:   entries[i].IsSync,
			Duration: clock.Duration90k(entries[i].Duration),
		})
	}

	segStart, segEnd := times[firstIdx], times[lastIdx+1]
	if start > segStart {
		segStart = start
	}
	if relEnd != nil && *relEnd < segEnd {
		segEnd = *relEnd
	}
	if segStart > segEnd {
		segStart = segEnd
	}
	return refs, segStart, segEnd
}
