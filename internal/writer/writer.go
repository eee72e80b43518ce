// Package writer implements the per-stream append pipeline and its
// uncommitted recording state machine: one writer per (stream, sample
// file directory), consuming access units from the RTSP collaborator,
// rotating recordings at sync frame boundaries, and handing completed
// recordings to the flush scheduler.
package writer

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/obs"
	"github.com/moonfire-nvr/moonfire-nvr/internal/sampledir"
	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/sampleindex"
)

// maxDriftPPM bounds the wall-clock drift correction applied to a
// recording's measured duration.
const maxDriftPPM = 500

// AccessUnit is one frame handed to the writer by the RTSP collaborator.
type AccessUnit struct {
	PTS90k         clock.Timestamp90k
	IsRandomAccess bool
	Data           []byte // AVC length-prefixed NAL units
	Entry          metadb.VideoSampleEntry
}

// EntryResolver maps a video sample entry's content to its stable
// database id, inserting a new row on first sight.
type EntryResolver interface {
	InsertVideoSampleEntry(ctx context.Context, entry metadb.VideoSampleEntry) (int64, error)
}

// Publisher receives completed (or trailing-zero-closed) recordings for
// eventual commit by the flush scheduler.
type Publisher interface {
	Publish(ctx context.Context, streamID clock.StreamID, rec metadb.UncommittedRecording)
}

// FragmentDescriptor is offered to the live broadcaster each time the
// writer closes a recording (at rotation or Stop); it spans that whole
// recording. Sync samples inside a recording produce no descriptor.
type FragmentDescriptor struct {
	CompositeID        clock.CompositeID
	OpenID             clock.OpenID
	RelStart, RelEnd   clock.Duration90k
	VideoSampleEntryID int64
	MIMEType           string
}

// LiveNotifier is offered one fragment descriptor per closed recording.
type LiveNotifier interface {
	GOPBoundary(streamID clock.StreamID, frag FragmentDescriptor)
}

// WallClock abstracts time.Now for deterministic tests.
type WallClock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// State is the writer's coarse lifecycle state.
type State int

const (
	StateIdle State = iota
	StateOpen
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type pendingSample struct {
	pts    clock.Timestamp90k
	size   int64
	isSync bool
}

type openRecording struct {
	compositeID clock.CompositeID
	file        *os.File
	entryID     int64
	entry       metadb.VideoSampleEntry
	openID      clock.OpenID
	runOffset   int
	startTime   clock.Timestamp90k
	anchorPTS   clock.Timestamp90k // camera-clock PTS of this recording's first sample
	wallOpen    time.Time
	samples     []sampleindex.Entry
	syncCount   int64
	totalBytes  int64
	cumDuration clock.Duration90k
	pending     *pendingSample
}

// Writer drives one stream's sample consumption, file writes, and
// rotation policy.
type Writer struct {
	streamID  clock.StreamID
	dir       *sampledir.Dir
	entries   EntryResolver
	publisher Publisher
	live      LiveNotifier
	log       *obs.Logger
	clk       WallClock

	openID          clock.OpenID
	target          clock.Duration90k
	nextRecordingID uint32
	runOffset       int
	firstOfRun      bool
	lastRunEnd      *clock.Timestamp90k

	state State
	cur   *openRecording

	// growingBytes mirrors cur's byte count for lock-free cross-goroutine
	// reads (retention's on-disk byte accounting); it is the only Writer
	// field read outside the owning task.
	growingBytes atomic.Int64

	// snapshot mirrors cur's finalized samples for lock-free cross-goroutine
	// reads by the playback index.
	snapshot atomic.Pointer[GrowingSnapshot]
}

// GrowingBytes returns the byte size of the recording currently being
// written, or 0 if the writer is idle. Safe to call from any goroutine.
func (w *Writer) GrowingBytes() int64 { return w.growingBytes.Load() }

// GrowingSnapshot is a read-only, point-in-time view of the recording
// currently being written, published so readers (the playback index) can
// serve the currently-growing recording without waiting for it to reach
// the flush scheduler. Only samples whose duration is already known are
// included; the sample currently being written is excluded.
type GrowingSnapshot struct {
	CompositeID clock.CompositeID
	OpenID      clock.OpenID
	StreamID    clock.StreamID
	RunOffset   int
	StartTime   clock.Timestamp90k
	EntryID     int64
	Samples     []sampleindex.Entry
}

// Growing returns a snapshot of the recording currently being written, or
// nil if the writer has no open recording. Safe to call from any
// goroutine; the returned value is never mutated after publication.
func (w *Writer) Growing() *GrowingSnapshot {
	return w.snapshot.Load()
}

// publishSnapshot rebuilds the copy-on-write growing snapshot from cur.
// Called after every mutation of w.cur's sample list.
func (w *Writer) publishSnapshot() {
	if w.cur == nil {
		w.snapshot.Store(nil)
		return
	}
	samples := make([]sampleindex.Entry, len(w.cur.samples))
	copy(samples, w.cur.samples)
	w.snapshot.Store(&GrowingSnapshot{
		CompositeID: w.cur.compositeID,
		OpenID:      w.cur.openID,
		StreamID:    w.streamID,
		RunOffset:   w.cur.runOffset,
		StartTime:   w.cur.startTime,
		EntryID:     w.cur.entryID,
		Samples:     samples,
	})
}

// Config carries the fixed parameters a Writer needs at construction.
type Config struct {
	StreamID        clock.StreamID
	Dir             *sampledir.Dir
	Entries         EntryResolver
	Publisher       Publisher
	Live            LiveNotifier
	Log             *obs.Logger
	OpenID          clock.OpenID
	NextRecordingID uint32
	Target          clock.Duration90k // 0 means clock.DefaultRotationTarget
	Clock           WallClock         // nil means the real wall clock
}

// New constructs a Writer in the Idle state.
func New(cfg Config) *Writer {
	target := cfg.Target
	if target == 0 {
		target = clock.DefaultRotationTarget
	}
	clk := cfg.Clock
	if clk == nil {
		clk = realClock{}
	}
	return &Writer{
		streamID:        cfg.StreamID,
		dir:             cfg.Dir,
		entries:         cfg.Entries,
		publisher:       cfg.Publisher,
		live:            cfg.Live,
		log:             cfg.Log,
		clk:             clk,
		openID:          cfg.OpenID,
		target:          target,
		nextRecordingID: cfg.NextRecordingID,
		firstOfRun:      true,
		state:           StateIdle,
	}
}

// State returns the writer's current lifecycle state.
func (w *Writer) State() State { return w.state }

// Write consumes one access unit, driving the state machine forward.
// Writers are single-task-owned; callers must not call Write
// concurrently with itself, Stop, or Abort.
func (w *Writer) Write(ctx context.Context, au AccessUnit) error {
	if w.state == StateFailed {
		return storage.New(storage.KindTransientIO, "writer is in failed state; must be restarted")
	}

	entryID, err := w.entries.InsertVideoSampleEntry(ctx, au.Entry)
	if err != nil {
		w.state = StateFailed
		return fmt.Errorf("resolve video sample entry: %w", err)
	}

	switch w.state {
	case StateIdle:
		if !au.IsRandomAccess {
			return nil // wait for a sync frame before opening a recording
		}
		if err := w.openRecording(ctx, au, entryID); err != nil {
			w.state = StateFailed
			return err
		}
		w.state = StateOpen
		return nil

	case StateOpen:
		entryChanged := w.cur.entryID != entryID
		elapsedIfFinalized := au.PTS90k.Sub(w.cur.anchorPTS)
		pastCeiling := elapsedIfFinalized >= clock.MaxRecordingDuration
		pastTarget := elapsedIfFinalized >= w.target

		switch {
		case pastCeiling:
			if w.log != nil {
				w.log.Stream(int32(w.streamID)).Warn().Msg("recording hit hard duration ceiling; rotating without waiting for a sync frame")
			}
			if err := w.rotate(ctx, au, entryID); err != nil {
				w.state = StateFailed
				return err
			}
			return nil
		case au.IsRandomAccess && (entryChanged || pastTarget):
			if err := w.rotate(ctx, au, entryID); err != nil {
				w.state = StateFailed
				return err
			}
			return nil
		default:
			if err := w.appendSample(au); err != nil {
				w.state = StateFailed
				return err
			}
			return nil
		}

	default:
		return storage.New(storage.KindTransientIO, fmt.Sprintf("writer cannot accept samples in state %s", w.state))
	}
}

// openRecording reserves the next composite id in memory, creates the
// sample file, and fixes the recording's start time.
func (w *Writer) openRecording(ctx context.Context, au AccessUnit, entryID int64) error {
	id := clock.NewCompositeID(w.streamID, w.nextRecordingID)

	f, err := w.dir.CreateSampleFile(id)
	if err != nil {
		return fmt.Errorf("create sample file for recording %s: %w", id, err)
	}

	now := w.clk.Now()
	start := clock.FromTime(now)
	if !w.firstOfRun && w.lastRunEnd != nil {
		start = *w.lastRunEnd
	}

	w.cur = &openRecording{
		compositeID: id,
		file:        f,
		entryID:     entryID,
		entry:       au.Entry,
		openID:      w.openID,
		runOffset:   w.runOffset,
		startTime:   start,
		anchorPTS:   au.PTS90k,
		wallOpen:    now,
	}
	w.nextRecordingID++
	w.firstOfRun = false

	n, err := w.cur.file.Write(au.Data)
	if err != nil {
		return fmt.Errorf("seed opened recording %s: %w", id, err)
	}
	w.cur.totalBytes += int64(n)
	w.growingBytes.Store(w.cur.totalBytes)
	w.cur.pending = &pendingSample{pts: au.PTS90k, size: int64(n), isSync: au.IsRandomAccess}
	w.publishSnapshot()
	return nil
}

// appendSample writes one sample's bytes, then
// finalize the *previous* pending sample now that its duration (the gap
// to this sample's PTS) is known.
func (w *Writer) appendSample(au AccessUnit) error {
	cur := w.cur
	if cur.pending != nil {
		duration := au.PTS90k.Sub(cur.pending.pts)
		cur.samples = append(cur.samples, sampleindex.Entry{
			Duration: int64(duration),
			Size:     cur.pending.size,
			IsSync:   cur.pending.isSync,
		})
		cur.cumDuration += duration
		if cur.pending.isSync {
			cur.syncCount++
		}
	}

	n, err := cur.file.Write(au.Data)
	if err != nil {
		return fmt.Errorf("append sample to recording %s: %w", cur.compositeID, err)
	}
	cur.totalBytes += int64(n)
	w.growingBytes.Store(cur.totalBytes)
	cur.pending = &pendingSample{pts: au.PTS90k, size: int64(n), isSync: au.IsRandomAccess}
	w.publishSnapshot()
	return nil
}

// rotate closes the current recording (with a known next PTS, so no
// trailing zero, since au's arrival is exactly what makes the previous
// pending sample's duration known) and opens a new one with au as its
// first sample.
func (w *Writer) rotate(ctx context.Context, au AccessUnit, entryID int64) error {
	cur := w.cur

	if cur.pending != nil {
		duration := au.PTS90k.Sub(cur.pending.pts)
		cur.samples = append(cur.samples, sampleindex.Entry{
			Duration: int64(duration),
			Size:     cur.pending.size,
			IsSync:   cur.pending.isSync,
		})
		cur.cumDuration += duration
		if cur.pending.isSync {
			cur.syncCount++
		}
		cur.pending = nil
	}

	if err := w.closeRecording(ctx, cur, false); err != nil {
		return err
	}

	w.runOffset++
	return w.openRecordingFromRotation(au, entryID)
}

// openRecordingFromRotation starts a new recording and writes au, its
// first sample, into the new sample file.
func (w *Writer) openRecordingFromRotation(au AccessUnit, entryID int64) error {
	id := clock.NewCompositeID(w.streamID, w.nextRecordingID)
	f, err := w.dir.CreateSampleFile(id)
	if err != nil {
		return fmt.Errorf("create sample file for recording %s: %w", id, err)
	}

	start := *w.lastRunEnd
	now := w.clk.Now()

	w.cur = &openRecording{
		compositeID: id,
		file:        f,
		entryID:     entryID,
		entry:       au.Entry,
		openID:      w.openID,
		runOffset:   w.runOffset,
		startTime:   start,
		anchorPTS:   au.PTS90k,
		wallOpen:    now,
	}
	w.nextRecordingID++

	n, err := w.cur.file.Write(au.Data)
	if err != nil {
		return fmt.Errorf("seed rotated recording %s: %w", id, err)
	}
	w.cur.totalBytes += int64(n)
	w.growingBytes.Store(w.cur.totalBytes)
	w.cur.pending = &pendingSample{pts: au.PTS90k, size: int64(n), isSync: au.IsRandomAccess}
	w.publishSnapshot()
	return nil
}

// closeRecording finalizes cur (applying the trailing-zero rule if no
// following sample's PTS is known), encodes its sample index, and
// publishes it to the flush scheduler.
func (w *Writer) closeRecording(ctx context.Context, cur *openRecording, trailingZero bool) error {
	var flags int
	if cur.pending != nil {
		if trailingZero {
			cur.samples = append(cur.samples, sampleindex.Entry{
				Duration: 0,
				Size:     cur.pending.size,
				IsSync:   cur.pending.isSync,
			})
			if cur.pending.isSync {
				cur.syncCount++
			}
			flags |= metadb.RecordingFlagTrailingZero
		}
		cur.pending = nil
	}

	blob := sampleindex.Encode(sampleindex.DeltasFromAbsolute(cur.samples))

	wallElapsed := clock.FromDuration(w.clk.Now().Sub(cur.wallOpen))
	integrity := driftCorrectedIntegrity(cur, wallElapsed)
	if integrity != nil {
		correction := *integrity.WallTimeDelta90k
		if correction > maxDriftPPM*int64(cur.cumDuration)/1_000_000 {
			correction = maxDriftPPM * int64(cur.cumDuration) / 1_000_000
		}
		if correction < -maxDriftPPM*int64(cur.cumDuration)/1_000_000 {
			correction = -maxDriftPPM * int64(cur.cumDuration) / 1_000_000
		}
		cur.cumDuration += clock.Duration90k(correction)
	}

	rec := metadb.Recording{
		CompositeID:        cur.compositeID,
		OpenID:             cur.openID,
		StreamID:           w.streamID,
		RunOffset:          cur.runOffset,
		Flags:              flags,
		SampleFileBytes:    cur.totalBytes,
		StartTime90k:       cur.startTime,
		Duration90k:        cur.cumDuration,
		VideoSamples:       int64(len(cur.samples)),
		VideoSyncSamples:   cur.syncCount,
		VideoSampleEntryID: cur.entryID,
	}

	if err := cur.file.Close(); err != nil {
		return fmt.Errorf("close sample file for recording %s: %w", cur.compositeID, err)
	}

	if cur.runOffset == 0 {
		integrity = nil // "The first recording of a run (run_offset == 0) has no delta."
	}

	w.publisher.Publish(ctx, w.streamID, metadb.UncommittedRecording{
		Recording: rec,
		Playback:  metadb.RecordingPlayback{CompositeID: cur.compositeID, SampleIndex: blob},
		Integrity: integrity,
	})

	if w.live != nil {
		w.live.GOPBoundary(w.streamID, FragmentDescriptor{
			CompositeID:        cur.compositeID,
			OpenID:             cur.openID,
			RelStart:           0,
			RelEnd:             cur.cumDuration,
			VideoSampleEntryID: cur.entryID,
			MIMEType:           fmt.Sprintf("video/mp4; codecs=%q", cur.entry.RFC6381Codec),
		})
	}

	end := cur.startTime.Add(cur.cumDuration)
	w.lastRunEnd = &end
	return nil
}

// driftCorrectedIntegrity computes the recording_integrity row for cur
// from the wall-clock time elapsed since it opened. It never returns nil.
func driftCorrectedIntegrity(cur *openRecording, wallElapsed clock.Duration90k) *metadb.RecordingIntegrity {
	local := int64(cur.cumDuration)
	delta := int64(wallElapsed) - local
	return &metadb.RecordingIntegrity{
		CompositeID:           cur.compositeID,
		LocalTimeSinceOpen90k: &local,
		WallTimeDelta90k:      &delta,
	}
}

// Stop cooperatively closes the writer: it finishes the current sample,
// marks the current recording
// closed-with-trailing-zero, publishes it, then transitions to Idle.
func (w *Writer) Stop(ctx context.Context) error {
	if w.state != StateOpen {
		w.state = StateIdle
		return nil
	}
	w.state = StateClosing
	cur := w.cur
	w.cur = nil
	w.growingBytes.Store(0)
	w.snapshot.Store(nil)
	if err := w.closeRecording(ctx, cur, true); err != nil {
		w.state = StateFailed
		return err
	}
	w.state = StateIdle
	w.runOffset = 0
	w.firstOfRun = true
	w.lastRunEnd = nil
	return nil
}

// Abort immediately discards any in-flight sample without publishing;
// startup recovery is responsible for cleaning up the orphaned file. A
// second stop signal short-circuits here.
func (w *Writer) Abort() {
	if w.cur != nil {
		w.cur.file.Close()
		w.cur = nil
	}
	w.growingBytes.Store(0)
	w.snapshot.Store(nil)
	w.state = StateIdle
	w.runOffset = 0
	w.firstOfRun = true
	w.lastRunEnd = nil
}
