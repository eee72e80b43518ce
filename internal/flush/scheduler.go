// Package flush implements the flush scheduler: a priority queue of
// uncommitted recordings keyed by flush deadline, batched into single
// metadata-store transactions by one worker goroutine woken by the
// earliest deadline, a garbage-list change, or a pending-count
// watermark.
package flush

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/moonfire-nvr/moonfire-nvr/internal/metadb"
	"github.com/moonfire-nvr/moonfire-nvr/internal/obs"
	"github.com/moonfire-nvr/moonfire-nvr/internal/sampledir"
	"github.com/moonfire-nvr/moonfire-nvr/internal/storage"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// defaultWatermark bounds how many uncommitted recordings may pend
// before a flush is forced regardless of deadlines.
const defaultWatermark = 64

const minBackoff = 200 * time.Millisecond
const maxBackoff = 30 * time.Second

// WallClock abstracts time.Now for deterministic tests.
type WallClock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CommitNotifier learns about every recording as it becomes durably
// committed, so readers relying on uncommitted/committed disambiguation
// can update.
type CommitNotifier interface {
	RecordingCommitted(streamID clock.StreamID, id clock.CompositeID)
}

// DirResolver maps a sample file directory id to its open handle, used to
// unlink newly-garbage files and fsync the directory after a commit.
type DirResolver interface {
	DirByID(dirID int64) (*sampledir.Dir, error)
}

type pendingItem struct {
	streamID clock.StreamID
	rec      metadb.UncommittedRecording
	deadline time.Time
	index    int
}

type pendingHeap []*pendingItem

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *pendingHeap) Push(x interface{}) {
	item := x.(*pendingItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Config carries the Scheduler's fixed dependencies and policy knobs.
type Config struct {
	Store      *metadb.Store
	Dirs       DirResolver
	Notifier   CommitNotifier // optional
	Log        *obs.Logger    // optional
	Clock      WallClock      // nil means the real wall clock
	FlushIfSec map[clock.StreamID]time.Duration
	Watermark  int // 0 means defaultWatermark
	MinPeriod  time.Duration // minimum spacing between commit attempts; 0 means 50ms
}

// Scheduler batches uncommitted recordings into transactional commits.
type Scheduler struct {
	store      *metadb.Store
	dirs       DirResolver
	notifier   CommitNotifier
	log        *obs.Logger
	clk        WallClock
	limiter    *rate.Limiter
	watermark  int
	flushIfSec map[clock.StreamID]time.Duration

	mu             sync.Mutex
	heap           pendingHeap
	garbageAdded   []metadb.GarbageEntry
	garbageRemoved []metadb.GarbageEntry
	wake           chan struct{}
	stopped        bool
	backoff        time.Duration
}

// New constructs a Scheduler. Call Run in its own goroutine to start
// processing.
func New(cfg Config) *Scheduler {
	clk := cfg.Clock
	if clk == nil {
		clk = realClock{}
	}
	watermark := cfg.Watermark
	if watermark == 0 {
		watermark = defaultWatermark
	}
	minPeriod := cfg.MinPeriod
	if minPeriod == 0 {
		minPeriod = 50 * time.Millisecond
	}
	h := make(pendingHeap, 0)
	heap.Init(&h)
	return &Scheduler{
		store:      cfg.Store,
		dirs:       cfg.Dirs,
		notifier:   cfg.Notifier,
		log:        cfg.Log,
		clk:        clk,
		limiter:    rate.NewLimiter(rate.Every(minPeriod), 1),
		watermark:  watermark,
		flushIfSec: cfg.FlushIfSec,
		heap:       h,
		wake:       make(chan struct{}, 1),
	}
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Publish implements writer.Publisher: it enqueues rec with a deadline of
// completion_time + stream.flush_if_sec.
func (s *Scheduler) Publish(ctx context.Context, streamID clock.StreamID, rec metadb.UncommittedRecording) {
	s.mu.Lock()
	deadline := s.clk.Now().Add(s.flushIfSec[streamID])
	heap.Push(&s.heap, &pendingItem{streamID: streamID, rec: rec, deadline: deadline})
	overWatermark := s.heap.Len() > s.watermark
	s.mu.Unlock()

	if overWatermark {
		s.signal()
	}
}

// GarbageChanged records retention-driven deletions (additions) and
// completed unlinks (removals) to be folded into the next commit, and
// wakes the scheduler immediately.
func (s *Scheduler) GarbageChanged(added, removed []metadb.GarbageEntry) {
	s.mu.Lock()
	s.garbageAdded = append(s.garbageAdded, added...)
	s.garbageRemoved = append(s.garbageRemoved, removed...)
	s.mu.Unlock()
	s.signal()
}

// PendingEntry looks up a closed-but-not-yet-committed recording by
// composite id, for the playback index's uncommitted overlay.
// The bool is false if id has already been committed (or never existed).
func (s *Scheduler) PendingEntry(id clock.CompositeID) (metadb.UncommittedRecording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.heap {
		if item.rec.Recording.CompositeID == id {
			return item.rec, true
		}
	}
	return metadb.UncommittedRecording{}, false
}

// PendingForStream returns every closed-but-not-yet-committed recording
// for streamID, in no particular order, for the recordings-listing
// endpoint's "firstUncommitted" disambiguation.
func (s *Scheduler) PendingForStream(streamID clock.StreamID) []metadb.UncommittedRecording {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []metadb.UncommittedRecording
	for _, item := range s.heap {
		if item.streamID == streamID {
			out = append(out, item.rec)
		}
	}
	return out
}

// Stopped reports whether the scheduler has entered graceful-stop mode
// after a fatal commit error: it refuses new writes while reads continue
// elsewhere.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Run processes deadlines until ctx is canceled. It is meant to run in
// its own goroutine for the lifetime of the process.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		wait := s.nextWait()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}

		if s.Stopped() {
			continue
		}
		if err := s.flushOnce(ctx); err != nil {
			if s.log != nil {
				s.log.Component("flush").Warn().Err(err).Msg("flush failed; backing off")
			}
			continue
		}
	}
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backoff > 0 {
		return s.backoff
	}
	if s.heap.Len() == 0 {
		return time.Second
	}
	d := s.heap[0].deadline.Sub(s.clk.Now())
	if d < 0 {
		return 0
	}
	return d
}

// flushOnce performs at most one flush transaction: every item whose
// deadline has elapsed, plus everything if the watermark is exceeded.
func (s *Scheduler) flushOnce(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	now := s.clk.Now()
	overWatermark := s.heap.Len() > s.watermark
	var batch []metadb.UncommittedRecording
	var streamIDs []clock.StreamID
	for s.heap.Len() > 0 && (overWatermark || !s.heap[0].deadline.After(now)) {
		item := heap.Pop(&s.heap).(*pendingItem)
		batch = append(batch, item.rec)
		streamIDs = append(streamIDs, item.streamID)
	}
	addThisFlush := s.garbageAdded
	s.garbageAdded = nil
	removeThisFlush := s.garbageRemoved
	s.garbageRemoved = nil
	s.mu.Unlock()

	if len(batch) == 0 && len(addThisFlush) == 0 && len(removeThisFlush) == 0 {
		return nil
	}

	err := s.store.CommitBatch(ctx, batch, addThisFlush, removeThisFlush)
	if err != nil {
		s.mu.Lock()
		// Uncommitted state persists in memory: put everything back.
		for i, rec := range batch {
			heap.Push(&s.heap, &pendingItem{streamID: streamIDs[i], rec: rec, deadline: now})
		}
		s.garbageAdded = append(addThisFlush, s.garbageAdded...)
		s.garbageRemoved = append(removeThisFlush, s.garbageRemoved...)

		if storage.Is(err, storage.KindCorrupt) || storage.Is(err, storage.KindQuota) {
			s.stopped = true
			s.mu.Unlock()
			return err
		}
		if s.backoff == 0 {
			s.backoff = minBackoff
		} else {
			s.backoff *= 2
			if s.backoff > maxBackoff {
				s.backoff = maxBackoff
			}
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.backoff = 0
	s.mu.Unlock()

	for i, rec := range batch {
		if s.notifier != nil {
			s.notifier.RecordingCommitted(streamIDs[i], rec.Recording.CompositeID)
		}
	}

	var unlinked []metadb.GarbageEntry
	for _, g := range addThisFlush {
		dir, err := s.dirs.DirByID(g.DirID)
		if err != nil {
			continue // directory unavailable; the row stays in garbage and later flushes do not retry it
		}
		if err := dir.DeleteSampleFile(g.CompositeID); err != nil {
			continue
		}
		if err := dir.Sync(); err != nil {
			continue
		}
		unlinked = append(unlinked, g)
	}
	if len(unlinked) > 0 {
		s.mu.Lock()
		s.garbageRemoved = append(s.garbageRemoved, unlinked...)
		s.mu.Unlock()
		s.signal()
	}

	return nil
}
