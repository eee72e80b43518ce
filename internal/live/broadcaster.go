// Package live implements the live broadcaster: per-stream fan-out of
// GOP fragment descriptors to subscribers, with a bounded queue per
// subscriber and drop-oldest-and-mark-loss overflow handling.
package live

import (
	"sync"

	"github.com/moonfire-nvr/moonfire-nvr/internal/writer"
	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// defaultQueueDepth bounds how many fragment descriptors a slow
// subscriber can fall behind by before the broadcaster starts dropping.
const defaultQueueDepth = 4

// Fragment is delivered to a subscriber: the fragment descriptor offered
// by the writer, plus whether one or more earlier fragments were dropped
// to make room for it.
type Fragment struct {
	writer.FragmentDescriptor
	Dropped bool
}

// Subscription is a single subscriber's view onto one stream's live
// fragments. The zero value is not usable; obtain one from
// Broadcaster.Subscribe.
type Subscription struct {
	b        *Broadcaster
	streamID clock.StreamID
	ch       chan Fragment

	mu      sync.Mutex
	pending bool // a fragment was dropped since the last delivery
}

// C returns the channel on which fragments arrive. It is closed when the
// subscription is canceled via Close or the broadcaster is closed.
func (s *Subscription) C() <-chan Fragment {
	return s.ch
}

// Close cancels the subscription, releasing its place in the
// broadcaster's subscriber set.
func (s *Subscription) Close() {
	s.b.unsubscribe(s.streamID, s)
}

type streamBroadcast struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Broadcaster fans GOP fragment descriptors out to per-stream
// subscribers. It implements writer.LiveNotifier.
type Broadcaster struct {
	queueDepth int

	mu      sync.RWMutex
	streams map[clock.StreamID]*streamBroadcast
}

// New constructs a Broadcaster. queueDepth is the per-subscriber bound;
// 0 means defaultQueueDepth.
func New(queueDepth int) *Broadcaster {
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	return &Broadcaster{
		queueDepth: queueDepth,
		streams:    make(map[clock.StreamID]*streamBroadcast),
	}
}

func (b *Broadcaster) streamFor(streamID clock.StreamID) *streamBroadcast {
	b.mu.RLock()
	sb, ok := b.streams[streamID]
	b.mu.RUnlock()
	if ok {
		return sb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if sb, ok := b.streams[streamID]; ok {
		return sb
	}
	sb = &streamBroadcast{subs: make(map[*Subscription]struct{})}
	b.streams[streamID] = sb
	return sb
}

// Subscribe registers a new subscriber for streamID. A subscriber
// connecting mid-stream sees only fragments offered after this call.
func (b *Broadcaster) Subscribe(streamID clock.StreamID) *Subscription {
	sub := &Subscription{
		b:        b,
		streamID: streamID,
		ch:       make(chan Fragment, b.queueDepth),
	}
	sb := b.streamFor(streamID)
	sb.mu.Lock()
	sb.subs[sub] = struct{}{}
	sb.mu.Unlock()
	return sub
}

func (b *Broadcaster) unsubscribe(streamID clock.StreamID, sub *Subscription) {
	b.mu.RLock()
	sb, ok := b.streams[streamID]
	b.mu.RUnlock()
	if !ok {
		return
	}
	sb.mu.Lock()
	if _, ok := sb.subs[sub]; ok {
		delete(sb.subs, sub)
		close(sub.ch)
	}
	sb.mu.Unlock()
}

// GOPBoundary implements writer.LiveNotifier. It is called synchronously
// from the writer's goroutine each time a recording closes, so it must
// never block: a full subscriber queue gets its oldest entry dropped to make
// room, and the subscriber's next delivery carries Dropped = true.
func (b *Broadcaster) GOPBoundary(streamID clock.StreamID, frag writer.FragmentDescriptor) {
	b.mu.RLock()
	sb, ok := b.streams[streamID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	for sub := range sb.subs {
		b.offer(sub, Fragment{FragmentDescriptor: frag})
	}
}

// offer delivers f to sub's queue, dropping the oldest queued fragment
// and marking loss on the next successful delivery if the queue is full.
// Callers hold sb.mu.
func (b *Broadcaster) offer(sub *Subscription, f Fragment) {
	sub.mu.Lock()
	if sub.pending {
		f.Dropped = true
		sub.pending = false
	}
	sub.mu.Unlock()

	select {
	case sub.ch <- f:
		return
	default:
	}

	// Queue is full: drop the oldest entry and mark loss for whichever
	// fragment is delivered next.
	select {
	case <-sub.ch:
	default:
	}
	sub.mu.Lock()
	sub.pending = true
	sub.mu.Unlock()

	select {
	case sub.ch <- f:
	default:
		// Another goroutine drained concurrently; nothing more to do
		// since GOPBoundary calls for one stream are already
		// serialized by sb.mu.
	}
}

// Close terminates every subscription across every stream, closing their
// channels so `range`-ing readers observe completion. The broadcaster
// holds no durable state, so Close is immediate.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	streams := b.streams
	b.streams = make(map[clock.StreamID]*streamBroadcast)
	b.mu.Unlock()

	for _, sb := range streams {
		sb.mu.Lock()
		for sub := range sb.subs {
			close(sub.ch)
		}
		sb.subs = nil
		sb.mu.Unlock()
	}
}
