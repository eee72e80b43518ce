package writer

import (
	"sync"

	"github.com/moonfire-nvr/moonfire-nvr/pkg/clock"
)

// Registry tracks one Writer per stream so cross-cutting collaborators
// (retention's byte accounting, startup recovery) can look one up without
// threading every Writer through their constructors individually.
type Registry struct {
	mu      sync.RWMutex
	writers map[clock.StreamID]*Writer
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{writers: make(map[clock.StreamID]*Writer)}
}

// Put registers (or replaces) the Writer for streamID.
func (r *Registry) Put(streamID clock.StreamID, w *Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writers[streamID] = w
}

// Remove unregisters streamID, e.g. when its stream is reconfigured away.
func (r *Registry) Remove(streamID clock.StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.writers, streamID)
}

// GrowingRecordingBytes implements retention.GrowingBytes: it returns the
// byte size of streamID's currently-growing recording, or 0 if the stream
// has no registered writer or the writer is idle.
func (r *Registry) GrowingRecordingBytes(streamID clock.StreamID) int64 {
	r.mu.RLock()
	w, ok := r.writers[streamID]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return w.GrowingBytes()
}

// Growing implements playback's Overlay lookup for the currently-growing
// recording: it returns nil if streamID has no registered writer or the
// writer has nothing open.
func (r *Registry) Growing(streamID clock.StreamID) *GrowingSnapshot {
	r.mu.RLock()
	w, ok := r.writers[streamID]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return w.Growing()
}

// All returns every registered Writer, for shutdown sequencing.
func (r *Registry) All() []*Writer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Writer, 0, len(r.writers))
	for _, w := range r.writers {
		all = append(all, w)
	}
	return all
}
