package sampledir

import (
	"fmt"
	"sync"
)

// Registry owns every open *Dir for the process's lifetime, keyed by the
// sample_file_dir database row id, so collaborators that only know a
// directory by that id (the flush scheduler, the MP4 builder, startup
// recovery) can resolve a handle without threading *Dir through every
// constructor.
type Registry struct {
	mu   sync.RWMutex
	dirs map[int64]*Dir
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{dirs: make(map[int64]*Dir)}
}

// Put registers an already-open directory under its database row id.
func (r *Registry) Put(id int64, d *Dir) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs[id] = d
}

// DirByID implements flush.DirResolver and mp4.DirLocator.
func (r *Registry) DirByID(id int64) (*Dir, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dirs[id]
	if !ok {
		return nil, fmt.Errorf("sampledir: no directory registered for id %d", id)
	}
	return d, nil
}

// All returns every registered directory, for deterministic teardown
// ordering.
func (r *Registry) All() []*Dir {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Dir, 0, len(r.dirs))
	for _, d := range r.dirs {
		out = append(out, d)
	}
	return out
}

// Close closes every registered directory, releasing its advisory lock.
// It keeps closing the rest even if one fails, returning the first error
// seen.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, d := range r.dirs {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
