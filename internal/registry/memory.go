package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryRegistry keeps records in process. It backs tests and single host
// setups.
type MemoryRegistry struct {
	mu       sync.RWMutex
	records  map[string][]byte
	children map[string]map[string]struct{}
	closed   bool
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records:  make(map[string][]byte),
		children: make(map[string]map[string]struct{}),
	}
}

func (r *MemoryRegistry) Children(ctx context.Context, p string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	set := r.children[Clean(p)]
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *MemoryRegistry) Get(ctx context.Context, p string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}
	data, ok := r.records[Clean(p)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (r *MemoryRegistry) Set(ctx context.Context, p string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	p = Clean(p)
	r.records[p] = append([]byte(nil), data...)

	parent, name := split(p)
	if r.children[parent] == nil {
		r.children[parent] = make(map[string]struct{})
	}
	r.children[parent][name] = struct{}{}
	return nil
}

func (r *MemoryRegistry) Delete(ctx context.Context, p string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	p = Clean(p)
	delete(r.records, p)
	parent, name := split(p)
	delete(r.children[parent], name)
	return nil
}

func (r *MemoryRegistry) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	return nil
}

func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}
