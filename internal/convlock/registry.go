// Package convlock serializes work per conversation.
package convlock

import "sync"

// Registry maps conversation ids to mutexes. Entries are created on first use
// and live as long as the Registry.
type Registry struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{locks: map[string]*sync.Mutex{}}
}

// WithLock runs fn while holding the mutex of conversationID.
// The mutex is released on every exit path, panics included.
func (r *Registry) WithLock(conversationID string, fn func() error) error {
	m := r.lockFor(conversationID)
	m.Lock()
	defer m.Unlock()
	return fn()
}

// Len returns the number of conversations seen so far.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locks)
}

func (r *Registry) lockFor(conversationID string) *sync.Mutex {
	r.mu.RLock()
	m, ok := r.locks[conversationID]
	r.mu.RUnlock()
	if ok {
		return m
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.locks[conversationID]; ok {
		return m
	}
	m = &sync.Mutex{}
	r.locks[conversationID] = m
	return m
}
