package registry

import (
	"context"
	"sync"
)

// Memo caches successful lookups for the lifetime of a session so a CNPJ is
// never queried twice. Failed lookups are not cached.
type Memo struct {
	next Client

	mu    sync.Mutex
	cache map[string]Result
}

// NewMemo wraps next.
func NewMemo(next Client) *Memo {
	return &Memo{next: next, cache: make(map[string]Result)}
}

// Lookup returns the cached result or delegates to the wrapped client.
func (m *Memo) Lookup(ctx context.Context, cnpj string) Result {
	key := digits(cnpj)

	m.mu.Lock()
	r, ok := m.cache[key]
	m.mu.Unlock()
	if ok {
		return r
	}

	r = m.next.Lookup(ctx, key)
	if r.OK() {
		m.mu.Lock()
		m.cache[key] = r
		m.mu.Unlock()
	}
	return r
}

// Len returns the number of cached results.
func (m *Memo) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cache)
}

// Reset drops every cached result.
func (m *Memo) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.cache)
}
