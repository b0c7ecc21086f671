package core

import (
	"sync"
	"time"
)

// Registry maps identities to live connection handles.
//
// At most one handle is bound to an identity; a later Bind wins. Unbind is
// keyed by handle, so a superseded connection closing late never evicts the
// session that replaced it. The registry performs no I/O and emits no events.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Client // identity -> handle
	owners   map[*Client]string // handle -> identity
	lastSeen map[string]time.Time
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*Client),
		owners:   make(map[*Client]string),
		lastSeen: make(map[string]time.Time),
		now:      now,
	}
}

// Bind associates identity with c and returns the handle it replaced, if any.
// The replaced handle is abandoned, not closed. If c was bound to a different
// identity, that binding is dropped.
func (r *Registry) Bind(identity string, c *Client) (superseded *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[c]; ok && prev != identity {
		if r.sessions[prev] == c {
			delete(r.sessions, prev)
		}
	}

	if old, ok := r.sessions[identity]; ok && old != c {
		delete(r.owners, old)
		superseded = old
	}

	r.sessions[identity] = c
	r.owners[c] = identity
	r.lastSeen[identity] = r.now()
	return superseded
}

// Unbind removes the session owned by c and returns the freed identity.
// Unknown or superseded handles are a no-op.
func (r *Registry) Unbind(c *Client) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.owners[c]
	if !ok {
		return "", false
	}
	delete(r.owners, c)

	if r.sessions[identity] != c {
		return "", false
	}
	delete(r.sessions, identity)
	return identity, true
}

// Lookup returns the live handle for identity.
func (r *Registry) Lookup(identity string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.sessions[identity]
	return c, ok
}

// Owns reports whether c is the current handle for identity.
func (r *Registry) Owns(identity string, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sessions[identity] == c
}

// TouchLastSeen records when identity was last seen. No live session is required.
func (r *Registry) TouchLastSeen(identity string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastSeen[identity] = t
}

// LastSeen returns the last recorded timestamp for identity.
func (r *Registry) LastSeen(identity string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.lastSeen[identity]
	return t, ok
}

// Clients returns a snapshot of all bound handles.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.sessions))
	for _, c := range r.sessions {
		out = append(out, c)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}
