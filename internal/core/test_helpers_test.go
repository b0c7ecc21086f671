package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// expectNoEvent fails if an event of kind arrives within wait.
func expectNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected %v event: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

func startHub(t *testing.T, st store.Store, opts ...Option) (*Hub, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	hub := NewHub(st, opts...)
	go hub.Run(ctx)
	return hub, cancel
}

// connectAs connects a new client and waits until it owns identity.
func connectAs(t *testing.T, hub *Hub, id, identity string) *Client {
	t.Helper()

	c := NewClient(id)
	if !hub.Connect(c) {
		t.Fatalf("hub refused connection %s", id)
	}
	c.Commands <- &Command{Kind: CommandRegister, Identity: identity}
	waitFor(t, func() bool { return hub.Registry().Owns(identity, c) })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

var errInjected = errors.New("injected store failure")

// memStore is an in-memory store.Store with failure injection.
type memStore struct {
	mu       sync.Mutex
	seq      int
	messages map[string]*store.Message
	order    []string
	profiles map[string]*store.Profile

	failCreate bool
	failUpdate bool
}

func newMemStore() *memStore {
	return &memStore{
		messages: make(map[string]*store.Message),
		profiles: make(map[string]*store.Profile),
	}
}

func (s *memStore) setFailCreate(v bool) {
	s.mu.Lock()
	s.failCreate = v
	s.mu.Unlock()
}

func (s *memStore) setFailUpdate(v bool) {
	s.mu.Lock()
	s.failUpdate = v
	s.mu.Unlock()
}

func (s *memStore) CreateMessage(_ context.Context, msg *store.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate {
		return errInjected
	}
	s.seq++
	msg.ID = fmt.Sprintf("m%d", s.seq)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	cp := *msg
	s.messages[msg.ID] = &cp
	s.order = append(s.order, msg.ID)
	return nil
}

func (s *memStore) GetMessage(_ context.Context, id string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	cp := *m
	cp.Reactions = append([]store.Reaction(nil), m.Reactions...)
	return &cp, nil
}

func (s *memStore) UpdateMessage(_ context.Context, id string, update store.MessageUpdate) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failUpdate {
		return nil, errInjected
	}
	m, ok := s.messages[id]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	update.Apply(m)
	cp := *m
	cp.Reactions = append([]store.Reaction(nil), m.Reactions...)
	return &cp, nil
}

func (s *memStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[id]; !ok {
		return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	delete(s.messages, id)
	return nil
}

func (s *memStore) ListConversation(_ context.Context, a, b string, limit int, _ string) ([]*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*store.Message
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		m, ok := s.messages[s.order[i]]
		if !ok {
			continue
		}
		if (m.From == a && m.To == b) || (m.From == b && m.To == a) {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) CreateProfile(_ context.Context, identity, displayName, passwordHash string) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &store.Profile{Identity: identity, DisplayName: displayName, PasswordHash: passwordHash, CreatedAt: time.Now()}
	s.profiles[identity] = p
	cp := *p
	return &cp, nil
}

func (s *memStore) GetProfile(_ context.Context, identity string) (*store.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[identity]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", identity, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) UpdateLastSeen(_ context.Context, identity string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[identity]
	if !ok {
		return fmt.Errorf("profile %s: %w", identity, store.ErrNotFound)
	}
	p.LastSeen = &at
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) message(t *testing.T, id string) *store.Message {
	t.Helper()

	m, err := s.GetMessage(context.Background(), id)
	if err != nil {
		t.Fatalf("get message %s: %v", id, err)
	}
	return m
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
