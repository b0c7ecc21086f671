package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/metrics"
)

// FanoutMode selects who receives presence transitions.
type FanoutMode string

const (
	// FanoutWatchers delivers an identity's presence only to sessions watching it.
	FanoutWatchers FanoutMode = "watchers"
	// FanoutBroadcast delivers presence to every other live session.
	FanoutBroadcast FanoutMode = "broadcast"
)

// ParseFanoutMode parses a configuration value. Empty means FanoutWatchers.
func ParseFanoutMode(s string) (FanoutMode, error) {
	switch FanoutMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FanoutWatchers:
		return FanoutWatchers, nil
	case FanoutBroadcast:
		return FanoutBroadcast, nil
	default:
		return "", fmt.Errorf("unknown presence fanout %q", s)
	}
}

// PresenceObserver is notified of every announced transition after fan-out.
type PresenceObserver interface {
	PresenceChanged(ev PresenceEvent)
}

// Presence derives and publishes online/offline transitions.
type Presence struct {
	registry *Registry
	mode     FanoutMode
	log      *zerolog.Logger
	metrics  *metrics.Metrics

	mu        sync.Mutex
	watchers  map[string]map[*Client]struct{} // watched identity -> watching handles
	watching  map[*Client]map[string]struct{} // handle -> watched identities
	observers []PresenceObserver
}

// NewPresence creates a publisher on top of registry.
func NewPresence(registry *Registry, mode FanoutMode, logger *zerolog.Logger, m *metrics.Metrics) *Presence {
	if mode == "" {
		mode = FanoutWatchers
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Presence{
		registry: registry,
		mode:     mode,
		log:      logger,
		metrics:  m,
		watchers: make(map[string]map[*Client]struct{}),
		watching: make(map[*Client]map[string]struct{}),
	}
}

// Mode returns the configured fan-out mode.
func (p *Presence) Mode() FanoutMode {
	return p.mode
}

// AddObserver registers an observer. Not safe to call concurrently with announcements.
func (p *Presence) AddObserver(o PresenceObserver) {
	p.mu.Lock()
	p.observers = append(p.observers, o)
	p.mu.Unlock()
}

// Watch subscribes c to presence transitions of identity.
func (p *Presence) Watch(c *Client, identity string) {
	if identity == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.watchers[identity]
	if !ok {
		set = make(map[*Client]struct{})
		p.watchers[identity] = set
	}
	set[c] = struct{}{}

	ids, ok := p.watching[c]
	if !ok {
		ids = make(map[string]struct{})
		p.watching[c] = ids
	}
	ids[identity] = struct{}{}
}

// Forget drops every watch held by c.
func (p *Presence) Forget(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for identity := range p.watching[c] {
		if set, ok := p.watchers[identity]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(p.watchers, identity)
			}
		}
	}
	delete(p.watching, c)
}

// AnnounceOnline publishes {identity, online, no last-seen}.
func (p *Presence) AnnounceOnline(identity string) {
	p.publish(PresenceEvent{Identity: identity, Online: true})
}

// AnnounceOffline publishes {identity, offline, lastSeen}.
func (p *Presence) AnnounceOffline(identity string, lastSeen time.Time) {
	p.publish(PresenceEvent{Identity: identity, Online: false, LastSeen: &lastSeen})
}

// QueryStatus answers whether identity currently has a live session.
// The answer goes only to the caller.
func (p *Presence) QueryStatus(identity string) PresenceEvent {
	if _, ok := p.registry.Lookup(identity); ok {
		return PresenceEvent{Identity: identity, Online: true}
	}
	ev := PresenceEvent{Identity: identity}
	if t, ok := p.registry.LastSeen(identity); ok {
		ev.LastSeen = &t
	}
	return ev
}

func (p *Presence) publish(ev PresenceEvent) {
	recipients, observers := p.recipients(ev.Identity)

	event := &Event{Kind: EventPresenceChanged, Presence: &ev}
	delivered := 0
	for _, c := range recipients {
		if c.send(event) {
			delivered++
		} else {
			p.metrics.EventDropped()
		}
	}

	p.metrics.Presence(ev.Online)
	p.log.Debug().
		Str("identity", ev.Identity).
		Bool("online", ev.Online).
		Int("recipients", delivered).
		Msg("presence changed")

	for _, o := range observers {
		o.PresenceChanged(ev)
	}
}

func (p *Presence) recipients(identity string) ([]*Client, []PresenceObserver) {
	var out []*Client
	if p.mode == FanoutBroadcast {
		for _, c := range p.registry.Clients() {
			if c.Identity() == identity {
				continue
			}
			out = append(out, c)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == FanoutWatchers {
		for c := range p.watchers[identity] {
			if c.Identity() == identity {
				continue
			}
			out = append(out, c)
		}
	}
	observers := append([]PresenceObserver(nil), p.observers...)
	return out, observers
}
