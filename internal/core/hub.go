package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/metrics"
	"github.com/vovakirdan/wirerelay-server/internal/store"
)

const maxIdentityLen = 64

// Hub runs the session lifecycle of every connection:
// connect -> register -> commands* -> disconnect.
//
// Each connection gets one goroutine, so events of a single connection are
// handled in order while connections are served concurrently. The Registry
// is the only state shared between sessions.
type Hub struct {
	registry *Registry
	presence *Presence
	router   *Router
	profiles store.ProfileStore

	auth         Authenticator
	requireAuth  bool
	storeTimeout time.Duration
	now          func() time.Time
	log          *zerolog.Logger
	metrics      *metrics.Metrics

	connects chan *Client
	stopped  chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates a hub backed by st. A nil store is allowed; every
// persistence operation then fails with a persistence error.
func NewHub(st store.Store, opts ...Option) *Hub {
	o := hubOptions{
		fanout:       FanoutWatchers,
		storeTimeout: 5 * time.Second,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		nop := zerolog.Nop()
		o.logger = &nop
	}

	registry := NewRegistry(o.now)
	presence := NewPresence(registry, o.fanout, o.logger, o.metrics)
	for _, obs := range o.observers {
		presence.AddObserver(obs)
	}

	var (
		messages store.MessageStore
		profiles store.ProfileStore
	)
	if st != nil {
		messages = st
		profiles = st
	}

	return &Hub{
		registry:     registry,
		presence:     presence,
		router:       NewRouter(messages, registry, presence, o.logger, o.metrics, o.storeTimeout, o.now),
		profiles:     profiles,
		auth:         o.auth,
		requireAuth:  o.requireAuth,
		storeTimeout: o.storeTimeout,
		now:          o.now,
		log:          o.logger,
		metrics:      o.metrics,
		connects:     make(chan *Client),
		stopped:      make(chan struct{}),
	}
}

// Registry exposes the connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run accepts connections until ctx is cancelled, then waits for every
// session to close.
func (h *Hub) Run(ctx context.Context) {
	defer h.wg.Wait()
	defer close(h.stopped)

	for {
		select {
		case c := <-h.connects:
			h.wg.Add(1)
			go h.serve(ctx, c)
		case <-ctx.Done():
			return
		}
	}
}

// Connect starts a session for c in the Connected state. It reports false if
// the hub has stopped.
func (h *Hub) Connect(c *Client) bool {
	select {
	case h.connects <- c:
		return true
	case <-h.stopped:
		return false
	}
}

// Disconnect closes c's session. Safe to call more than once and in any state.
func (h *Hub) Disconnect(c *Client) {
	c.Close()
}

func (h *Hub) serve(ctx context.Context, c *Client) {
	defer h.wg.Done()
	defer h.closeSession(ctx, c)

	h.log.Debug().Str("client_id", c.ID).Msg("session connected")

	for {
		select {
		case cmd := <-c.Commands:
			if cmd != nil {
				h.handle(ctx, c, cmd)
			}
		case <-c.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// handle runs one command. Every failure becomes an error event for the
// client; nothing here ends the session.
func (h *Hub) handle(ctx context.Context, c *Client, cmd *Command) {
	op := cmd.Kind.String()
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error().Interface("panic", rec).Str("client_id", c.ID).Str("op", op).Msg("command handler panicked")
			h.fail(c, op, coreError(ErrCodeInternal, "internal error"))
		}
	}()

	var err error
	switch cmd.Kind {
	case CommandRegister:
		err = h.register(ctx, c, cmd.Identity, cmd.Token)
	case CommandQueryPresence:
		err = h.queryPresence(ctx, c, cmd.Identity)
	default:
		var identity string
		identity, err = h.sessionIdentity(c)
		if err == nil {
			err = h.dispatch(ctx, c, identity, cmd)
		}
	}

	if err != nil {
		h.fail(c, op, err)
	}
}

func (h *Hub) dispatch(ctx context.Context, c *Client, identity string, cmd *Command) error {
	switch cmd.Kind {
	case CommandSendMessage:
		to, err := normalizeIdentity(cmd.To)
		if err != nil {
			return err
		}
		h.presence.Watch(c, to)
		res, err := h.router.Route(ctx, Message{From: identity, To: to, Body: cmd.Body, CreatedAt: h.now()})
		if err != nil {
			return err
		}
		h.log.Debug().
			Str("message_id", res.Message.ID).
			Str("from", identity).
			Str("to", to).
			Stringer("outcome", res.Outcome).
			Msg("message routed")
		return nil
	case CommandMarkRead:
		_, err := h.router.MarkRead(ctx, identity, cmd.MessageID)
		return err
	case CommandTyping:
		to, err := normalizeIdentity(cmd.To)
		if err != nil {
			return err
		}
		h.router.RelayTyping(identity, to, cmd.IsTyping)
		return nil
	case CommandAddReaction:
		_, err := h.router.AddReaction(ctx, identity, cmd.MessageID, cmd.Emoji)
		return err
	case CommandDeleteMessage:
		return h.router.Delete(ctx, identity, cmd.MessageID)
	default:
		return fmt.Errorf("%w: unknown command", ErrBadRequest)
	}
}

// sessionIdentity returns the identity c currently owns. A session that was
// superseded by a later registration no longer acts for the identity.
func (h *Hub) sessionIdentity(c *Client) (string, error) {
	identity := c.Identity()
	if c.State() != StateRegistered || identity == "" {
		return "", fmt.Errorf("%w: register first", ErrNotRegistered)
	}
	if !h.registry.Owns(identity, c) {
		return "", fmt.Errorf("%w: session superseded by a newer registration", ErrNotRegistered)
	}
	return identity, nil
}

func (h *Hub) register(ctx context.Context, c *Client, rawIdentity, token string) error {
	identity, err := normalizeIdentity(rawIdentity)
	if err != nil {
		return err
	}
	if err := h.authenticate(identity, token); err != nil {
		return err
	}

	// Registering a different identity releases the old one explicitly so
	// observers do not see it online forever.
	if prev := c.Identity(); c.State() == StateRegistered && prev != identity {
		if freed, ok := h.registry.Unbind(c); ok {
			h.wentOffline(ctx, freed)
		}
	}

	superseded := h.registry.Bind(identity, c)
	c.setRegistered(identity)
	h.metrics.SetSessionsOnline(h.registry.Len())

	logEvent := h.log.Info().Str("identity", identity).Str("client_id", c.ID)
	if superseded != nil {
		logEvent = logEvent.Str("superseded_client_id", superseded.ID)
	}
	logEvent.Msg("identity registered")

	h.presence.AnnounceOnline(identity)
	h.sendProfileSnapshot(ctx, c, identity)
	return nil
}

func (h *Hub) authenticate(identity, token string) error {
	if h.auth == nil {
		return nil
	}
	if token == "" {
		if h.requireAuth {
			return fmt.Errorf("%w: token required", ErrUnauthorized)
		}
		return nil
	}

	tokenIdentity, err := h.auth.Authenticate(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if tokenIdentity != identity {
		return fmt.Errorf("%w: token was issued for another identity", ErrUnauthorized)
	}
	return nil
}

func (h *Hub) sendProfileSnapshot(ctx context.Context, c *Client, identity string) {
	if h.profiles == nil {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()
	p, err := h.profiles.GetProfile(sctx, identity)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.metrics.StoreError("get_profile")
			h.log.Warn().Err(err).Str("identity", identity).Msg("failed to load profile snapshot")
		}
		return
	}

	if !c.send(&Event{Kind: EventProfileSnapshot, Profile: profileFromStore(p)}) {
		h.metrics.EventDropped()
	}
}

func (h *Hub) queryPresence(ctx context.Context, c *Client, rawIdentity string) error {
	identity, err := normalizeIdentity(rawIdentity)
	if err != nil {
		return err
	}

	status := h.PresenceStatus(ctx, identity)
	h.presence.Watch(c, identity)
	if !c.send(&Event{Kind: EventPresenceStatus, Presence: &status}) {
		h.metrics.EventDropped()
	}
	return nil
}

// PresenceStatus answers whether identity is online. For offline identities
// the in-memory last-seen is used, falling back to the profile store.
func (h *Hub) PresenceStatus(ctx context.Context, identity string) PresenceEvent {
	status := h.presence.QueryStatus(identity)
	if status.Online || status.LastSeen != nil || h.profiles == nil {
		return status
	}

	sctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()
	if p, err := h.profiles.GetProfile(sctx, identity); err == nil && p.LastSeen != nil {
		lastSeen := *p.LastSeen
		status.LastSeen = &lastSeen
	}
	return status
}

// closeSession moves c to Closed. Offline presence is announced only if c
// still owned an identity; superseded or never-registered sessions are silent.
func (h *Hub) closeSession(ctx context.Context, c *Client) {
	c.Close()
	c.setClosed()
	h.presence.Forget(c)

	identity, ok := h.registry.Unbind(c)
	if !ok {
		h.log.Debug().Str("client_id", c.ID).Msg("session closed")
		return
	}
	h.metrics.SetSessionsOnline(h.registry.Len())
	h.log.Info().Str("identity", identity).Str("client_id", c.ID).Msg("identity disconnected")
	h.wentOffline(ctx, identity)
}

func (h *Hub) wentOffline(ctx context.Context, identity string) {
	lastSeen := h.now()
	h.registry.TouchLastSeen(identity, lastSeen)
	h.presence.AnnounceOffline(identity, lastSeen)

	if h.profiles == nil {
		return
	}
	// Last-seen must survive hub shutdown, which cancels ctx.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.storeTimeout)
	defer cancel()
	if err := h.profiles.UpdateLastSeen(sctx, identity, lastSeen); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.metrics.StoreError("update_last_seen")
		h.log.Warn().Err(err).Str("identity", identity).Msg("failed to persist last seen")
	}
}

func (h *Hub) fail(c *Client, op string, err error) {
	ce := toCoreError(op, err)
	h.log.Debug().Str("client_id", c.ID).Str("op", op).Str("code", ce.Code).Msg(ce.Message)
	if !c.send(&Event{Kind: EventError, Error: ce}) {
		h.metrics.EventDropped()
	}
}

func normalizeIdentity(raw string) (string, error) {
	identity := strings.TrimSpace(raw)
	if identity == "" {
		return "", fmt.Errorf("%w: identity is required", ErrBadRequest)
	}
	if len(identity) > maxIdentityLen {
		return "", fmt.Errorf("%w: identity too long", ErrBadRequest)
	}
	for _, r := range identity {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: identity contains control characters", ErrBadRequest)
		}
	}
	return identity, nil
}

// NormalizeIdentity trims and validates an identity string.
func NormalizeIdentity(raw string) (string, error) {
	return normalizeIdentity(raw)
}

func profileFromStore(p *store.Profile) *Profile {
	return &Profile{
		Identity:    p.Identity,
		DisplayName: p.DisplayName,
		LastSeen:    p.LastSeen,
		CreatedAt:   p.CreatedAt,
	}
}
