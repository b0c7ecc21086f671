package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/metrics"
	"github.com/vovakirdan/wirerelay-server/internal/store"
)

var errNoStore = fmt.Errorf("%w: no message store configured", ErrPersistence)

// DeliveryOutcome is the result of routing a persisted message.
type DeliveryOutcome int

const (
	// OutcomeStored means the message is persisted but the recipient was not
	// live; it stays undelivered until fetched from history.
	OutcomeStored DeliveryOutcome = iota
	// OutcomeDelivered means the recipient's connection accepted the message
	// and the delivered flag is persisted.
	OutcomeDelivered
)

func (o DeliveryOutcome) String() string {
	if o == OutcomeDelivered {
		return "delivered"
	}
	return "stored"
}

// DeliveryResult describes a routed message.
type DeliveryResult struct {
	Message Message
	Outcome DeliveryOutcome
	// Acked reports whether a delivery_ack reached a live sender session.
	Acked bool
}

// persisted is a message the store has accepted. Only Router.persist
// produces it, so nothing can be forwarded before it is durable.
type persisted struct {
	msg Message
}

// delivered is a forwarded message whose delivered flag is durable. Only
// Router.markDelivered produces it, so no ack precedes the flag update.
type delivered struct {
	msg Message
}

// Router persists messages and forwards them to live recipients.
type Router struct {
	store        store.MessageStore
	registry     *Registry
	presence     *Presence
	log          *zerolog.Logger
	metrics      *metrics.Metrics
	storeTimeout time.Duration
	now          func() time.Time
}

// NewRouter builds a router. storeTimeout bounds every store call.
func NewRouter(st store.MessageStore, registry *Registry, presence *Presence, logger *zerolog.Logger, m *metrics.Metrics, storeTimeout time.Duration, now func() time.Time) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Router{
		store:        st,
		registry:     registry,
		presence:     presence,
		log:          logger,
		metrics:      m,
		storeTimeout: storeTimeout,
		now:          now,
	}
}

// Route persists msg, then forwards it to the recipient if live, marks it
// delivered and acknowledges the sender. A missing recipient is not an error.
func (r *Router) Route(ctx context.Context, msg Message) (DeliveryResult, error) {
	if msg.From == "" || msg.To == "" {
		return DeliveryResult{}, fmt.Errorf("%w: sender and recipient are required", ErrBadRequest)
	}
	if msg.Body == "" {
		return DeliveryResult{}, fmt.Errorf("%w: body is required", ErrBadRequest)
	}

	p, err := r.persist(ctx, msg)
	if err != nil {
		r.metrics.MessageRouted("failed")
		return DeliveryResult{}, err
	}

	if !r.forward(p) {
		r.metrics.MessageRouted(OutcomeStored.String())
		r.log.Debug().Str("message_id", p.msg.ID).Str("to", p.msg.To).Msg("recipient offline, message stored")
		return DeliveryResult{Message: p.msg, Outcome: OutcomeStored}, nil
	}

	d, err := r.markDelivered(ctx, p)
	if err != nil {
		r.metrics.MessageRouted("failed")
		return DeliveryResult{Message: p.msg, Outcome: OutcomeStored}, err
	}

	acked := r.ack(d)
	r.metrics.MessageRouted(OutcomeDelivered.String())
	return DeliveryResult{Message: d.msg, Outcome: OutcomeDelivered, Acked: acked}, nil
}

func (r *Router) persist(ctx context.Context, msg Message) (persisted, error) {
	if r.store == nil {
		return persisted{}, errNoStore
	}
	sm := &store.Message{From: msg.From, To: msg.To, Body: msg.Body, CreatedAt: msg.CreatedAt}
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = r.now()
	}

	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	if err := r.store.CreateMessage(sctx, sm); err != nil {
		return persisted{}, r.storeErr("create_message", err)
	}
	return persisted{msg: messageFromStore(sm)}, nil
}

// forward looks the recipient up at call time, never from a cached handle,
// so a recipient that disconnected mid-route falls into the offline branch.
func (r *Router) forward(p persisted) bool {
	recipient, ok := r.registry.Lookup(p.msg.To)
	if !ok {
		return false
	}
	if !recipient.send(&Event{Kind: EventMessageReceived, Message: p.msg}) {
		r.metrics.EventDropped()
		r.log.Warn().Str("message_id", p.msg.ID).Str("client_id", recipient.ID).Msg("recipient buffer full, message left undelivered")
		return false
	}
	if r.presence != nil {
		r.presence.Watch(recipient, p.msg.From)
	}
	return true
}

func (r *Router) markDelivered(ctx context.Context, p persisted) (delivered, error) {
	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	sm, err := r.store.UpdateMessage(sctx, p.msg.ID, store.MessageUpdate{MarkDelivered: true})
	if err != nil {
		return delivered{}, r.storeErr("mark_delivered", err)
	}
	return delivered{msg: messageFromStore(sm)}, nil
}

func (r *Router) ack(d delivered) bool {
	sender, ok := r.registry.Lookup(d.msg.From)
	if !ok {
		return false
	}
	if !sender.send(&Event{Kind: EventDeliveryAck, MessageID: d.msg.ID, Message: d.msg}) {
		r.metrics.EventDropped()
		return false
	}
	return true
}

// MarkRead marks a message read by its recipient and sends a read receipt to
// the sender if live. Marking an already-read message is a no-op.
func (r *Router) MarkRead(ctx context.Context, reader, messageID string) (Message, error) {
	msg, err := r.load(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if msg.To != reader {
		return Message{}, fmt.Errorf("%w: only the recipient can mark a message read", ErrForbidden)
	}
	if msg.Read {
		return msg, nil
	}

	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	sm, err := r.store.UpdateMessage(sctx, messageID, store.MessageUpdate{MarkRead: true})
	if err != nil {
		return Message{}, r.storeErr("mark_read", err)
	}
	updated := messageFromStore(sm)

	r.metrics.ReadReceipt()
	if sender, ok := r.registry.Lookup(updated.From); ok {
		if !sender.send(&Event{Kind: EventReadReceipt, MessageID: updated.ID, Message: updated}) {
			r.metrics.EventDropped()
		}
	}
	return updated, nil
}

// AddReaction appends an emoji to a message and pushes the updated message
// to every live participant.
func (r *Router) AddReaction(ctx context.Context, actor, messageID, emoji string) (Message, error) {
	if emoji == "" {
		return Message{}, fmt.Errorf("%w: emoji is required", ErrBadRequest)
	}

	msg, err := r.load(ctx, messageID)
	if err != nil {
		return Message{}, err
	}
	if !msg.HasParticipant(actor) {
		return Message{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}

	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	sm, err := r.store.UpdateMessage(sctx, messageID, store.MessageUpdate{
		AddReaction: &store.Reaction{Emoji: emoji, By: actor, CreatedAt: r.now()},
	})
	if err != nil {
		return Message{}, r.storeErr("add_reaction", err)
	}
	updated := messageFromStore(sm)

	r.notifyParticipants(updated, &Event{Kind: EventMessageUpdated, MessageID: updated.ID, Message: updated})
	return updated, nil
}

// Delete removes a message and notifies every live participant.
func (r *Router) Delete(ctx context.Context, actor, messageID string) error {
	msg, err := r.load(ctx, messageID)
	if err != nil {
		return err
	}
	if !msg.HasParticipant(actor) {
		return fmt.Errorf("%w: not a participant", ErrForbidden)
	}

	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	if err := r.store.DeleteMessage(sctx, messageID); err != nil {
		return r.storeErr("delete_message", err)
	}

	r.notifyParticipants(msg, &Event{Kind: EventMessageDeleted, MessageID: msg.ID})
	return nil
}

// RelayTyping forwards a typing indicator if the recipient is live.
// Otherwise the signal is dropped; it is never queued or persisted.
func (r *Router) RelayTyping(from, to string, isTyping bool) bool {
	relayed := false
	if recipient, ok := r.registry.Lookup(to); ok {
		relayed = recipient.send(&Event{
			Kind:   EventTypingChanged,
			Typing: &TypingSignal{From: from, To: to, IsTyping: isTyping},
		})
	}
	r.metrics.Typing(relayed)
	return relayed
}

func (r *Router) notifyParticipants(msg Message, ev *Event) {
	identities := []string{msg.From}
	if msg.To != msg.From {
		identities = append(identities, msg.To)
	}
	for _, identity := range identities {
		c, ok := r.registry.Lookup(identity)
		if !ok {
			continue
		}
		if !c.send(ev) {
			r.metrics.EventDropped()
		}
	}
}

func (r *Router) load(ctx context.Context, messageID string) (Message, error) {
	if messageID == "" {
		return Message{}, fmt.Errorf("%w: message_id is required", ErrBadRequest)
	}
	if r.store == nil {
		return Message{}, errNoStore
	}

	sctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()
	sm, err := r.store.GetMessage(sctx, messageID)
	if err != nil {
		return Message{}, r.storeErr("get_message", err)
	}
	return messageFromStore(sm), nil
}

func (r *Router) storeErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	r.metrics.StoreError(op)
	r.log.Error().Err(err).Str("op", op).Msg("store operation failed")
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
