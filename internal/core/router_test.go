package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(st *memStore) (*Router, *Registry) {
	r := NewRegistry(nil)
	p := NewPresence(r, FanoutWatchers, nil, nil)
	if st == nil {
		return NewRouter(nil, r, p, nil, nil, time.Second, nil), r
	}
	return NewRouter(st, r, p, nil, nil, time.Second, nil), r
}

func TestRouterValidatesMessage(t *testing.T) {
	router, _ := newTestRouter(newMemStore())

	_, err := router.Route(context.Background(), Message{From: "alice", Body: "hi"})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = router.Route(context.Background(), Message{From: "alice", To: "bob"})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestRouterWithoutStore(t *testing.T) {
	router, _ := newTestRouter(nil)

	_, err := router.Route(context.Background(), Message{From: "alice", To: "bob", Body: "hi"})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, ErrCodePersistence, toCoreError("send_message", err).Code)
}

func TestRouterOutcomes(t *testing.T) {
	st := newMemStore()
	router, registry := newTestRouter(st)

	res, err := router.Route(context.Background(), Message{From: "alice", To: "bob", Body: "one"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, res.Outcome)
	assert.False(t, res.Acked)

	alice, bob := NewClient("a"), NewClient("b")
	registry.Bind("alice", alice)
	registry.Bind("bob", bob)

	res, err = router.Route(context.Background(), Message{From: "alice", To: "bob", Body: "two"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, res.Outcome)
	assert.True(t, res.Acked)
	assert.True(t, res.Message.Delivered)
	assert.Equal(t, "delivered", res.Outcome.String())

	received := <-bob.Events
	assert.Equal(t, EventMessageReceived, received.Kind)
	ack := <-alice.Events
	assert.Equal(t, EventDeliveryAck, ack.Kind)
	assert.Equal(t, res.Message.ID, ack.MessageID)
}

func TestRouterClosedRecipientFallsBackToStored(t *testing.T) {
	st := newMemStore()
	router, registry := newTestRouter(st)

	bob := NewClient("b")
	registry.Bind("bob", bob)
	bob.Close()

	res, err := router.Route(context.Background(), Message{From: "alice", To: "bob", Body: "late"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeStored, res.Outcome)
	assert.False(t, st.message(t, res.Message.ID).Delivered)
}

func TestRouterRelayTyping(t *testing.T) {
	router, registry := newTestRouter(newMemStore())

	assert.False(t, router.RelayTyping("alice", "bob", true))

	bob := NewClient("b")
	registry.Bind("bob", bob)
	assert.True(t, router.RelayTyping("alice", "bob", false))

	ev := <-bob.Events
	assert.Equal(t, EventTypingChanged, ev.Kind)
	assert.Equal(t, &TypingSignal{From: "alice", To: "bob", IsTyping: false}, ev.Typing)
}

func TestRouterReactionRequiresEmoji(t *testing.T) {
	router, _ := newTestRouter(newMemStore())

	_, err := router.AddReaction(context.Background(), "alice", "m1", "")
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = router.AddReaction(context.Background(), "alice", "m1", "🔥")
	assert.ErrorIs(t, err, ErrNotFound)
}
