package pebblestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wirerelay-server/internal/store"
)

func newTestStore(t *testing.T) *PebbleStore {
	t.Helper()

	s, err := NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMessageLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := &store.Message{From: "+100", To: "+200", Body: "hi"}
	require.NoError(t, s.CreateMessage(ctx, msg))
	require.NotEmpty(t, msg.ID)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Body)
	assert.False(t, got.Delivered)

	got, err = s.UpdateMessage(ctx, msg.ID, store.MessageUpdate{MarkDelivered: true})
	require.NoError(t, err)
	assert.True(t, got.Delivered)
	assert.False(t, got.Read)

	got, err = s.UpdateMessage(ctx, msg.ID, store.MessageUpdate{
		MarkRead:    true,
		AddReaction: &store.Reaction{Emoji: "❤️", By: "+200"},
	})
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.True(t, got.Delivered)
	require.Len(t, got.Reactions, 1)
	assert.Equal(t, "❤️", got.Reactions[0].Emoji)

	require.NoError(t, s.DeleteMessage(ctx, msg.ID))
	_, err = s.GetMessage(ctx, msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.ListConversation(ctx, "+100", "+200", 10, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListConversationOrderAndCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i, pair := range [][2]string{{"a", "b"}, {"b", "a"}, {"a", "c"}, {"a", "b"}} {
		msg := &store.Message{From: pair[0], To: pair[1], Body: string(rune('1' + i))}
		require.NoError(t, s.CreateMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	list, err := s.ListConversation(ctx, "b", "a", 10, "")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"4", "2", "1"}, bodies(list))

	list, err = s.ListConversation(ctx, "a", "b", 1, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"4"}, bodies(list))

	list, err = s.ListConversation(ctx, "a", "b", 10, ids[3])
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "1"}, bodies(list))
}

func TestProfiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "+100")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CreateProfile(ctx, "+100", "Alice", "hash")
	require.NoError(t, err)
	_, err = s.CreateProfile(ctx, "+100", "Alice again", "hash")
	assert.Error(t, err)

	at := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	require.NoError(t, s.UpdateLastSeen(ctx, "+100", at))

	p, err := s.GetProfile(ctx, "+100")
	require.NoError(t, err)
	require.NotNil(t, p.LastSeen)
	assert.True(t, p.LastSeen.Equal(at))
	assert.Equal(t, "Alice", p.DisplayName)

	assert.ErrorIs(t, s.UpdateLastSeen(ctx, "+404", at), store.ErrNotFound)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("ab"), prefixEnd([]byte("aa")))
	assert.Equal(t, []byte("b"), prefixEnd([]byte("a\xff")))
	assert.Nil(t, prefixEnd([]byte("\xff\xff")))
}

func bodies(msgs []*store.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Body)
	}
	return out
}
