package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirerelay-server/internal/core"
	"github.com/vovakirdan/wirerelay-server/internal/proto"
	"github.com/vovakirdan/wirerelay-server/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// RelayHandlers serves conversation history and presence lookups.
type RelayHandlers struct {
	hub          *core.Hub
	messages     store.MessageStore
	storeTimeout time.Duration
	log          *zerolog.Logger
}

// NewRelayHandlers creates a new relay handlers instance.
func NewRelayHandlers(hub *core.Hub, messages store.MessageStore, storeTimeout time.Duration, logger *zerolog.Logger) *RelayHandlers {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &RelayHandlers{
		hub:          hub,
		messages:     messages,
		storeTimeout: storeTimeout,
		log:          logger,
	}
}

// HistoryResponse is a page of a conversation, newest first.
type HistoryResponse struct {
	Messages []proto.EventMessage `json:"messages"`
	// Next is the cursor for the following page, empty on the last page.
	Next string `json:"next,omitempty"`
}

// History returns the conversation between the caller and another identity.
// GET /api/messages?with=identity&limit=50&before=message_id
func (h *RelayHandlers) History(c *gin.Context) {
	self, ok := identityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	with, err := core.NormalizeIdentity(c.Query("with"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "with must be a valid identity"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.storeTimeout)
	defer cancel()

	msgs, err := h.messages.ListConversation(ctx, self, with, limit, c.Query("before"))
	if err != nil {
		h.log.Error().Err(err).Str("identity", self).Str("with", with).Msg("failed to list conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := HistoryResponse{Messages: make([]proto.EventMessage, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, storedMessageToProto(m))
	}
	if len(msgs) == limit {
		resp.Next = msgs[len(msgs)-1].ID
	}
	c.JSON(http.StatusOK, resp)
}

// Presence returns whether an identity is online and when it was last seen.
// GET /api/presence/:identity
func (h *RelayHandlers) Presence(c *gin.Context) {
	identity, err := core.NormalizeIdentity(c.Param("identity"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid identity"})
		return
	}

	status := h.hub.PresenceStatus(c.Request.Context(), identity)
	c.JSON(http.StatusOK, presenceToProto(status))
}

func storedMessageToProto(m *store.Message) proto.EventMessage {
	out := proto.EventMessage{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Body:      m.Body,
		TS:        m.CreatedAt.UnixMilli(),
		Delivered: m.Delivered,
		Read:      m.Read,
	}
	for _, r := range m.Reactions {
		out.Reactions = append(out.Reactions, proto.Reaction{Emoji: r.Emoji, By: r.By, TS: r.CreatedAt.UnixMilli()})
	}
	return out
}
