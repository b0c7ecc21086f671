package core

import (
	"time"

	"github.com/vovakirdan/wirerelay-server/internal/store"
)

// Reaction is an emoji attached to a message.
type Reaction struct {
	Emoji     string
	By        string
	CreatedAt time.Time
}

// Message is the domain model for a direct message.
type Message struct {
	ID        string
	From      string
	To        string
	Body      string
	CreatedAt time.Time
	Delivered bool
	Read      bool
	Reactions []Reaction
}

// Counterpart returns the other participant of the message as seen by identity.
func (m Message) Counterpart(identity string) string {
	if m.From == identity {
		return m.To
	}
	return m.From
}

// HasParticipant reports whether identity sent or received the message.
func (m Message) HasParticipant(identity string) bool {
	return m.From == identity || m.To == identity
}

func messageFromStore(sm *store.Message) Message {
	msg := Message{
		ID:        sm.ID,
		From:      sm.From,
		To:        sm.To,
		Body:      sm.Body,
		CreatedAt: sm.CreatedAt,
		Delivered: sm.Delivered,
		Read:      sm.Read,
	}
	for _, r := range sm.Reactions {
		msg.Reactions = append(msg.Reactions, Reaction{Emoji: r.Emoji, By: r.By, CreatedAt: r.CreatedAt})
	}
	return msg
}
