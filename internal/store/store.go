package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Profile represents a registered identity.
type Profile struct {
	Identity     string
	DisplayName  string
	PasswordHash string
	LastSeen     *time.Time
	CreatedAt    time.Time
}

// Reaction is a single emoji reaction attached to a message.
type Reaction struct {
	Emoji     string
	By        string
	CreatedAt time.Time
}

// Message represents a persisted direct message.
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

// MessageUpdate describes a partial update of a message.
// Flags can only be raised; there is no way to clear Delivered or Read.
type MessageUpdate struct {
	MarkDelivered bool
	MarkRead      bool // implies MarkDelivered
	AddReaction   *Reaction
}

// Apply raises flags and appends reactions on msg in place.
func (u MessageUpdate) Apply(msg *Message) {
	if u.MarkDelivered || u.MarkRead {
		msg.Delivered = true
	}
	if u.MarkRead {
		msg.Read = true
	}
	if u.AddReaction != nil {
		msg.Reactions = append(msg.Reactions, *u.AddReaction)
	}
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a new message. The store assigns ID and, if
	// zero, CreatedAt. The passed message is updated in place.
	CreateMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID. Returns ErrNotFound if missing.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// UpdateMessage applies a partial update and returns the resulting message.
	UpdateMessage(ctx context.Context, id string, update MessageUpdate) (*Message, error)

	// DeleteMessage removes a message and its reactions.
	DeleteMessage(ctx context.Context, id string) error

	// ListConversation returns messages exchanged between a and b, newest first.
	// If beforeID is non-empty only messages older than it are returned.
	ListConversation(ctx context.Context, a, b string, limit int, beforeID string) ([]*Message, error)
}

// ProfileStore handles profile persistence.
type ProfileStore interface {
	// CreateProfile creates a new profile for identity.
	CreateProfile(ctx context.Context, identity, displayName, passwordHash string) (*Profile, error)

	// GetProfile retrieves a profile. Returns ErrNotFound if missing.
	GetProfile(ctx context.Context, identity string) (*Profile, error)

	// UpdateLastSeen records when identity was last online.
	UpdateLastSeen(ctx context.Context, identity string, at time.Time) error
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore
	ProfileStore

	// Close closes the underlying database.
	Close() error
}
