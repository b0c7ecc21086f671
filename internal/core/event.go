package core

import "time"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventProfileSnapshot delivers the registering identity's profile.
	EventProfileSnapshot EventKind = iota
	// EventMessageReceived forwards a message to its recipient.
	EventMessageReceived
	// EventDeliveryAck tells the sender a message reached a live recipient.
	EventDeliveryAck
	// EventReadReceipt tells the sender the recipient read a message.
	EventReadReceipt
	// EventPresenceChanged announces an online/offline transition.
	EventPresenceChanged
	// EventPresenceStatus answers a presence query.
	EventPresenceStatus
	// EventTypingChanged relays a typing indicator.
	EventTypingChanged
	// EventMessageUpdated carries a message whose reactions changed.
	EventMessageUpdated
	// EventMessageDeleted notifies participants that a message was deleted.
	EventMessageDeleted
	// EventError notifies clients about a failed operation.
	EventError
)

var eventKindNames = map[EventKind]string{
	EventProfileSnapshot: "profile_snapshot",
	EventMessageReceived: "message_received",
	EventDeliveryAck:     "delivery_ack",
	EventReadReceipt:     "read_receipt",
	EventPresenceChanged: "presence_changed",
	EventPresenceStatus:  "presence_status",
	EventTypingChanged:   "typing_changed",
	EventMessageUpdated:  "message_updated",
	EventMessageDeleted:  "message_deleted",
	EventError:           "error",
}

func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind      EventKind
	Message   Message
	MessageID string
	Presence  *PresenceEvent
	Typing    *TypingSignal
	Profile   *Profile
	Error     *CoreError
}

// PresenceEvent is a transient online/offline notification. Never persisted.
type PresenceEvent struct {
	Identity string
	Online   bool
	LastSeen *time.Time
}

// TypingSignal is a transient typing indicator. Never persisted.
type TypingSignal struct {
	From     string
	To       string
	IsTyping bool
}

// Profile is the public part of a stored profile.
type Profile struct {
	Identity    string
	DisplayName string
	LastSeen    *time.Time
	CreatedAt   time.Time
}
