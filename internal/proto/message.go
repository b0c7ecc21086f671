package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeRegister      = "register"
	InboundTypeSendMessage   = "send_message"
	InboundTypeMarkRead      = "mark_read"
	InboundTypeTyping        = "typing"
	InboundTypeAddReaction   = "add_reaction"
	InboundTypeDeleteMessage = "delete_message"
	InboundTypeQueryPresence = "query_presence"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"
)

// RegisterData binds the connection to an identity.
type RegisterData struct {
	Identity string `json:"identity"`
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// SendMessageData is a direct message from the client.
type SendMessageData struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// MessageRefData references a stored message.
type MessageRefData struct {
	MessageID string `json:"message_id"`
}

// TypingData carries a typing indicator.
type TypingData struct {
	To       string `json:"to"`
	IsTyping bool   `json:"is_typing"`
}

// ReactionData attaches an emoji to a message.
type ReactionData struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

// QueryPresenceData asks for an identity's presence.
type QueryPresenceData struct {
	Identity string `json:"identity"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Reaction is an emoji attached to a message.
type Reaction struct {
	Emoji string `json:"emoji"`
	By    string `json:"by"`
	TS    int64  `json:"ts"`
}

// EventMessage carries a direct message. Used by message_received,
// message_updated and the history endpoint.
type EventMessage struct {
	ID        string     `json:"id"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Body      string     `json:"body"`
	TS        int64      `json:"ts"`
	Delivered bool       `json:"delivered"`
	Read      bool       `json:"read"`
	Reactions []Reaction `json:"reactions,omitempty"`
}

// EventMessageRef is sent for delivery_ack, read_receipt and message_deleted.
type EventMessageRef struct {
	MessageID string `json:"message_id"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

// EventPresence is sent for presence_changed and presence_status.
// LastSeen is a unix timestamp in milliseconds.
type EventPresence struct {
	Identity string `json:"identity"`
	Online   bool   `json:"online"`
	LastSeen *int64 `json:"last_seen,omitempty"`
}

// EventTyping relays a typing indicator.
type EventTyping struct {
	From     string `json:"from"`
	IsTyping bool   `json:"is_typing"`
}

// EventProfile is the profile snapshot sent after register.
type EventProfile struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name,omitempty"`
	LastSeen    *int64 `json:"last_seen,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code    string `json:"code"`
	Msg     string `json:"msg"`
	Context string `json:"context,omitempty"`
}
