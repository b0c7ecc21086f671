package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandRegister binds the connection to an identity.
	CommandRegister CommandKind = iota
	// CommandSendMessage persists and routes a direct message.
	CommandSendMessage
	// CommandMarkRead marks a received message as read.
	CommandMarkRead
	// CommandTyping relays a typing indicator.
	CommandTyping
	// CommandAddReaction attaches an emoji to a message.
	CommandAddReaction
	// CommandDeleteMessage deletes a message.
	CommandDeleteMessage
	// CommandQueryPresence asks for an identity's presence.
	CommandQueryPresence
)

var commandKindNames = map[CommandKind]string{
	CommandRegister:      "register",
	CommandSendMessage:   "send_message",
	CommandMarkRead:      "mark_read",
	CommandTyping:        "typing",
	CommandAddReaction:   "add_reaction",
	CommandDeleteMessage: "delete_message",
	CommandQueryPresence: "query_presence",
}

func (k CommandKind) String() string {
	if name, ok := commandKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Command represents an action requested by a client.
type Command struct {
	Kind CommandKind
	// Identity is the identity to register or to query.
	Identity string
	// Token optionally authenticates a register command.
	Token     string
	To        string
	Body      string
	MessageID string
	Emoji     string
	IsTyping  bool
}
