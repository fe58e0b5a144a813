package domain

// ChatSender is the identity subset attached to a chat message.
type ChatSender struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// ChatMessage is one entry of the append-only, arrival-ordered chat list.
// ID is the sender's presence key, not a message id.
type ChatMessage struct {
	ID        PresenceKey `json:"id"`
	User      ChatSender  `json:"user"`
	Message   string      `json:"message"`
	Timestamp int64       `json:"timestamp"`
}
