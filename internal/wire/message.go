package wire

import (
	"encoding/json"
	"time"
)

// Message type discriminators. Everything except MessageText carries a
// type-specific structured payload.
const (
	MessageText     = "text"
	MessageVisitor  = "visitor"
	MessageCheckin  = "checkin"
	MessageCheckout = "checkout"
	MessageTask     = "task"
	MessageFile     = "file"
)

// Message is a chat message as it travels on the wire. Direct messages carry
// ReceiverID, group messages carry GroupID and SenderName. Timestamp is
// server-assigned and monotonic within a conversation.
type Message struct {
	SenderID    string          `json:"senderId"`
	ReceiverID  string          `json:"receiverId,omitempty"`
	GroupID     string          `json:"groupId,omitempty"`
	SenderName  string          `json:"senderName,omitempty"`
	Body        string          `json:"message"`
	MessageType string          `json:"messageType,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Type returns the message type, defaulting to text when the field is
// absent (plain direct messages omit it).
func (m *Message) Type() string {
	if m.MessageType == "" {
		return MessageText
	}
	return m.MessageType
}

// Group describes a group conversation as delivered by newGroupCreated.
type Group struct {
	ID            string   `json:"_id"`
	Name          string   `json:"name"`
	Participants  []string `json:"participants"`
	StatusMessage string   `json:"statusMessage,omitempty"`
}
