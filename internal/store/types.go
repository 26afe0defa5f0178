package store

// Profile is the persisted user object read at session bootstrap, plus the
// group-id hint used to auto-join the default room.
type Profile struct {
	UserID      string
	UserName    string
	PhoneNumber string
	GroupHint   string
}

// Conversation is a cached conversation row.
type Conversation struct {
	ID            string
	Kind          string // "direct" | "group"
	Name          string
	Participants  []string
	LastBody      string
	LastAt        int64
	UnreadCount   int
	StatusMessage string
	Online        bool
	LastSeen      int64
}

// Message is a cached message row. Rows are append-only.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	SenderName     string
	ReceiverID     string
	Body           string
	MessageType    string
	Payload        []byte
	Timestamp      int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID             int64
	ClientMsgID    string
	ConversationID string
	Kind           string // "direct" | "group"
	Body           string
	MessageType    string
	Status         string // queued, sending, sent, failed
	ErrorMessage   string
}
