package wire

import "time"

// REST response shapes. The backend wraps list payloads in {"data": ...}
// and the user search in {"result": ...}.

// ChatListItem is one row of the full-chat-list snapshot. Direct chats carry
// UserName/Online/LastSeen, groups carry Name/StatusMessage.
type ChatListItem struct {
	ID            string   `json:"_id"`
	Kind          string   `json:"type"` // "direct" | "group"
	Name          string   `json:"name,omitempty"`
	UserName      string   `json:"userName,omitempty"`
	Participants  []string `json:"participants,omitempty"`
	LastMsg       *Message `json:"lastMsg,omitempty"`
	UnreadCount   int      `json:"unreadCount"`
	StatusMessage string   `json:"statusMessage,omitempty"`

	Online   bool      `json:"online,omitempty"`
	LastSeen time.Time `json:"last_seen,omitzero"`
}

// DisplayName resolves the name shown for this chat.
func (c *ChatListItem) DisplayName() string {
	if c.Kind == "group" {
		return c.Name
	}
	return c.UserName
}

// User is a user record returned by the phone-number search.
type User struct {
	ID          string `json:"_id"`
	UserName    string `json:"userName"`
	PhoneNumber string `json:"phone_number"`
}

// ChatListResponse wraps the snapshot endpoint payload.
type ChatListResponse struct {
	Data []ChatListItem `json:"data"`
}

// MessagesResponse wraps both message-history endpoints.
type MessagesResponse struct {
	Data []Message `json:"data"`
}

// SearchResponse wraps the phone-number search payload.
type SearchResponse struct {
	Result *User `json:"result"`
}
