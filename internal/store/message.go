package store

import "time"

// AppendMessage appends a message row. Messages are immutable and the cache
// keeps them in arrival order; duplicate delivery produces duplicate rows.
func (db *DB) AppendMessage(m *Message) error {
	now := time.Now().UnixMilli()
	payload := m.Payload
	if payload == nil {
		payload = []byte("null")
	}
	res, err := db.Exec(`
		INSERT INTO messages (conversation_id, sender_id, sender_name, receiver_id, body, message_type, payload, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.SenderID, m.SenderName, m.ReceiverID, m.Body, m.MessageType, string(payload), m.Timestamp, now)
	if err != nil {
		return err
	}
	m.ID, _ = res.LastInsertId()
	return nil
}

// ReplaceMessages swaps the cached history of one conversation for a freshly
// fetched one.
func (db *DB) ReplaceMessages(conversationID string, msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		payload := m.Payload
		if payload == nil {
			payload = []byte("null")
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (conversation_id, sender_id, sender_name, receiver_id, body, message_type, payload, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, m.SenderID, m.SenderName, m.ReceiverID, m.Body, m.MessageType, string(payload), m.Timestamp, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListMessages returns a conversation's cached messages in arrival order.
func (db *DB) ListMessages(conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, sender_id, sender_name, receiver_id, body, message_type, payload, timestamp
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id ASC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		var payload string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.ReceiverID,
			&m.Body, &m.MessageType, &payload, &m.Timestamp); err != nil {
			return nil, err
		}
		if payload != "null" {
			m.Payload = []byte(payload)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountUnread counts cached messages past the given read watermark.
func (db *DB) CountUnread(conversationID string, afterTs int64) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND timestamp > ?`, conversationID, afterTs).Scan(&n)
	return n, err
}
