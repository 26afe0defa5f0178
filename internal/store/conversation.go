package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// UpsertConversation inserts or updates a conversation row.
func (db *DB) UpsertConversation(c *Conversation) error {
	return upsertConversation(db.DB, c)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertConversation(e execer, c *Conversation) error {
	now := time.Now().UnixMilli()
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return err
	}
	_, err = e.Exec(`
		INSERT INTO conversations (id, kind, name, participants, last_body, last_at, unread_count, status_message, online, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			participants = excluded.participants,
			last_body = excluded.last_body,
			last_at = excluded.last_at,
			unread_count = excluded.unread_count,
			status_message = excluded.status_message,
			online = excluded.online,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		c.ID, c.Kind, c.Name, string(participants), c.LastBody, c.LastAt,
		c.UnreadCount, c.StatusMessage, c.Online, c.LastSeen, now)
	return err
}

// ReplaceConversations replaces the cached snapshot wholesale, matching the
// snapshot-level last-writer-wins policy of the sync engine.
func (db *DB) ReplaceConversations(convs []*Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return err
	}
	for _, c := range convs {
		if err := upsertConversation(tx, c); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListConversations returns cached conversations sorted by last activity.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`
		SELECT id, kind, name, participants, last_body, last_at, unread_count, status_message, online, last_seen
		FROM conversations
		ORDER BY last_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

// GetConversation returns a single cached conversation, or nil.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	row := db.QueryRow(`
		SELECT id, kind, name, participants, last_body, last_at, unread_count, status_message, online, last_seen
		FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (*Conversation, error) {
	var c Conversation
	var participants string
	if err := r.Scan(&c.ID, &c.Kind, &c.Name, &participants, &c.LastBody, &c.LastAt,
		&c.UnreadCount, &c.StatusMessage, &c.Online, &c.LastSeen); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return nil, err
	}
	return &c, nil
}
