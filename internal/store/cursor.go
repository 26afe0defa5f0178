package store

import (
	"database/sql"
	"time"
)

// AdvanceCursor moves a conversation's read watermark forward. The cursor
// never moves backward: an older timestamp leaves the row unchanged.
func (db *DB) AdvanceCursor(conversationID string, readAt int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO read_cursors (conversation_id, last_read_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			last_read_at = MAX(read_cursors.last_read_at, excluded.last_read_at),
			updated_at = excluded.updated_at`,
		conversationID, readAt, now)
	return err
}

// Cursor returns the read watermark for a conversation, 0 if none exists.
func (db *DB) Cursor(conversationID string) (int64, error) {
	var at int64
	err := db.QueryRow(`SELECT last_read_at FROM read_cursors WHERE conversation_id = ?`, conversationID).Scan(&at)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return at, err
}
