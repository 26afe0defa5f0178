package store

import (
	"database/sql"
	"time"
)

// SaveProfile persists the session's user object. One row per session db.
func (db *DB) SaveProfile(p *Profile) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO profile (id, user_name, phone_number, group_hint, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_name = excluded.user_name,
			phone_number = excluded.phone_number,
			group_hint = excluded.group_hint,
			updated_at = excluded.updated_at`,
		p.UserID, p.UserName, p.PhoneNumber, p.GroupHint, now)
	return err
}

// LoadProfile returns the persisted user object, or nil if the session has
// never been bootstrapped.
func (db *DB) LoadProfile() (*Profile, error) {
	var p Profile
	err := db.QueryRow(`
		SELECT id, user_name, phone_number, group_hint
		FROM profile LIMIT 1`).
		Scan(&p.UserID, &p.UserName, &p.PhoneNumber, &p.GroupHint)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
