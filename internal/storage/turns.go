package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser inserts or updates a user and replaces its group
// memberships. User ids come from the host forum, so they are always
// explicit.
func (s *Store) UpsertUser(u User, groupIDs []int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.Exec(`
		INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET username = excluded.username`,
		u.ID, u.Username, createdAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("upserting user %d: %w", u.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM user_groups WHERE user_id = ?`, u.ID); err != nil {
		return fmt.Errorf("clearing group memberships: %w", err)
	}
	for _, gid := range groupIDs {
		if _, err := tx.Exec(`INSERT INTO user_groups (user_id, group_id) VALUES (?, ?)`, u.ID, gid); err != nil {
			return fmt.Errorf("inserting group membership %d: %w", gid, err)
		}
	}

	return tx.Commit()
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(id int64) (User, error) {
	var u User
	var createdAt string
	err := s.db.QueryRow(`SELECT id, username, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &createdAt)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return u, nil
}

// UserGroupIDs returns the group ids the user belongs to.
func (s *Store) UserGroupIDs(userID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT group_id FROM user_groups WHERE user_id = ? ORDER BY group_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteUser removes a user together with its group memberships and
// usage records.
func (s *Store) DeleteUser(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM usage_records WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("deleting usage records: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM user_groups WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("deleting group memberships: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// InsertTurn stores a conversation turn. When t.ID is non-zero the id is
// taken as-is (turns mirrored from the host forum keep their original
// ids); otherwise the id is assigned by the database. Returns the id.
func (s *Store) InsertTurn(t Turn) (int64, error) {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var deletedAt any
	if t.DeletedAt != nil {
		deletedAt = t.DeletedAt.UTC().Format(time.RFC3339)
	}
	var inReplyTo any
	if t.InReplyToID != nil {
		inReplyTo = *t.InReplyToID
	}

	if t.ID != 0 {
		_, err := s.db.Exec(`
			INSERT INTO turns (id, channel_id, user_id, kind, content, in_reply_to_id, deleted_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ChannelID, t.UserID, t.Kind, t.Content, inReplyTo, deletedAt, createdAt.Format(time.RFC3339),
		)
		if err != nil {
			return 0, fmt.Errorf("inserting turn %d: %w", t.ID, err)
		}
		return t.ID, nil
	}

	res, err := s.db.Exec(`
		INSERT INTO turns (channel_id, user_id, kind, content, in_reply_to_id, deleted_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ChannelID, t.UserID, t.Kind, t.Content, inReplyTo, deletedAt, createdAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}
	return res.LastInsertId()
}

// GetTurn returns the turn with the given id, deleted or not.
func (s *Store) GetTurn(id int64) (Turn, error) {
	row := s.db.QueryRow(`
		SELECT id, channel_id, user_id, kind, content, in_reply_to_id, deleted_at, created_at
		FROM turns WHERE id = ?`, id)
	return scanTurn(row)
}

// PriorTurn returns the most recent non-deleted turn in the channel with
// an id strictly less than beforeID.
func (s *Store) PriorTurn(channelID, beforeID int64) (Turn, error) {
	row := s.db.QueryRow(`
		SELECT id, channel_id, user_id, kind, content, in_reply_to_id, deleted_at, created_at
		FROM turns
		WHERE channel_id = ? AND deleted_at IS NULL AND id < ?
		ORDER BY id DESC LIMIT 1`, channelID, beforeID)
	return scanTurn(row)
}

func scanTurn(row *sql.Row) (Turn, error) {
	var t Turn
	var inReplyTo sql.NullInt64
	var deletedAt sql.NullString
	var createdAt string
	err := row.Scan(&t.ID, &t.ChannelID, &t.UserID, &t.Kind, &t.Content, &inReplyTo, &deletedAt, &createdAt)
	if err == sql.ErrNoRows {
		return Turn{}, ErrNotFound
	}
	if err != nil {
		return Turn{}, err
	}
	if inReplyTo.Valid {
		t.InReplyToID = &inReplyTo.Int64
	}
	if deletedAt.Valid {
		ts, err := time.Parse(time.RFC3339, deletedAt.String)
		if err != nil {
			return Turn{}, fmt.Errorf("parsing deleted_at: %w", err)
		}
		t.DeletedAt = &ts
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Turn{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return t, nil
}
