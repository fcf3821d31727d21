package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateUsageRecord inserts a new record in the initialized state and
// returns it. One record is created per bot invocation, before the
// remote call is issued.
func (s *Store) CreateUsageRecord(userID int64) (UsageRecord, error) {
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339)
	res, err := s.db.Exec(`
		INSERT INTO usage_records (user_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?)`,
		userID, int(UsageInitialized), ts, ts,
	)
	if err != nil {
		return UsageRecord{}, fmt.Errorf("inserting usage record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return UsageRecord{}, err
	}
	return UsageRecord{
		ID:        id,
		UserID:    userID,
		Status:    UsageInitialized,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// RecordTokenUsage stores the token counts reported by a successful
// remote call and moves the record to the sent state.
func (s *Store) RecordTokenUsage(id, promptTokens, completionTokens, totalTokens int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`
		UPDATE usage_records
		SET status = ?, prompt_tokens_consumed = ?, completion_tokens_consumed = ?, total_tokens_consumed = ?, updated_at = ?
		WHERE id = ?`,
		int(UsageSent), promptTokens, completionTokens, totalTokens, now, id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkUsageFailed moves the record to the failed state. Token counts are
// left untouched.
func (s *Store) MarkUsageFailed(id int64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE usage_records SET status = ?, updated_at = ? WHERE id = ?`,
		int(UsageFailed), now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUsageRecord returns the record with the given id.
func (s *Store) GetUsageRecord(id int64) (UsageRecord, error) {
	var r UsageRecord
	var status int
	var prompt, completion, total sql.NullInt64
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, status, prompt_tokens_consumed, completion_tokens_consumed, total_tokens_consumed, created_at, updated_at
		FROM usage_records WHERE id = ?`, id,
	).Scan(&r.ID, &r.UserID, &status, &prompt, &completion, &total, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return UsageRecord{}, ErrNotFound
	}
	if err != nil {
		return UsageRecord{}, err
	}
	r.Status = UsageStatus(status)
	if prompt.Valid {
		r.PromptTokensConsumed = &prompt.Int64
	}
	if completion.Valid {
		r.CompletionTokensConsumed = &completion.Int64
	}
	if total.Valid {
		r.TotalTokensConsumed = &total.Int64
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return UsageRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return UsageRecord{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return r, nil
}

// --- Aggregates (statistics surface) ---

// TotalTokensConsumed returns the sum of total_tokens_consumed across all
// records, zero when there are none.
func (s *Store) TotalTokensConsumed() (int64, error) {
	var total int64
	err := s.db.QueryRow(`SELECT COALESCE(SUM(total_tokens_consumed), 0) FROM usage_records`).Scan(&total)
	return total, err
}

// TotalInteractions returns the number of usage records.
func (s *Store) TotalInteractions() (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM usage_records`).Scan(&count)
	return count, err
}

// TotalUsersInteracted returns the number of distinct users with at least
// one usage record.
func (s *Store) TotalUsersInteracted() (int64, error) {
	var count int64
	err := s.db.QueryRow(`SELECT COUNT(DISTINCT user_id) FROM usage_records`).Scan(&count)
	return count, err
}

// TopUsers returns up to limit users ordered by interaction count
// descending. Equal counts order by ascending user id so the result is
// deterministic. Users deleted since their records were written are
// skipped by the join.
func (s *Store) TopUsers(limit int) ([]UserUsage, error) {
	rows, err := s.db.Query(`
		SELECT ur.user_id, u.username, COUNT(*) AS n
		FROM usage_records ur
		JOIN users u ON u.id = ur.user_id
		GROUP BY ur.user_id
		ORDER BY n DESC, ur.user_id ASC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []UserUsage
	for rows.Next() {
		var uu UserUsage
		if err := rows.Scan(&uu.UserID, &uu.Username, &uu.Interactions); err != nil {
			return nil, err
		}
		results = append(results, uu)
	}
	return results, rows.Err()
}
