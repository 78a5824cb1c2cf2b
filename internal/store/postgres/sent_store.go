package postgres

import (
	"context"
	"fmt"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

// SentStore implements store.SentRepository.
type SentStore struct {
	db DB
}

// NewSentStore wraps the shared pool.
func NewSentStore(db DB) *SentStore {
	return &SentStore{db: db}
}

// SentPostIDs loads every post ID a notification was ever attempted for on
// this target. Failed attempts count too: an attempt is an attempt.
func (s *SentStore) SentPostIDs(ctx context.Context, targetID int64) (map[string]struct{}, error) {
	query := `SELECT post_id FROM sent_records WHERE target_id = $1;`
	rows, err := s.db.Query(ctx, query, targetID)
	if err != nil {
		return nil, fmt.Errorf("query sent post ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sent post id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sent post ids: %w", err)
	}
	return ids, nil
}

// RecordSent inserts one notification attempt row.
func (s *SentStore) RecordSent(ctx context.Context, rec store.SentRecord) error {
	query := `
		INSERT INTO sent_records
			(target_id, post_id, thread_id, topic_title, content_preview, sent_at, success, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err := s.db.Exec(ctx, query,
		rec.TargetID,
		rec.PostID,
		rec.ThreadID,
		rec.TopicTitle,
		rec.ContentPreview,
		rec.SentAt,
		rec.Success,
		rec.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("record sent attempt: %w", err)
	}
	return nil
}
