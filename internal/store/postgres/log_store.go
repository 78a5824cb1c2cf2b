package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

// LogStore implements store.LogRepository.
type LogStore struct {
	db DB
}

// NewLogStore wraps the shared pool.
func NewLogStore(db DB) *LogStore {
	return &LogStore{db: db}
}

// InsertLogs writes a batch of log rows in one round trip.
func (s *LogStore) InsertLogs(ctx context.Context, entries []store.SystemLog) error {
	if len(entries) == 0 {
		return nil
	}
	query := `
		INSERT INTO system_logs (level, message, target_uid, created_at)
		VALUES ($1, $2, $3, $4);
	`
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.Level, e.Message, e.TargetUID, e.CreatedAt)
	}
	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert log row: %w", err)
		}
	}
	return nil
}
