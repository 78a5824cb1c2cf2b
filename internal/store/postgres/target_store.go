package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

// TargetStore implements store.TargetRepository.
type TargetStore struct {
	db DB
}

// NewTargetStore wraps the shared pool.
func NewTargetStore(db DB) *TargetStore {
	return &TargetStore{db: db}
}

const targetColumns = `id, uid, name, url, enabled, keywords, filter_mode, created_at, updated_at`

// GetTarget fetches one target by ID.
func (s *TargetStore) GetTarget(ctx context.Context, id int64) (store.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM monitor_targets WHERE id = $1;`
	var t store.Target
	err := s.db.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.UID,
		&t.Name,
		&t.URL,
		&t.Enabled,
		&t.Keywords,
		&t.FilterMode,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Target{}, store.ErrNotFound
		}
		return store.Target{}, fmt.Errorf("get target %d: %w", id, err)
	}
	return t, nil
}

// ListEnabledTargets returns all targets eligible for the periodic sweep.
func (s *TargetStore) ListEnabledTargets(ctx context.Context) ([]store.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM monitor_targets WHERE enabled ORDER BY id;`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list enabled targets: %w", err)
	}
	defer rows.Close()

	var targets []store.Target
	for rows.Next() {
		var t store.Target
		if err := rows.Scan(
			&t.ID,
			&t.UID,
			&t.Name,
			&t.URL,
			&t.Enabled,
			&t.Keywords,
			&t.FilterMode,
			&t.CreatedAt,
			&t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan target row: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target rows: %w", err)
	}
	return targets, nil
}
