package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

// TaskStore implements store.TaskRepository.
type TaskStore struct {
	db DB
}

// NewTaskStore wraps the shared pool.
func NewTaskStore(db DB) *TaskStore {
	return &TaskStore{db: db}
}

// CreateTask persists a new backfill task row.
func (s *TaskStore) CreateTask(ctx context.Context, task store.ArchiveTask) error {
	query := `
		INSERT INTO archive_tasks
			(id, target_id, status, max_pages, pages_done, items_found, items_inserted, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
	`
	_, err := s.db.Exec(ctx, query,
		task.ID,
		task.TargetID,
		task.Status,
		task.MaxPages,
		task.PagesDone,
		task.ItemsFound,
		task.ItemsInserted,
		task.ErrorMessage,
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create archive task: %w", err)
	}
	return nil
}

// GetTask fetches one task by ID.
func (s *TaskStore) GetTask(ctx context.Context, id uuid.UUID) (store.ArchiveTask, error) {
	query := `
		SELECT id, target_id, status, max_pages, pages_done, items_found, items_inserted,
		       error_message, created_at, completed_at
		FROM archive_tasks
		WHERE id = $1;
	`
	var task store.ArchiveTask
	err := s.db.QueryRow(ctx, query, id).Scan(
		&task.ID,
		&task.TargetID,
		&task.Status,
		&task.MaxPages,
		&task.PagesDone,
		&task.ItemsFound,
		&task.ItemsInserted,
		&task.ErrorMessage,
		&task.CreatedAt,
		&task.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ArchiveTask{}, store.ErrNotFound
		}
		return store.ArchiveTask{}, fmt.Errorf("get archive task: %w", err)
	}
	return task, nil
}

// MarkTaskRunning flips a pending task to running.
func (s *TaskStore) MarkTaskRunning(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE archive_tasks SET status = $1 WHERE id = $2;`
	_, err := s.db.Exec(ctx, query, store.TaskRunning, id)
	if err != nil {
		return fmt.Errorf("mark task running: %w", err)
	}
	return nil
}

// UpdateTaskProgress bumps the page/item counters after each crawled page.
func (s *TaskStore) UpdateTaskProgress(ctx context.Context, id uuid.UUID, pagesDone, itemsFound int) error {
	query := `UPDATE archive_tasks SET pages_done = $1, items_found = $2 WHERE id = $3;`
	_, err := s.db.Exec(ctx, query, pagesDone, itemsFound, id)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

// FinishTask moves a task to its terminal state. completed_at is always set
// on terminal transitions, including failures.
func (s *TaskStore) FinishTask(ctx context.Context, id uuid.UUID, status store.TaskStatus, itemsInserted int, errMsg string, completedAt time.Time) error {
	query := `
		UPDATE archive_tasks
		SET status = $1, items_inserted = $2, error_message = $3, completed_at = $4
		WHERE id = $5;
	`
	_, err := s.db.Exec(ctx, query, status, itemsInserted, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("finish archive task: %w", err)
	}
	return nil
}
