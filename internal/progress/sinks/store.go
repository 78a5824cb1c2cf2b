package sinks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/progress"
	"github.com/Alexzz96/nga-monitor/internal/store"
)

// TaskSink persists page progress into the backfill task row. Batches are
// collapsed to the latest page event per task so one UPDATE covers a burst
// of pages.
type TaskSink struct {
	repo   store.TaskRepository
	logger *zap.Logger
}

func NewTaskSink(repo store.TaskRepository, logger *zap.Logger) *TaskSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskSink{repo: repo, logger: logger}
}

func (s *TaskSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	latest := make(map[uuid.UUID]progress.Event)
	for _, evt := range batch {
		if evt.Stage != progress.StageTaskPage {
			continue
		}
		if cur, ok := latest[evt.TaskID]; !ok || evt.Page > cur.Page {
			latest[evt.TaskID] = evt
		}
	}
	for id, evt := range latest {
		if err := s.repo.UpdateTaskProgress(ctx, id, evt.Page, evt.Items); err != nil {
			return fmt.Errorf("update task progress: %w", err)
		}
	}
	return nil
}

func (s *TaskSink) Close(context.Context) error { return nil }
