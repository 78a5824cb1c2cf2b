// Package sinks provides progress.Sink implementations for logs, the task
// store and Prometheus.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/progress"
)

// LogSink mirrors the backfill event stream into structured logs.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.logger.Info("backfill progress",
			zap.String("task_id", evt.TaskID.String()),
			zap.Int64("target_id", evt.TargetID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("page", evt.Page),
			zap.Int("pages_total", evt.PagesTotal),
			zap.Int("items", evt.Items),
			zap.String("note", evt.Note),
		)
	}
	return nil
}

func (s *LogSink) Close(context.Context) error { return nil }
