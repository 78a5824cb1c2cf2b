package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Alexzz96/nga-monitor/internal/progress"
)

// PrometheusSink exports backfill counters and the running-task gauge.
type PrometheusSink struct {
	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	pagesCrawled   prometheus.Counter

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewPrometheusSink registers the collectors against reg, defaulting to the
// global registerer.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ngamon_backfill_tasks_started_total",
			Help: "Backfill tasks started.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ngamon_backfill_tasks_completed_total",
			Help: "Backfill tasks completed, partitioned by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ngamon_backfill_tasks_running",
			Help: "Backfill tasks currently running.",
		}),
		pagesCrawled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ngamon_backfill_pages_total",
			Help: "History listing pages crawled across backfills.",
		}),
		running: make(map[uuid.UUID]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.tasksStarted, s.tasksCompleted, s.tasksRunning, s.pagesCrawled,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register backfill collector: %w", err)
		}
	}
	return s, nil
}

func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageTaskStart:
			s.tasksStarted.Inc()
			if s.track(evt.TaskID) {
				s.tasksRunning.Inc()
			}
		case progress.StageTaskPage:
			s.pagesCrawled.Inc()
		case progress.StageTaskDone:
			s.tasksCompleted.WithLabelValues("success").Inc()
			if s.untrack(evt.TaskID) {
				s.tasksRunning.Dec()
			}
		case progress.StageTaskError:
			s.tasksCompleted.WithLabelValues("error").Inc()
			if s.untrack(evt.TaskID) {
				s.tasksRunning.Dec()
			}
		}
	}
	return nil
}

func (s *PrometheusSink) Close(context.Context) error { return nil }

func (s *PrometheusSink) track(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; ok {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *PrometheusSink) untrack(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; !ok {
		return false
	}
	delete(s.running, id)
	return true
}
