// Package scheduler drives the periodic incremental checks according to
// the schedule rules.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/monitor"
	"github.com/Alexzz96/nga-monitor/internal/schedule"
	"github.com/Alexzz96/nga-monitor/internal/store"
)

const defaultTick = 30 * time.Second

// Checker is the sweep the scheduler triggers on each due tick.
type Checker interface {
	CheckAll(ctx context.Context) ([]monitor.TargetResult, error)
}

// Resolver is the schedule decision surface the driver consumes.
type Resolver interface {
	ShouldCheckNow(ctx context.Context, lastCheck *time.Time) (schedule.Decision, error)
	MarkSummarySent(ctx context.Context, rule *store.ScheduleRule, targetID int64, newCount int) error
}

// Driver polls the resolver on a fixed tick and runs the sweep when a rule
// says it is due.
type Driver struct {
	resolver Resolver
	checker  Checker
	clock    schedule.Clock
	logger   *zap.Logger
	tick     time.Duration

	lastCheck *time.Time
}

func NewDriver(resolver Resolver, checker Checker, clock schedule.Clock, tick time.Duration, logger *zap.Logger) *Driver {
	if tick <= 0 {
		tick = defaultTick
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		resolver: resolver,
		checker:  checker,
		clock:    clock,
		logger:   logger,
		tick:     tick,
	}
}

// Run blocks until ctx is canceled, evaluating the schedule every tick.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.Info("scheduler started", zap.Duration("tick", d.tick))
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			d.evaluate(ctx)
		}
	}
}

// evaluate runs at most one sweep per tick.
func (d *Driver) evaluate(ctx context.Context) {
	decision, err := d.resolver.ShouldCheckNow(ctx, d.lastCheck)
	if err != nil {
		d.logger.Warn("schedule evaluation failed", zap.Error(err))
		return
	}
	if !decision.Check {
		return
	}

	rule := decision.Rule
	if rule != nil {
		d.logger.Info("check due",
			zap.String("rule", rule.Name), zap.Bool("summary", rule.IsSummary))
	}

	results, err := d.checker.CheckAll(ctx)
	now := d.clock.Now()
	d.lastCheck = &now
	if err != nil {
		d.logger.Warn("scheduled sweep failed", zap.Error(err))
		return
	}

	sent := 0
	fatal := false
	for _, r := range results {
		sent += r.Result.SentCount
		fatal = fatal || r.Result.Fatal
	}
	d.logger.Info("scheduled sweep finished",
		zap.Int("targets", len(results)), zap.Int("sent", sent), zap.Bool("fatal", fatal))

	// Summary rules fire once per day; persist the marker so re-entering
	// the window is a noop.
	if rule != nil && rule.IsSummary {
		for _, r := range results {
			if err := d.resolver.MarkSummarySent(ctx, rule, r.TargetID, r.Result.SentCount); err != nil {
				d.logger.Warn("recording summary marker failed",
					zap.Int64("target_id", r.TargetID), zap.Error(err))
			}
		}
	}
}
