// Package schedule decides when the periodic check should fire, based on
// HH:MM time-window rules that may wrap past midnight. Interval rules fire
// on elapsed time; summary rules fire once per calendar day near their end
// time, gated by a persisted marker.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

// summarySlack is the half-width of the firing window around a summary
// rule's end time.
const summarySlack = 5 * time.Minute

// defaultPollInterval is suggested to callers when no rule is active.
const defaultPollInterval = 60 * time.Second

// Clock supplies the current time; swapped for a fake in tests.
type Clock interface {
	Now() time.Time
}

// Decision is the outcome of one ShouldCheckNow evaluation.
type Decision struct {
	Check    bool
	Rule     *store.ScheduleRule
	Interval time.Duration
}

// Resolver evaluates schedule rules against the current time.
type Resolver struct {
	rules     store.RuleRepository
	summaries store.SummaryRepository
	clock     Clock
	logger    *zap.Logger
}

// New creates a Resolver. A nil logger is replaced with a nop logger.
func New(rules store.RuleRepository, summaries store.SummaryRepository, clock Clock, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{rules: rules, summaries: summaries, clock: clock, logger: logger}
}

// CurrentRule returns the highest-priority enabled rule whose window
// contains the current time, or nil when none does.
func (r *Resolver) CurrentRule(ctx context.Context) (*store.ScheduleRule, error) {
	rules, err := r.rules.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schedule rules: %w", err)
	}
	hhmm := r.clock.Now().Format("15:04")
	for i := range rules {
		if timeInRange(hhmm, rules[i].StartTime, rules[i].EndTime) {
			return &rules[i], nil
		}
	}
	return nil, nil
}

// ShouldCheckNow decides whether the periodic check should run. lastCheck is
// nil when no check has run yet, which fires interval rules immediately.
func (r *Resolver) ShouldCheckNow(ctx context.Context, lastCheck *time.Time) (Decision, error) {
	rule, err := r.CurrentRule(ctx)
	if err != nil {
		return Decision{}, err
	}
	if rule == nil {
		r.logger.Debug("no schedule rule active")
		return Decision{Interval: defaultPollInterval}, nil
	}

	interval := time.Duration(rule.IntervalSeconds) * time.Second
	if rule.IsSummary {
		if interval <= 0 {
			interval = time.Hour
		}
		fire, err := r.summaryDue(ctx, rule)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Check: fire, Rule: rule, Interval: interval}, nil
	}

	if interval <= 0 {
		return Decision{Rule: rule, Interval: defaultPollInterval}, nil
	}
	if lastCheck == nil {
		return Decision{Check: true, Rule: rule, Interval: interval}, nil
	}
	elapsed := r.clock.Now().Sub(*lastCheck)
	return Decision{Check: elapsed >= interval, Rule: rule, Interval: interval}, nil
}

// MarkSummarySent records the per-day marker so the rule stays quiet for the
// rest of the calendar day, no matter how often it is re-evaluated.
func (r *Resolver) MarkSummarySent(ctx context.Context, rule *store.ScheduleRule, targetID int64, newCount int) error {
	now := r.clock.Now()
	return r.summaries.MarkSummarySent(ctx, store.DailySummary{
		Date:     now.Format("2006-01-02"),
		TargetID: targetID,
		RuleID:   rule.ID,
		SentAt:   now,
		NewCount: newCount,
	})
}

// NextRuleStart returns the start of the next upcoming rule window, a
// scheduling hint for callers idling outside any window. Nil when no rules
// are enabled.
func (r *Resolver) NextRuleStart(ctx context.Context) (*time.Time, error) {
	rules, err := r.rules.ListEnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schedule rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, nil
	}
	now := r.clock.Now()
	hhmm := now.Format("15:04")
	for i := range rules {
		if rules[i].StartTime > hhmm {
			at, err := atTimeOfDay(now, rules[i].StartTime)
			if err != nil {
				continue
			}
			return &at, nil
		}
	}
	// Nothing left today; the earliest-priority rule starts tomorrow.
	at, err := atTimeOfDay(now.AddDate(0, 0, 1), rules[0].StartTime)
	if err != nil {
		return nil, err
	}
	return &at, nil
}

func (r *Resolver) summaryDue(ctx context.Context, rule *store.ScheduleRule) (bool, error) {
	now := r.clock.Now()
	sent, err := r.summaries.SummarySentToday(ctx, now.Format("2006-01-02"), rule.ID)
	if err != nil {
		return false, fmt.Errorf("check summary marker: %w", err)
	}
	if sent {
		r.logger.Debug("summary already sent today", zap.Int64("rule_id", rule.ID))
		return false, nil
	}

	end, err := atTimeOfDay(now, rule.EndTime)
	if err != nil {
		return false, fmt.Errorf("rule %d end time: %w", rule.ID, err)
	}
	// Overnight windows end on the following day.
	if end.Before(now) && rule.StartTime > rule.EndTime {
		end = end.AddDate(0, 0, 1)
	}
	diff := end.Sub(now)
	due := diff >= -summarySlack && diff <= summarySlack
	if due {
		r.logger.Info("summary window reached", zap.Int64("rule_id", rule.ID), zap.String("rule", rule.Name))
	}
	return due, nil
}

// timeInRange reports whether the zero-padded HH:MM value falls inside
// [start, end], handling windows that wrap past midnight.
func timeInRange(current, start, end string) bool {
	if start <= end {
		return start <= current && current <= end
	}
	return current >= start || current <= end
}

// atTimeOfDay pins an HH:MM string onto the date of ref, in ref's location.
func atTimeOfDay(ref time.Time, hhmm string) (time.Time, error) {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(ref.Year(), ref.Month(), ref.Day(), h, m, 0, 0, ref.Location()), nil
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("malformed hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("malformed minute in %q", s)
	}
	return h, m, nil
}
