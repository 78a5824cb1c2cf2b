package postgres

import (
	"context"
	"fmt"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

// RuleStore implements store.RuleRepository.
type RuleStore struct {
	db DB
}

// NewRuleStore wraps the shared pool.
func NewRuleStore(db DB) *RuleStore {
	return &RuleStore{db: db}
}

// ListEnabledRules returns enabled rules ordered by priority descending, the
// order the resolver evaluates them in.
func (s *RuleStore) ListEnabledRules(ctx context.Context) ([]store.ScheduleRule, error) {
	query := `
		SELECT id, name, start_time, end_time, interval_seconds, is_summary, enabled, priority, created_at
		FROM schedule_rules
		WHERE enabled
		ORDER BY priority DESC, id;
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	defer rows.Close()

	var rules []store.ScheduleRule
	for rows.Next() {
		var r store.ScheduleRule
		if err := rows.Scan(
			&r.ID,
			&r.Name,
			&r.StartTime,
			&r.EndTime,
			&r.IntervalSeconds,
			&r.IsSummary,
			&r.Enabled,
			&r.Priority,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule rows: %w", err)
	}
	return rules, nil
}

// SummaryStore implements store.SummaryRepository.
type SummaryStore struct {
	db DB
}

// NewSummaryStore wraps the shared pool.
func NewSummaryStore(db DB) *SummaryStore {
	return &SummaryStore{db: db}
}

// SummarySentToday reports whether a summary for the rule already went out
// on the given calendar day.
func (s *SummaryStore) SummarySentToday(ctx context.Context, date string, ruleID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM daily_summaries WHERE date = $1 AND rule_id = $2);`
	var sent bool
	if err := s.db.QueryRow(ctx, query, date, ruleID).Scan(&sent); err != nil {
		return false, fmt.Errorf("check summary sent: %w", err)
	}
	return sent, nil
}

// MarkSummarySent records the once-per-day marker.
func (s *SummaryStore) MarkSummarySent(ctx context.Context, sum store.DailySummary) error {
	query := `
		INSERT INTO daily_summaries (date, target_id, rule_id, sent_at, new_count)
		VALUES ($1, $2, $3, $4, $5);
	`
	_, err := s.db.Exec(ctx, query, sum.Date, sum.TargetID, sum.RuleID, sum.SentAt, sum.NewCount)
	if err != nil {
		return fmt.Errorf("mark summary sent: %w", err)
	}
	return nil
}
