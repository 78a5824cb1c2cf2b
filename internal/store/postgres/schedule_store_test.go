package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/Alexzz96/nga-monitor/internal/store"
)

func TestListEnabledRules(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT (.+) FROM schedule_rules").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "name", "start_time", "end_time", "interval_seconds",
			"is_summary", "enabled", "priority", "created_at",
		}).
			AddRow(int64(2), "trading hours", "09:00", "15:00", 300, false, true, 10, now).
			AddRow(int64(1), "overnight summary", "22:00", "06:00", 0, true, true, 1, now))

	rules, err := NewRuleStore(mock).ListEnabledRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	require.Equal(t, "trading hours", rules[0].Name)
	require.True(t, rules[1].IsSummary)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSummarySentToday(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("2026-08-29", int64(1)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	sent, err := NewSummaryStore(mock).SummarySentToday(context.Background(), "2026-08-29", 1)
	require.NoError(t, err)
	require.True(t, sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSummarySent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	sum := store.DailySummary{
		Date:     "2026-08-29",
		TargetID: 1,
		RuleID:   2,
		SentAt:   time.Unix(1700000000, 0).UTC(),
		NewCount: 3,
	}

	mock.ExpectExec("INSERT INTO daily_summaries").
		WithArgs(sum.Date, sum.TargetID, sum.RuleID, sum.SentAt, sum.NewCount).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = NewSummaryStore(mock).MarkSummarySent(context.Background(), sum)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
