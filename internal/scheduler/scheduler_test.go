package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Alexzz96/nga-monitor/internal/monitor"
	"github.com/Alexzz96/nga-monitor/internal/schedule"
	"github.com/Alexzz96/nga-monitor/internal/store"
)

type stubClock struct{ t time.Time }

func (c stubClock) Now() time.Time { return c.t }

type stubResolver struct {
	decision  schedule.Decision
	err       error
	lastArg   *time.Time
	markCalls []int64
}

func (s *stubResolver) ShouldCheckNow(_ context.Context, lastCheck *time.Time) (schedule.Decision, error) {
	s.lastArg = lastCheck
	return s.decision, s.err
}

func (s *stubResolver) MarkSummarySent(_ context.Context, _ *store.ScheduleRule, targetID int64, _ int) error {
	s.markCalls = append(s.markCalls, targetID)
	return nil
}

type stubChecker struct {
	sweeps  int
	results []monitor.TargetResult
	err     error
}

func (s *stubChecker) CheckAll(context.Context) ([]monitor.TargetResult, error) {
	s.sweeps++
	return s.results, s.err
}

func newDriver(res *stubResolver, chk *stubChecker) *Driver {
	clk := stubClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)}
	return NewDriver(res, chk, clk, time.Second, nil)
}

func TestEvaluateSkipsWhenNotDue(t *testing.T) {
	t.Parallel()

	res := &stubResolver{decision: schedule.Decision{Check: false}}
	chk := &stubChecker{}
	d := newDriver(res, chk)

	d.evaluate(context.Background())
	require.Zero(t, chk.sweeps)
	require.Nil(t, d.lastCheck)
}

func TestEvaluateSweepsAndRecordsLastCheck(t *testing.T) {
	t.Parallel()

	rule := &store.ScheduleRule{ID: 1, Name: "daytime", IntervalSeconds: 300}
	res := &stubResolver{decision: schedule.Decision{Check: true, Rule: rule}}
	chk := &stubChecker{results: []monitor.TargetResult{
		{TargetID: 1, Result: monitor.Result{Success: true, SentCount: 2}},
	}}
	d := newDriver(res, chk)

	d.evaluate(context.Background())
	require.Equal(t, 1, chk.sweeps)
	require.NotNil(t, d.lastCheck)
	require.Empty(t, res.markCalls, "interval rules leave no summary marker")

	// The recorded time feeds the next interval decision.
	d.evaluate(context.Background())
	require.Equal(t, d.lastCheck, res.lastArg)
}

func TestEvaluateMarksSummaryPerTarget(t *testing.T) {
	t.Parallel()

	rule := &store.ScheduleRule{ID: 2, Name: "nightly recap", IsSummary: true}
	res := &stubResolver{decision: schedule.Decision{Check: true, Rule: rule}}
	chk := &stubChecker{results: []monitor.TargetResult{
		{TargetID: 1, Result: monitor.Result{Success: true, SentCount: 1}},
		{TargetID: 2, Result: monitor.Result{Success: true}},
	}}
	d := newDriver(res, chk)

	d.evaluate(context.Background())
	require.Equal(t, []int64{1, 2}, res.markCalls)
}

func TestEvaluateToleratesResolverErrors(t *testing.T) {
	t.Parallel()

	res := &stubResolver{err: errors.New("db down")}
	chk := &stubChecker{}
	d := newDriver(res, chk)

	d.evaluate(context.Background())
	require.Zero(t, chk.sweeps)
}

func TestEvaluateSweepErrorSkipsMarkers(t *testing.T) {
	t.Parallel()

	rule := &store.ScheduleRule{ID: 2, IsSummary: true}
	res := &stubResolver{decision: schedule.Decision{Check: true, Rule: rule}}
	chk := &stubChecker{err: errors.New("crawl blew up")}
	d := newDriver(res, chk)

	d.evaluate(context.Background())
	require.Empty(t, res.markCalls)
	require.NotNil(t, d.lastCheck, "a failed sweep still counts for interval pacing")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	res := &stubResolver{}
	chk := &stubChecker{}
	d := NewDriver(res, chk, stubClock{t: time.Now()}, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop on cancel")
	}
}
