package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Alexzz96/nga-monitor/internal/monitor"
	"github.com/Alexzz96/nga-monitor/internal/ratelimit"
	"github.com/Alexzz96/nga-monitor/internal/session"
	"github.com/Alexzz96/nga-monitor/internal/store"
)

type fakeOrch struct {
	guard *monitor.Guard

	checkResult monitor.Result
	checkErr    error
	checkedID   int64
	checkForce  bool

	taskID       uuid.UUID
	backfillErr  error
	backfilledID int64
	maxPages     int
}

func (f *fakeOrch) CheckAndSend(_ context.Context, targetID int64, force bool) (monitor.Result, error) {
	f.checkedID = targetID
	f.checkForce = force
	return f.checkResult, f.checkErr
}

func (f *fakeOrch) StartBackfill(_ context.Context, targetID int64, maxPages int) (uuid.UUID, error) {
	f.backfilledID = targetID
	f.maxPages = maxPages
	return f.taskID, f.backfillErr
}

func (f *fakeOrch) Guard() *monitor.Guard {
	return f.guard
}

type fakeTaskStore struct {
	tasks map[uuid.UUID]store.ArchiveTask
}

func (f *fakeTaskStore) CreateTask(_ context.Context, task store.ArchiveTask) error {
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeTaskStore) GetTask(_ context.Context, id uuid.UUID) (store.ArchiveTask, error) {
	task, ok := f.tasks[id]
	if !ok {
		return store.ArchiveTask{}, store.ErrNotFound
	}
	return task, nil
}

func (f *fakeTaskStore) MarkTaskRunning(_ context.Context, id uuid.UUID) error {
	return nil
}

func (f *fakeTaskStore) UpdateTaskProgress(_ context.Context, id uuid.UUID, pages, items int) error {
	return nil
}

func (f *fakeTaskStore) FinishTask(_ context.Context, id uuid.UUID, status store.TaskStatus, inserted int, errMsg string, at time.Time) error {
	return nil
}

type fakeTargetStore struct {
	targets []store.Target
}

func (f *fakeTargetStore) GetTarget(_ context.Context, id int64) (store.Target, error) {
	for _, t := range f.targets {
		if t.ID == id {
			return t, nil
		}
	}
	return store.Target{}, store.ErrNotFound
}

func (f *fakeTargetStore) ListEnabledTargets(context.Context) ([]store.Target, error) {
	return f.targets, nil
}

type fakePool struct{}

func (fakePool) Stats() session.Stats {
	return session.Stats{Initialized: true, Contexts: map[string]int{"42": 1}}
}

type fakeLimiter struct{}

func (fakeLimiter) Stats() ratelimit.Stats {
	return ratelimit.Stats{Name: "discord", Tokens: 2}
}

func newTestServer(orch *fakeOrch, tasks *fakeTaskStore) *Server {
	if orch.guard == nil {
		orch.guard = &monitor.Guard{}
	}
	if tasks == nil {
		tasks = &fakeTaskStore{tasks: map[uuid.UUID]store.ArchiveTask{}}
	}
	targets := &fakeTargetStore{targets: []store.Target{{ID: 1, UID: "42", Enabled: true}}}
	return NewServer(orch, tasks, targets, fakePool{}, fakeLimiter{}, 50, zap.NewNop())
}

func TestTriggerCheckReturnsResult(t *testing.T) {
	orch := &fakeOrch{checkResult: monitor.Result{Success: true, Message: "sent 2 of 3 new replies", RepliesCount: 3, SentCount: 2}}
	srv := newTestServer(orch, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/targets/1/check", strings.NewReader(`{"force":true}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), orch.checkedID)
	require.True(t, orch.checkForce)

	var res monitor.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, 2, res.SentCount)
}

func TestTriggerCheckConflictWhileRunning(t *testing.T) {
	orch := &fakeOrch{checkErr: monitor.ErrRunInProgress}
	srv := newTestServer(orch, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/targets/1/check", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestTriggerCheckUnknownTarget(t *testing.T) {
	orch := &fakeOrch{checkErr: store.ErrNotFound}
	srv := newTestServer(orch, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/targets/99/check", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerCheckRejectsBadTargetID(t *testing.T) {
	srv := newTestServer(&fakeOrch{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/targets/banana/check", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerBackfillAccepted(t *testing.T) {
	id := uuid.New()
	orch := &fakeOrch{taskID: id}
	srv := newTestServer(orch, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/targets/1/backfill", strings.NewReader(`{"max_pages":10}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 10, orch.maxPages)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, id.String(), body["task_id"])
}

func TestTriggerBackfillClampsPageCount(t *testing.T) {
	orch := &fakeOrch{taskID: uuid.New()}
	srv := newTestServer(orch, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/targets/1/backfill", strings.NewReader(`{"max_pages":9001}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 50, orch.maxPages)
}

func TestGetTask(t *testing.T) {
	id := uuid.New()
	tasks := &fakeTaskStore{tasks: map[uuid.UUID]store.ArchiveTask{
		id: {ID: id, TargetID: 1, Status: store.TaskCompleted, ItemsInserted: 120},
	}}
	srv := newTestServer(&fakeOrch{}, tasks)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/"+id.String(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"items_inserted":120`)
}

func TestGetTaskNotFound(t *testing.T) {
	srv := newTestServer(&fakeOrch{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskRejectsMalformedID(t *testing.T) {
	srv := newTestServer(&fakeOrch{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatusReportsRunningGuard(t *testing.T) {
	orch := &fakeOrch{guard: &monitor.Guard{}}
	require.True(t, orch.guard.TryBegin(monitor.RunBackfill, 7))
	defer orch.guard.End()
	srv := newTestServer(orch, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["running"])
	require.Equal(t, "backfill", body["kind"])
	require.Equal(t, float64(7), body["target_id"])
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeOrch{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
}

func TestListTargets(t *testing.T) {
	srv := newTestServer(&fakeOrch{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/targets", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"uid":"42"`)
}
