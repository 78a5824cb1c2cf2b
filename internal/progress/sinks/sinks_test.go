package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Alexzz96/nga-monitor/internal/progress"
	"github.com/Alexzz96/nga-monitor/internal/store"
)

type progressCall struct {
	id    uuid.UUID
	pages int
	items int
}

type fakeTaskRepo struct {
	calls []progressCall
}

func (f *fakeTaskRepo) CreateTask(context.Context, store.ArchiveTask) error { return nil }
func (f *fakeTaskRepo) GetTask(context.Context, uuid.UUID) (store.ArchiveTask, error) {
	return store.ArchiveTask{}, store.ErrNotFound
}
func (f *fakeTaskRepo) MarkTaskRunning(context.Context, uuid.UUID) error { return nil }
func (f *fakeTaskRepo) UpdateTaskProgress(_ context.Context, id uuid.UUID, pages, items int) error {
	f.calls = append(f.calls, progressCall{id: id, pages: pages, items: items})
	return nil
}
func (f *fakeTaskRepo) FinishTask(context.Context, uuid.UUID, store.TaskStatus, int, string, time.Time) error {
	return nil
}

func evt(id uuid.UUID, stage progress.Stage, page, items int) progress.Event {
	return progress.Event{TaskID: id, TS: time.Now(), Stage: stage, Page: page, Items: items}
}

func TestTaskSinkCollapsesToLatestPage(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	repo := &fakeTaskRepo{}
	sink := NewTaskSink(repo, nil)

	batch := []progress.Event{
		evt(id, progress.StageTaskStart, 0, 0),
		evt(id, progress.StageTaskPage, 1, 20),
		evt(id, progress.StageTaskPage, 3, 55),
		evt(id, progress.StageTaskPage, 2, 40),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Len(t, repo.calls, 1, "one UPDATE per task per batch")
	require.Equal(t, progressCall{id: id, pages: 3, items: 55}, repo.calls[0])
}

func TestTaskSinkIgnoresLifecycleEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeTaskRepo{}
	sink := NewTaskSink(repo, nil)
	batch := []progress.Event{
		evt(uuid.New(), progress.StageTaskStart, 0, 0),
		evt(uuid.New(), progress.StageTaskDone, 0, 0),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Empty(t, repo.calls)
}

func TestPrometheusSinkTracksRunningTasks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	a, b := uuid.New(), uuid.New()
	batch := []progress.Event{
		evt(a, progress.StageTaskStart, 0, 0),
		evt(b, progress.StageTaskStart, 0, 0),
		evt(a, progress.StageTaskPage, 1, 5),
		evt(a, progress.StageTaskDone, 0, 0),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.tasksRunning))
	require.Equal(t, float64(2), testutil.ToFloat64(sink.tasksStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.pagesCrawled))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("success")))
}

func TestPrometheusSinkDuplicateDoneIsStable(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	id := uuid.New()
	batch := []progress.Event{
		evt(id, progress.StageTaskStart, 0, 0),
		evt(id, progress.StageTaskError, 0, 0),
		evt(id, progress.StageTaskError, 0, 0),
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.tasksRunning))
}
