package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/execlog"
	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/store"
	"github.com/t77yq/taskdog/internal/testutil"
)

// stubRunner records every run without spawning processes.
type stubRunner struct {
	mu   sync.Mutex
	runs []int64
}

func (r *stubRunner) Run(ctx context.Context, task *model.Task) model.TaskRunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, task.ID)
	return model.TaskRunResult{RunID: "stub", Success: true}
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newTestScheduler(t *testing.T) (*Scheduler, *stubRunner, *store.Store) {
	t.Helper()
	st := testutil.NewStore(t)
	runner := &stubRunner{}
	logger := zap.NewNop()
	sched := New(logger, st.Tasks, runner, execlog.New(logger, st.Logs))
	return sched, runner, st
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("0 0 * * *"))
	assert.NoError(t, Validate("*/5 * * * * *"))
	assert.NoError(t, Validate("@hourly"))

	err := Validate("not a cron")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCron))
}

func TestSchedule_InvalidExpression(t *testing.T) {
	sched, _, st := newTestScheduler(t)
	ctx := context.Background()

	task := testutil.CreateTask(t, st, "broken", "0 0 * * *", model.TaskStatusActive, 1)
	task.CronExpression = "every tuesday"

	err := sched.Schedule(ctx, task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidCron))
	assert.False(t, sched.Scheduled(task.ID))

	// The failure is recorded against the task.
	entries, listErr := st.Logs.List(ctx, store.LogFilter{TaskID: &task.ID, Type: model.LogTypeError})
	require.NoError(t, listErr)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "invalid cron expression")

	// Other tasks still schedule normally afterwards.
	healthy := testutil.CreateTask(t, st, "healthy", "0 0 * * *", model.TaskStatusActive, 1)
	require.NoError(t, sched.Schedule(ctx, healthy))
	assert.True(t, sched.Scheduled(healthy.ID))
}

func TestSchedule_Idempotent(t *testing.T) {
	sched, _, st := newTestScheduler(t)
	ctx := context.Background()

	task := testutil.CreateTask(t, st, "dup", "0 0 * * *", model.TaskStatusActive, 1)
	require.NoError(t, sched.Schedule(ctx, task))
	require.NoError(t, sched.Schedule(ctx, task))

	assert.Equal(t, 1, sched.TriggerCount())
}

func TestUnschedule_NoopWhenAbsent(t *testing.T) {
	sched, _, _ := newTestScheduler(t)

	sched.Unschedule(42)
	assert.Equal(t, 0, sched.TriggerCount())
}

func TestStart_SkipsInvalidTasks(t *testing.T) {
	sched, _, st := newTestScheduler(t)
	ctx := context.Background()

	testutil.CreateTask(t, st, "good", "0 0 * * *", model.TaskStatusActive, 1)
	testutil.CreateTask(t, st, "bad", "nonsense", model.TaskStatusActive, 1)
	testutil.CreateTask(t, st, "dormant", "0 0 * * *", model.TaskStatusInactive, 1)

	require.NoError(t, sched.Start(ctx))
	defer sched.Stop()

	assert.Equal(t, 1, sched.TriggerCount())
}

func TestFire_OnCronTrigger(t *testing.T) {
	sched, runner, st := newTestScheduler(t)
	ctx := context.Background()

	done := make(chan int64, 4)
	sched.OnRunComplete = func(taskID int64, result model.TaskRunResult) {
		done <- taskID
	}

	task := testutil.CreateTask(t, st, "everysecond", "* * * * * *", model.TaskStatusActive, 1)

	require.NoError(t, sched.Start(ctx))
	defer func() {
		sched.Stop()
		sched.Wait()
	}()

	select {
	case firedID := <-done:
		assert.Equal(t, task.ID, firedID)
	case <-time.After(3 * time.Second):
		t.Fatal("trigger did not fire")
	}
	assert.GreaterOrEqual(t, runner.count(), 1)
}

func TestRunNow(t *testing.T) {
	sched, runner, st := newTestScheduler(t)

	done := make(chan int64, 1)
	sched.OnRunComplete = func(taskID int64, result model.TaskRunResult) {
		done <- taskID
	}

	task := testutil.CreateTask(t, st, "manual", "0 0 * * *", model.TaskStatusInactive, 1)
	sched.RunNow(task)

	select {
	case firedID := <-done:
		assert.Equal(t, task.ID, firedID)
	case <-time.After(3 * time.Second):
		t.Fatal("manual run did not complete")
	}
	assert.Equal(t, 1, runner.count())
	assert.False(t, sched.Scheduled(task.ID))
}
