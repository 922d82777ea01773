// Package scheduler owns the mapping of task id to live cron trigger and
// keeps it synchronized with persisted task definitions.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/execlog"
	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/store"
)

// TaskRunner executes a task when its trigger fires.
type TaskRunner interface {
	Run(ctx context.Context, task *model.Task) model.TaskRunResult
}

// specParser accepts standard 5-field expressions plus an optional leading
// seconds field.
var specParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether expr is a syntactically valid cron expression.
func Validate(expr string) error {
	if _, err := specParser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}
	return nil
}

// Scheduler manages cron triggers for active tasks. All trigger
// registration and removal goes through its mutex-guarded registry; no
// trigger state lives anywhere else.
type Scheduler struct {
	logger  *zap.Logger
	tasks   *store.TaskStore
	runner  TaskRunner
	execlog *execlog.Logger
	cron    *cron.Cron

	mu      sync.Mutex
	entries map[int64]cron.EntryID

	runCtx context.Context
	fires  sync.WaitGroup

	// OnRunComplete, when set before Start, observes every completed fire.
	// Tests use it to await executions deterministically.
	OnRunComplete func(taskID int64, result model.TaskRunResult)
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// New creates a scheduler.
func New(logger *zap.Logger, tasks *store.TaskStore, runner TaskRunner, log *execlog.Logger) *Scheduler {
	adapter := &cronLogger{logger: logger.Named("cron")}
	return &Scheduler{
		logger:  logger.Named("scheduler"),
		tasks:   tasks,
		runner:  runner,
		execlog: log,
		cron: cron.New(
			cron.WithParser(specParser),
			cron.WithChain(cron.Recover(adapter)),
		),
		entries: make(map[int64]cron.EntryID),
		runCtx:  context.Background(),
	}
}

// Start loads every persisted active task, registers its trigger, and
// starts the cron loop. A task whose expression has become invalid is
// skipped with an error log entry; only an unreadable store fails startup.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runCtx = ctx

	active, err := s.tasks.List(ctx, model.TaskStatusActive)
	if err != nil {
		return fmt.Errorf("failed to load active tasks: %w", err)
	}

	scheduled := 0
	for _, task := range active {
		if err := s.Schedule(ctx, task); err != nil {
			s.logger.Error("Skipping task with invalid schedule",
				zap.Int64("task_id", task.ID),
				zap.String("expression", task.CronExpression),
				zap.Error(err))
			continue
		}
		scheduled++
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.Int("active_tasks", len(active)),
		zap.Int("scheduled", scheduled))
	return nil
}

// Schedule registers a trigger for the task. An existing trigger for the
// same id is stopped and discarded first, so re-registration is
// idempotent. On an invalid cron expression the task remains unscheduled,
// an error log entry referencing the task is appended, and stored state is
// untouched.
func (s *Scheduler) Schedule(ctx context.Context, task *model.Task) error {
	if _, err := specParser.Parse(task.CronExpression); err != nil {
		s.execlog.Error(ctx, &task.ID, nil,
			fmt.Sprintf("Scheduling failed for task %q: invalid cron expression %q", task.Name, task.CronExpression),
			map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%w: %v", ErrInvalidCron, err)
	}

	// Snapshot the task so later store mutations don't race the trigger.
	snapshot := *task

	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[task.ID]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, task.ID)
	}

	entryID, err := s.cron.AddFunc(task.CronExpression, func() {
		s.fire(&snapshot)
	})
	if err != nil {
		s.execlog.Error(ctx, &task.ID, nil,
			fmt.Sprintf("Scheduling failed for task %q: %v", task.Name, err), nil)
		return fmt.Errorf("failed to register trigger: %w", err)
	}

	s.entries[task.ID] = entryID
	s.logger.Info("Scheduled task",
		zap.Int64("task_id", task.ID),
		zap.String("name", task.Name),
		zap.String("expression", task.CronExpression))
	return nil
}

// Unschedule stops and removes the trigger for a task id. It is a no-op
// when no trigger is registered. An execution already in flight is not
// interrupted; only future fires are prevented.
func (s *Scheduler) Unschedule(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[taskID]
	if !ok {
		return
	}
	s.cron.Remove(entryID)
	delete(s.entries, taskID)
	s.logger.Info("Unscheduled task", zap.Int64("task_id", taskID))
}

// Scheduled reports whether a trigger is currently registered for the id.
func (s *Scheduler) Scheduled(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[taskID]
	return ok
}

// TriggerCount returns the number of live triggers.
func (s *Scheduler) TriggerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// fire runs one trigger firing as a tracked background execution. The
// trigger loop does not await completion, and concurrent fires of the same
// task are not serialized: a run that outlives its interval may overlap the
// next one. That is a documented limitation, not something this layer
// prevents.
func (s *Scheduler) fire(task *model.Task) {
	s.fires.Add(1)
	go func() {
		defer s.fires.Done()
		result := s.runner.Run(s.runCtx, task)
		if s.OnRunComplete != nil {
			s.OnRunComplete(task.ID, result)
		}
	}()
}

// RunNow fires the task immediately, outside its cron schedule, using the
// same tracked fire-and-forget path as a trigger firing.
func (s *Scheduler) RunNow(task *model.Task) {
	s.fire(task)
}

// Stop halts the trigger loop and waits for it to drain. In-flight
// executions continue independently; Wait observes them.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// Wait blocks until every spawned execution has completed.
func (s *Scheduler) Wait() {
	s.fires.Wait()
}
