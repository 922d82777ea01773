package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/execlog"
	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/params"
	"github.com/t77yq/taskdog/internal/runtime"
	"github.com/t77yq/taskdog/internal/store"
)

// ErrNoScripts is returned when a task resolves to an empty script list.
var ErrNoScripts = errors.New("task has no scripts")

// Runner executes the scripts of a task in order and records the outcome.
type Runner struct {
	logger  *zap.Logger
	tasks   *store.TaskStore
	scripts *store.ScriptStore
	globals *store.GlobalStore
	env     *runtime.Builder
	exec    *ProcessExecutor
	execlog *execlog.Logger
}

// NewRunner creates an execution orchestrator.
func NewRunner(
	logger *zap.Logger,
	st *store.Store,
	env *runtime.Builder,
	exec *ProcessExecutor,
	log *execlog.Logger,
) *Runner {
	return &Runner{
		logger:  logger.Named("runner"),
		tasks:   st.Tasks,
		scripts: st.Scripts,
		globals: st.Globals,
		env:     env,
		exec:    exec,
		execlog: log,
	}
}

// Run executes every script bound to the task, in list order, and returns
// the aggregated result. A failing or missing script does not stop the
// scripts after it; overall success requires every script to succeed.
// Failures never propagate as panics or errors past this boundary.
func (r *Runner) Run(ctx context.Context, task *model.Task) model.TaskRunResult {
	start := time.Now()
	result := model.TaskRunResult{RunID: uuid.New().String()}

	scriptIDs := task.ResolvedScriptIDs()
	if len(scriptIDs) == 0 {
		result.Error = ErrNoScripts.Error()
		r.execlog.Error(ctx, &task.ID, nil,
			fmt.Sprintf("Task %q has no scripts to execute", task.Name), nil)
		return result
	}

	// last_run records when the execution began, written as a partial
	// patch so concurrent status changes are not clobbered.
	startUTC := start.UTC()
	if err := r.tasks.Patch(ctx, task.ID, store.TaskPatch{LastRun: &startUTC}); err != nil {
		r.logger.Warn("Failed to update last_run",
			zap.Int64("task_id", task.ID),
			zap.Error(err))
	}

	r.execlog.Info(ctx, &task.ID, nil, fmt.Sprintf("Task %q started", task.Name), nil)

	allSuccess := true
	for _, scriptID := range scriptIDs {
		scriptResult := r.runScript(ctx, task, scriptID)
		if !scriptResult.Success {
			allSuccess = false
		}
		result.Results = append(result.Results, scriptResult)
	}

	result.Success = allSuccess
	result.TotalDuration = time.Since(start)

	summary := fmt.Sprintf("Task %q completed in %s", task.Name, result.TotalDuration.Round(time.Millisecond))
	details := map[string]interface{}{
		"run_id":            result.RunID,
		"results":           result.Results,
		"total_duration_ms": result.TotalDuration.Milliseconds(),
	}
	if allSuccess {
		r.execlog.Success(ctx, &task.ID, nil, summary, details)
	} else {
		r.execlog.Error(ctx, &task.ID, nil,
			fmt.Sprintf("Task %q finished with failures in %s", task.Name, result.TotalDuration.Round(time.Millisecond)),
			details)
	}
	return result
}

func (r *Runner) runScript(ctx context.Context, task *model.Task, scriptID int64) model.ScriptRunResult {
	start := time.Now()

	script, err := r.scripts.Get(ctx, scriptID)
	if err != nil || script == nil {
		message := fmt.Sprintf("script %d not found", scriptID)
		if err != nil {
			message = fmt.Sprintf("script %d lookup failed: %v", scriptID, err)
		}
		r.execlog.Error(ctx, &task.ID, &scriptID, message, nil)
		return model.ScriptRunResult{
			ScriptID: scriptID,
			Success:  false,
			ExitCode: -1,
			Error:    message,
			Duration: time.Since(start),
		}
	}

	env, execErr := r.buildEnvironment(ctx, script, task.ParamsFor(scriptID))
	if execErr != nil {
		message := fmt.Sprintf("failed to prepare environment for script %q: %v", script.Name, execErr)
		r.execlog.Error(ctx, &task.ID, &scriptID, message, nil)
		return model.ScriptRunResult{
			ScriptID: scriptID,
			Name:     script.Name,
			Success:  false,
			ExitCode: -1,
			Error:    message,
			Duration: time.Since(start),
		}
	}

	execResult := r.exec.Execute(ctx, script, env, nil)
	duration := time.Since(start)

	details := map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"exit_code":   execResult.ExitCode,
		"stdout":      execResult.Stdout,
		"stderr":      execResult.Stderr,
	}
	if execResult.Success {
		r.execlog.Success(ctx, &task.ID, &scriptID,
			fmt.Sprintf("Script %q completed in %s", script.Name, duration.Round(time.Millisecond)), details)
	} else {
		message := execResult.Error
		if message == "" {
			message = fmt.Sprintf("exit code %d", execResult.ExitCode)
		}
		r.execlog.Error(ctx, &task.ID, &scriptID,
			fmt.Sprintf("Script %q failed: %s", script.Name, message), details)
	}

	return model.ScriptRunResult{
		ScriptID: scriptID,
		Name:     script.Name,
		Success:  execResult.Success,
		ExitCode: execResult.ExitCode,
		Stdout:   execResult.Stdout,
		Stderr:   execResult.Stderr,
		Error:    execResult.Error,
		Duration: duration,
	}
}

// buildEnvironment merges the parameter layers, resolves global-variable
// references against a snapshot read fresh for this execution, and hands
// the result to the environment builder.
func (r *Runner) buildEnvironment(ctx context.Context, script *model.Script, overrides model.Params) (map[string]string, error) {
	globals, err := r.globals.All(ctx)
	if err != nil {
		return nil, err
	}
	kv := make(map[string]interface{}, len(globals))
	for _, g := range globals {
		kv[g.Key] = g.Value
	}
	resolved := params.Resolve(script.DefaultParams, overrides, kv)
	return r.env.BuildFrom(globals, resolved)
}

// RunScript executes a single script outside any task, with its default
// parameters only. This is the manual "test run" path; stream, when
// non-nil, receives incremental output for live tailing.
func (r *Runner) RunScript(ctx context.Context, script *model.Script, stream Stream) model.ExecutionResult {
	r.execlog.Info(ctx, nil, &script.ID, fmt.Sprintf("Testing script %q", script.Name), nil)

	start := time.Now()
	env, err := r.buildEnvironment(ctx, script, nil)
	if err != nil {
		message := fmt.Sprintf("failed to prepare environment: %v", err)
		r.execlog.Error(ctx, nil, &script.ID, message, nil)
		if stream != nil {
			stream.Stderr(message)
			stream.Exit(-1)
		}
		return model.ExecutionResult{Success: false, ExitCode: -1, Stderr: message, Error: message}
	}

	result := r.exec.Execute(ctx, script, env, stream)
	duration := time.Since(start)

	details := map[string]interface{}{
		"duration_ms": duration.Milliseconds(),
		"exit_code":   result.ExitCode,
		"stdout":      result.Stdout,
		"stderr":      result.Stderr,
	}
	if result.Success {
		r.execlog.Success(ctx, nil, &script.ID,
			fmt.Sprintf("Script test completed in %s", duration.Round(time.Millisecond)), details)
	} else {
		r.execlog.Error(ctx, nil, &script.ID,
			fmt.Sprintf("Script test failed: %s", firstNonEmpty(result.Error, result.Stderr, fmt.Sprintf("exit code %d", result.ExitCode))),
			details)
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
