package model

import "time"

// ExecutionResult is the outcome of a single script execution. It is
// transient: the orchestrator summarizes it into a LogEntry.
type ExecutionResult struct {
	Success  bool   `json:"success"`
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Error    string `json:"error,omitempty"`
}

// ScriptRunResult is the per-script outcome inside a task run
type ScriptRunResult struct {
	ScriptID int64         `json:"script_id"`
	Name     string        `json:"script_name,omitempty"`
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// TaskRunResult aggregates the per-script results of one task execution
type TaskRunResult struct {
	RunID         string            `json:"run_id"`
	Success       bool              `json:"success"`
	Results       []ScriptRunResult `json:"results"`
	TotalDuration time.Duration     `json:"total_duration"`
	Error         string            `json:"error,omitempty"`
}
