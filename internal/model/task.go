package model

import (
	"time"
)

// TaskStatus represents the scheduling status of a task
type TaskStatus string

const (
	TaskStatusActive   TaskStatus = "active"
	TaskStatusInactive TaskStatus = "inactive"
)

// Params is an arbitrarily nested mapping of string keys to JSON-like
// values (string/number/bool/null/object/array).
type Params map[string]interface{}

// Task binds one or more scripts to a cron schedule
type Task struct {
	ID             int64            `json:"id"`
	Name           string           `json:"name"`
	ScriptIDs      []int64          `json:"script_ids,omitempty"`
	ScriptID       int64            `json:"script_id,omitempty"` // legacy single-script field
	CronExpression string           `json:"cron_expression"`
	Status         TaskStatus       `json:"status"`
	ScriptParams   map[int64]Params `json:"script_params,omitempty"`
	Group          string           `json:"group,omitempty"`

	LastRun   *time.Time `json:"last_run,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ResolvedScriptIDs returns the ordered script list, falling back to the
// legacy single script_id field when the list is absent.
func (t *Task) ResolvedScriptIDs() []int64 {
	if len(t.ScriptIDs) > 0 {
		return t.ScriptIDs
	}
	if t.ScriptID != 0 {
		return []int64{t.ScriptID}
	}
	return nil
}

// ParamsFor returns the task-level parameter overrides for a script.
func (t *Task) ParamsFor(scriptID int64) Params {
	if t.ScriptParams == nil {
		return nil
	}
	return t.ScriptParams[scriptID]
}
