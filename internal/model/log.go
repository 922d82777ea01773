package model

import (
	"encoding/json"
	"time"
)

// LogType classifies a log entry
type LogType string

const (
	LogTypeInfo    LogType = "info"
	LogTypeSuccess LogType = "success"
	LogTypeError   LogType = "error"
)

// LogEntry is an append-only record of an execution lifecycle event.
// Entries are never mutated after creation.
type LogEntry struct {
	ID        int64           `json:"id"`
	Type      LogType         `json:"type"`
	Message   string          `json:"message"`
	ScriptID  *int64          `json:"script_id,omitempty"`
	TaskID    *int64          `json:"task_id,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
