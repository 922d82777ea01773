// Package execlog appends structured log entries for execution lifecycle
// events. Logging never fails its caller: persistence errors are reported
// to the process log only, so a broken log store cannot interrupt a run.
package execlog

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/store"
)

// Logger writes LogEntry records through the log store.
type Logger struct {
	logger *zap.Logger
	logs   *store.LogStore
}

// New creates an execution logger.
func New(logger *zap.Logger, logs *store.LogStore) *Logger {
	return &Logger{logger: logger.Named("execlog"), logs: logs}
}

// Log appends one entry. taskID and scriptID may be nil. details, when
// non-nil, is JSON-encoded into the entry.
func (l *Logger) Log(ctx context.Context, taskID, scriptID *int64, typ model.LogType, message string, details interface{}) {
	entry := &model.LogEntry{
		Type:      typ,
		Message:   message,
		TaskID:    taskID,
		ScriptID:  scriptID,
		CreatedAt: time.Now().UTC(),
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			l.logger.Error("Failed to encode log details", zap.Error(err))
		} else {
			entry.Details = raw
		}
	}

	if _, err := l.logs.Append(ctx, entry); err != nil {
		l.logger.Error("Failed to persist log entry",
			zap.String("type", string(typ)),
			zap.String("message", message),
			zap.Error(err))
		return
	}

	l.logger.Debug("Execution log entry",
		zap.String("type", string(typ)),
		zap.String("message", message))
}

// Info appends an info entry.
func (l *Logger) Info(ctx context.Context, taskID, scriptID *int64, message string, details interface{}) {
	l.Log(ctx, taskID, scriptID, model.LogTypeInfo, message, details)
}

// Success appends a success entry.
func (l *Logger) Success(ctx context.Context, taskID, scriptID *int64, message string, details interface{}) {
	l.Log(ctx, taskID, scriptID, model.LogTypeSuccess, message, details)
}

// Error appends an error entry.
func (l *Logger) Error(ctx context.Context, taskID, scriptID *int64, message string, details interface{}) {
	l.Log(ctx, taskID, scriptID, model.LogTypeError, message, details)
}
