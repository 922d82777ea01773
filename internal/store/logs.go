package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
)

// LogStore persists execution log entries. Entries are append-only: ids
// are assigned monotonically by SQLite and rows are never updated.
type LogStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// LogFilter narrows a log listing.
type LogFilter struct {
	TaskID   *int64
	ScriptID *int64
	Type     model.LogType
	Limit    int
	Offset   int
}

// Append inserts a log entry and returns its assigned id.
func (s *LogStore) Append(ctx context.Context, entry *model.LogEntry) (int64, error) {
	var details sql.NullString
	if len(entry.Details) > 0 {
		details = sql.NullString{String: string(entry.Details), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO logs (type, message, script_id, task_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Type,
		entry.Message,
		nullInt64(entry.ScriptID),
		nullInt64(entry.TaskID),
		details,
		entry.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append log entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get log id: %w", err)
	}
	entry.ID = id
	return id, nil
}

// List returns log entries matching the filter, newest first.
func (s *LogStore) List(ctx context.Context, filter LogFilter) ([]*model.LogEntry, error) {
	query := "SELECT id, type, message, script_id, task_id, details, created_at FROM logs"
	args := []interface{}{}
	where := ""

	appendWhere := func(clause string, arg interface{}) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, arg)
	}

	if filter.TaskID != nil {
		appendWhere("task_id = ?", *filter.TaskID)
	}
	if filter.ScriptID != nil {
		appendWhere("script_id = ?", *filter.ScriptID)
	}
	if filter.Type != "" {
		appendWhere("type = ?", filter.Type)
	}

	query += where + " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	var entries []*model.LogEntry
	for rows.Next() {
		var entry model.LogEntry
		var scriptID, taskID sql.NullInt64
		var details sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.Message, &scriptID, &taskID, &details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if scriptID.Valid {
			entry.ScriptID = &scriptID.Int64
		}
		if taskID.Valid {
			entry.TaskID = &taskID.Int64
		}
		if details.Valid {
			entry.Details = []byte(details.String)
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// DeleteBefore removes entries older than the cutoff. Used by retention
// cleanup only; nothing else deletes log rows.
func (s *LogStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM logs WHERE created_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete logs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	s.logger.Info("Deleted old log entries",
		zap.Time("before", before),
		zap.Int64("deleted", affected))
	return affected, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
