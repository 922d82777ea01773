package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
)

// TaskStore persists scheduled tasks.
type TaskStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// TaskPatch describes a partial update. Nil fields are left untouched, so
// concurrent writers patching disjoint fields do not clobber each other.
type TaskPatch struct {
	Name           *string
	ScriptIDs      *[]int64
	CronExpression *string
	Status         *model.TaskStatus
	ScriptParams   *map[int64]model.Params
	Group          *string
	LastRun        *time.Time
}

const taskColumns = "id, name, script_ids, script_id, cron_expression, status, script_params, grp, last_run, created_at, updated_at"

// Create inserts a task and returns it with its assigned id. New tasks
// default to inactive.
func (s *TaskStore) Create(ctx context.Context, task *model.Task) (*model.Task, error) {
	if task.Status == "" {
		task.Status = model.TaskStatusInactive
	}
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	scriptIDs, err := json.Marshal(task.ScriptIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script ids: %w", err)
	}
	scriptParams, err := json.Marshal(task.ScriptParams)
	if err != nil {
		return nil, fmt.Errorf("failed to encode script params: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (name, script_ids, script_id, cron_expression, status, script_params, grp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Name,
		string(scriptIDs),
		task.ScriptID,
		task.CronExpression,
		task.Status,
		string(scriptParams),
		task.Group,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	task.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get task id: %w", err)
	}
	return task, nil
}

// Get returns the task with the given id, or nil when absent.
func (s *TaskStore) Get(ctx context.Context, id int64) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

// List returns tasks, optionally filtered by status, newest first.
func (s *TaskStore) List(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Patch applies a partial update. Only the provided fields are written.
func (s *TaskStore) Patch(ctx context.Context, id int64, patch TaskPatch) error {
	sets := "updated_at = ?"
	args := []interface{}{time.Now().UTC()}

	if patch.Name != nil {
		sets += ", name = ?"
		args = append(args, *patch.Name)
	}
	if patch.ScriptIDs != nil {
		encoded, err := json.Marshal(*patch.ScriptIDs)
		if err != nil {
			return fmt.Errorf("failed to encode script ids: %w", err)
		}
		sets += ", script_ids = ?"
		args = append(args, string(encoded))
	}
	if patch.CronExpression != nil {
		sets += ", cron_expression = ?"
		args = append(args, *patch.CronExpression)
	}
	if patch.Status != nil {
		sets += ", status = ?"
		args = append(args, *patch.Status)
	}
	if patch.ScriptParams != nil {
		encoded, err := json.Marshal(*patch.ScriptParams)
		if err != nil {
			return fmt.Errorf("failed to encode script params: %w", err)
		}
		sets += ", script_params = ?"
		args = append(args, string(encoded))
	}
	if patch.Group != nil {
		sets += ", grp = ?"
		args = append(args, *patch.Group)
	}
	if patch.LastRun != nil {
		sets += ", last_run = ?"
		args = append(args, *patch.LastRun)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE tasks SET "+sets+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to patch task %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the task with the given id.
func (s *TaskStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var scriptIDs, scriptParams, group sql.NullString
	var scriptID sql.NullInt64
	var lastRun sql.NullTime

	err := row.Scan(
		&task.ID,
		&task.Name,
		&scriptIDs,
		&scriptID,
		&task.CronExpression,
		&task.Status,
		&scriptParams,
		&group,
		&lastRun,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	if scriptIDs.Valid && scriptIDs.String != "" && scriptIDs.String != "null" {
		if err := json.Unmarshal([]byte(scriptIDs.String), &task.ScriptIDs); err != nil {
			return nil, fmt.Errorf("failed to decode script ids: %w", err)
		}
	}
	if scriptID.Valid {
		task.ScriptID = scriptID.Int64
	}
	if scriptParams.Valid && scriptParams.String != "" && scriptParams.String != "null" {
		if err := json.Unmarshal([]byte(scriptParams.String), &task.ScriptParams); err != nil {
			return nil, fmt.Errorf("failed to decode script params: %w", err)
		}
	}
	if group.Valid {
		task.Group = group.String
	}
	if lastRun.Valid {
		task.LastRun = &lastRun.Time
	}
	return &task, nil
}
