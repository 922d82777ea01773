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

// ScriptStore persists script metadata. Script bodies live on disk under
// the scripts directory (see Files).
type ScriptStore struct {
	logger *zap.Logger
	db     *sql.DB
}

const scriptColumns = "id, name, description, language, file_path, default_params, grp, created_at, updated_at"

// Create inserts a script and returns it with its assigned id.
func (s *ScriptStore) Create(ctx context.Context, script *model.Script) (*model.Script, error) {
	now := time.Now().UTC()
	script.CreatedAt = now
	script.UpdatedAt = now

	defaults, err := json.Marshal(script.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to encode default params: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scripts (name, description, language, file_path, default_params, grp, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		script.Name,
		script.Description,
		script.Language,
		script.FilePath,
		string(defaults),
		script.Group,
		script.CreatedAt,
		script.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create script: %w", err)
	}
	script.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get script id: %w", err)
	}
	return script, nil
}

// Get returns the script with the given id, or nil when absent.
func (s *ScriptStore) Get(ctx context.Context, id int64) (*model.Script, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+scriptColumns+" FROM scripts WHERE id = ?", id)
	script, err := scanScript(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return script, err
}

// List returns all scripts, newest first.
func (s *ScriptStore) List(ctx context.Context) ([]*model.Script, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+scriptColumns+" FROM scripts ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list scripts: %w", err)
	}
	defer rows.Close()

	var scripts []*model.Script
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

// Update overwrites the mutable fields of a script.
func (s *ScriptStore) Update(ctx context.Context, script *model.Script) error {
	script.UpdatedAt = time.Now().UTC()
	defaults, err := json.Marshal(script.DefaultParams)
	if err != nil {
		return fmt.Errorf("failed to encode default params: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE scripts SET name = ?, description = ?, language = ?, file_path = ?, default_params = ?, grp = ?, updated_at = ?
		WHERE id = ?`,
		script.Name,
		script.Description,
		script.Language,
		script.FilePath,
		string(defaults),
		script.Group,
		script.UpdatedAt,
		script.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update script %d: %w", script.ID, err)
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

// Delete removes the script with the given id.
func (s *ScriptStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scripts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete script %d: %w", id, err)
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

func scanScript(row scanner) (*model.Script, error) {
	var script model.Script
	var description, defaults, group sql.NullString

	err := row.Scan(
		&script.ID,
		&script.Name,
		&description,
		&script.Language,
		&script.FilePath,
		&defaults,
		&group,
		&script.CreatedAt,
		&script.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan script: %w", err)
	}

	if description.Valid {
		script.Description = description.String
	}
	if defaults.Valid && defaults.String != "" && defaults.String != "null" {
		if err := json.Unmarshal([]byte(defaults.String), &script.DefaultParams); err != nil {
			return nil, fmt.Errorf("failed to decode default params: %w", err)
		}
	}
	if group.Valid {
		script.Group = group.String
	}
	return &script, nil
}
