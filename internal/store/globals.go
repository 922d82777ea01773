package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
)

// GlobalStore persists global variables. Values keep their JSON type:
// strings, numbers, booleans, objects, and arrays all round-trip.
type GlobalStore struct {
	logger *zap.Logger
	db     *sql.DB
}

// All returns every global variable.
func (s *GlobalStore) All(ctx context.Context) ([]model.GlobalVariable, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value, secret FROM globals ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list globals: %w", err)
	}
	defer rows.Close()

	var globals []model.GlobalVariable
	for rows.Next() {
		var g model.GlobalVariable
		var raw sql.NullString
		if err := rows.Scan(&g.Key, &raw, &g.Secret); err != nil {
			return nil, fmt.Errorf("failed to scan global: %w", err)
		}
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &g.Value); err != nil {
				// Tolerate pre-JSON rows written as bare strings.
				g.Value = raw.String
			}
		}
		globals = append(globals, g)
	}
	return globals, rows.Err()
}

// KV returns the globals as a plain key→value map.
func (s *GlobalStore) KV(ctx context.Context) (map[string]interface{}, error) {
	globals, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	kv := make(map[string]interface{}, len(globals))
	for _, g := range globals {
		kv[g.Key] = g.Value
	}
	return kv, nil
}

// Upsert inserts or replaces a single global variable.
func (s *GlobalStore) Upsert(ctx context.Context, key string, value interface{}, secret bool) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode global %q: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO globals (key, value, secret) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, secret = excluded.secret`,
		key, string(raw), secret,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert global %q: %w", key, err)
	}
	return nil
}

// Replace swaps the entire variable set in one transaction.
func (s *GlobalStore) Replace(ctx context.Context, globals []model.GlobalVariable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM globals"); err != nil {
		return fmt.Errorf("failed to clear globals: %w", err)
	}
	for _, g := range globals {
		raw, err := json.Marshal(g.Value)
		if err != nil {
			return fmt.Errorf("failed to encode global %q: %w", g.Key, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO globals (key, value, secret) VALUES (?, ?, ?)",
			g.Key, string(raw), g.Secret); err != nil {
			return fmt.Errorf("failed to insert global %q: %w", g.Key, err)
		}
	}
	return tx.Commit()
}

// Delete removes a global variable.
func (s *GlobalStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM globals WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete global %q: %w", key, err)
	}
	return nil
}
