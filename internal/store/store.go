// Package store persists tasks, scripts, global variables, and execution
// logs in a single SQLite database. The deployment target is a single
// instance, so writes are last-writer-wins with no cross-process
// transactional guarantees.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store owns the database handle shared by the typed sub-stores.
type Store struct {
	logger *zap.Logger
	db     *sql.DB

	Tasks   *TaskStore
	Scripts *ScriptStore
	Logs    *LogStore
	Globals *GlobalStore
}

// Open opens (creating if necessary) the database at dbPath and bootstraps
// the schema.
func Open(logger *zap.Logger, dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time; concurrent task runs share this
	// handle, so serialize access through a single connection.
	db.SetMaxOpenConns(1)

	s := &Store{logger: logger, db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.Tasks = &TaskStore{logger: logger.Named("tasks"), db: db}
	s.Scripts = &ScriptStore{logger: logger.Named("scripts"), db: db}
	s.Logs = &LogStore{logger: logger.Named("logs"), db: db}
	s.Globals = &GlobalStore{logger: logger.Named("globals"), db: db}
	return s, nil
}

func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS scripts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT,
			language TEXT NOT NULL,
			file_path TEXT NOT NULL,
			default_params TEXT,
			grp TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tasks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			script_ids TEXT,
			script_id INTEGER,
			cron_expression TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'inactive',
			script_params TEXT,
			grp TEXT,
			last_run DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			message TEXT NOT NULL,
			script_id INTEGER,
			task_id INTEGER,
			details TEXT,
			created_at DATETIME NOT NULL
		);
		CREATE TABLE IF NOT EXISTS globals (
			key TEXT PRIMARY KEY,
			value TEXT,
			secret INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_logs_task_id ON logs(task_id);
		CREATE INDEX IF NOT EXISTS idx_logs_script_id ON logs(script_id);
		CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
