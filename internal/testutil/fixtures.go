// Package testutil provides shared fixtures: a temporary SQLite store and
// helpers that persist sample scripts and tasks.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/store"
)

// NewStore opens a store backed by a database in a per-test temp directory.
// The store is closed when the test finishes.
func NewStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(zap.NewNop(), filepath.Join(t.TempDir(), "taskdog.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, st.Close())
	})
	return st
}

// NewFiles returns a script-file manager rooted in a per-test temp directory.
func NewFiles(t *testing.T) *store.Files {
	t.Helper()

	files, err := store.NewFiles(filepath.Join(t.TempDir(), "scripts"))
	require.NoError(t, err)
	return files
}

// CreateScript persists a script row and writes its body to disk.
func CreateScript(
	t *testing.T,
	st *store.Store,
	files *store.Files,
	name string,
	lang model.Language,
	content string,
	defaults model.Params,
) *model.Script {
	t.Helper()

	filePath, err := files.UniquePath(name, lang)
	require.NoError(t, err)
	require.NoError(t, files.Write(filePath, content))

	script, err := st.Scripts.Create(context.Background(), &model.Script{
		Name:          name,
		Language:      lang,
		FilePath:      filePath,
		DefaultParams: defaults,
	})
	require.NoError(t, err)
	return script
}

// CreateTask persists a task bound to the given scripts.
func CreateTask(
	t *testing.T,
	st *store.Store,
	name, cronExpression string,
	status model.TaskStatus,
	scriptIDs ...int64,
) *model.Task {
	t.Helper()

	task, err := st.Tasks.Create(context.Background(), &model.Task{
		Name:           name,
		ScriptIDs:      scriptIDs,
		CronExpression: cronExpression,
		Status:         status,
	})
	require.NoError(t, err)
	return task
}
