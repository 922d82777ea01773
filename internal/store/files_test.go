package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/taskdog/internal/model"
)

func newTestFiles(t *testing.T) *Files {
	t.Helper()
	files, err := NewFiles(filepath.Join(t.TempDir(), "scripts"))
	require.NoError(t, err)
	return files
}

func TestFiles_RoundTrip(t *testing.T) {
	files := newTestFiles(t)

	require.NoError(t, files.Write("hello.sh", "echo hi"))
	content, err := files.Read("hello.sh")
	require.NoError(t, err)
	assert.Equal(t, "echo hi", content)

	require.NoError(t, files.Remove("hello.sh"))
	_, err = files.Read("hello.sh")
	assert.Error(t, err)

	// Removing a missing file is not an error.
	require.NoError(t, files.Remove("hello.sh"))
}

func TestFiles_RejectsTraversal(t *testing.T) {
	files := newTestFiles(t)

	_, err := files.Resolve("../outside.sh")
	assert.ErrorIs(t, err, ErrInvalidPath)

	err = files.Write("../../etc/cron.d/evil", "boom")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestFiles_FileName(t *testing.T) {
	files := newTestFiles(t)

	assert.Equal(t, "daily_backup.py", files.FileName("Daily Backup", model.LanguagePython))
	assert.Equal(t, "cleanup.sh", files.FileName("Cleanup!", model.LanguageShell))
	assert.Equal(t, "report.js", files.FileName("report", model.LanguageNode))
}

func TestFiles_UniquePath(t *testing.T) {
	files := newTestFiles(t)

	first, err := files.UniquePath("job", model.LanguageShell)
	require.NoError(t, err)
	assert.Equal(t, "job.sh", first)
	require.NoError(t, files.Write(first, "#1"))

	second, err := files.UniquePath("job", model.LanguageShell)
	require.NoError(t, err)
	assert.Equal(t, "job-1.sh", second)
	require.NoError(t, files.Write(second, "#2"))

	third, err := files.UniquePath("job", model.LanguageShell)
	require.NoError(t, err)
	assert.Equal(t, "job-2.sh", third)
}
