package executor

import (
	"context"
	goruntime "runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/store"
	"github.com/t77yq/taskdog/internal/testutil"
)

// collectStream records streamed output for assertions.
type collectStream struct {
	mu     sync.Mutex
	stdout []string
	stderr []string
	exits  []int
}

func (s *collectStream) Stdout(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stdout = append(s.stdout, line)
}

func (s *collectStream) Stderr(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stderr = append(s.stderr, line)
}

func (s *collectStream) Exit(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits = append(s.exits, code)
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if goruntime.GOOS == "windows" {
		t.Skip("tests use bash scripts")
	}
}

func newTestExecutor(t *testing.T, config Config) (*ProcessExecutor, *store.Files) {
	t.Helper()
	files := testutil.NewFiles(t)
	return NewProcessExecutor(zap.NewNop(), files, config), files
}

func writeShellScript(t *testing.T, files *store.Files, name, content string) *model.Script {
	t.Helper()
	filePath, err := files.UniquePath(name, model.LanguageShell)
	require.NoError(t, err)
	require.NoError(t, files.Write(filePath, content))
	return &model.Script{ID: 1, Name: name, Language: model.LanguageShell, FilePath: filePath}
}

func TestExecute_Success(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{})
	script := writeShellScript(t, files, "greet", "#!/bin/bash\necho ok\n")

	result := exec.Execute(context.Background(), script, nil, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "ok", result.Stdout)
	assert.Empty(t, result.Error)
}

func TestExecute_NonZeroExit(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{})
	script := writeShellScript(t, files, "fail", "#!/bin/bash\necho boom >&2\nexit 3\n")

	result := exec.Execute(context.Background(), script, nil, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "boom", result.Stderr)
}

func TestExecute_Timeout(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{Timeout: 200 * time.Millisecond})
	script := writeShellScript(t, files, "slow", "#!/bin/bash\nsleep 10\n")

	start := time.Now()
	result := exec.Execute(context.Background(), script, map[string]string{"PATH": "/usr/bin:/bin"}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, result.Error, "timeout")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecute_SpawnFailure(t *testing.T) {
	skipWithoutShell(t)
	exec, _ := newTestExecutor(t, Config{})
	script := &model.Script{ID: 1, Name: "escape", Language: model.LanguageShell, FilePath: "../outside.sh"}

	stream := &collectStream{}
	result := exec.Execute(context.Background(), script, nil, stream)

	assert.False(t, result.Success)
	assert.Equal(t, -1, result.ExitCode)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, []int{-1}, stream.exits)
	assert.NotEmpty(t, stream.stderr)
}

func TestExecute_Streaming(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{})
	script := writeShellScript(t, files, "lines", "#!/bin/bash\necho one\necho two\necho err >&2\n")

	stream := &collectStream{}
	result := exec.Execute(context.Background(), script, nil, stream)

	assert.True(t, result.Success)
	assert.Equal(t, []string{"one", "two"}, stream.stdout)
	assert.Equal(t, []string{"err"}, stream.stderr)
	assert.Equal(t, []int{0}, stream.exits)
}

func TestExecute_EnvInjection(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{})
	script := writeShellScript(t, files, "env", "#!/bin/bash\necho \"$GREETING\"\n")

	result := exec.Execute(context.Background(), script, map[string]string{
		"GREETING": "hello",
		"PATH":     "/usr/bin:/bin",
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Stdout)
}

func TestExecute_WorkingDirectoryIsScriptDir(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{})
	require.NoError(t, files.Write("data.txt", "sibling"))
	script := writeShellScript(t, files, "reader", "#!/bin/bash\ncat data.txt\n")

	result := exec.Execute(context.Background(), script, map[string]string{"PATH": "/usr/bin:/bin"}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, "sibling", result.Stdout)
}

func TestExecute_BackgroundChildDoesNotBlockExit(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{})
	script := writeShellScript(t, files, "daemon", "#!/bin/bash\necho started\nsleep 30 &\nexit 0\n")

	start := time.Now()
	result := exec.Execute(context.Background(), script, map[string]string{"PATH": "/usr/bin:/bin"}, nil)

	// The orphaned sleep inherits the pipe write-ends; the drain delay
	// must release Wait with the real exit status of the direct child.
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "started", result.Stdout)
	assert.Less(t, time.Since(start), 20*time.Second)
}

func TestExecute_TimeoutKillsProcessGroup(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{Timeout: 200 * time.Millisecond})
	script := writeShellScript(t, files, "tree", "#!/bin/bash\nsleep 30 &\nwait\n")

	start := time.Now()
	result := exec.Execute(context.Background(), script, map[string]string{"PATH": "/usr/bin:/bin"}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, -1, result.ExitCode)
	assert.Contains(t, result.Error, "timeout")
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecute_OversizedOutputLine(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{})
	// A single 2MB line with no newline until the very end.
	script := writeShellScript(t, files, "bigline",
		"#!/bin/bash\nhead -c 2097152 /dev/zero | tr '\\0' 'a'\necho\n")

	stream := &collectStream{}
	start := time.Now()
	result := exec.Execute(context.Background(), script, map[string]string{"PATH": "/usr/bin:/bin"}, stream)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, 2*1024*1024, len(result.Stdout))
	assert.Less(t, time.Since(start), 20*time.Second)

	// The line arrives chunked but nothing is dropped.
	total := 0
	for _, chunk := range stream.stdout {
		total += len(chunk)
	}
	assert.Equal(t, 2*1024*1024, total)
	assert.Equal(t, []int{0}, stream.exits)
}

func TestExecute_ContextCancellation(t *testing.T) {
	skipWithoutShell(t)
	exec, files := newTestExecutor(t, Config{})
	script := writeShellScript(t, files, "hang", "#!/bin/bash\nsleep 10\n")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := exec.Execute(ctx, script, map[string]string{"PATH": "/usr/bin:/bin"}, nil)

	assert.False(t, result.Success)
	assert.Less(t, time.Since(start), 5*time.Second)
}
