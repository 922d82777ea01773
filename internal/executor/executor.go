// Package executor launches script files as child processes and runs
// multi-script tasks. Execution never panics or returns a transport-level
// error: every failure mode resolves to a structured result.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/taskdog/internal/model"
	"github.com/t77yq/taskdog/internal/store"
)

// DefaultTimeout is the hard per-script execution budget.
const DefaultTimeout = 5 * time.Minute

// pipeDrainDelay bounds how long Wait blocks on output pipes after the
// direct child has exited. A script that backgrounds a child and exits
// leaves the pipe write-ends inherited by the orphan, so EOF may never
// arrive on its own.
const pipeDrainDelay = 3 * time.Second

// maxStreamLineBytes caps the length of a single streamed line. Longer
// lines are emitted in chunks rather than stalling the pipe.
const maxStreamLineBytes = 1024 * 1024

// Stream receives incremental output from a running script. Callbacks are
// invoked from reader goroutines as lines arrive, not at exit, so a
// long-running script can be tailed mid-flight.
type Stream interface {
	Stdout(line string)
	Stderr(line string)
	Exit(code int)
}

// Config configures the process executor.
type Config struct {
	// Timeout is the hard per-script budget. Zero means DefaultTimeout.
	Timeout time.Duration

	// NodeShimPath is the preload module attached to node executions.
	// Empty disables the preload.
	NodeShimPath string
}

// ProcessExecutor maps script languages to interpreter invocations and
// runs them as child processes.
type ProcessExecutor struct {
	logger *zap.Logger
	files  *store.Files
	config Config
}

// NewProcessExecutor creates a process executor.
func NewProcessExecutor(logger *zap.Logger, files *store.Files, config Config) *ProcessExecutor {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &ProcessExecutor{
		logger: logger.Named("executor"),
		files:  files,
		config: config,
	}
}

// Execute runs one script to completion and returns its structured result.
// stream may be nil. All failures, including spawn-level ones, resolve to
// a result with Success=false; Execute itself never fails.
func (e *ProcessExecutor) Execute(ctx context.Context, script *model.Script, env map[string]string, stream Stream) model.ExecutionResult {
	fullPath, err := e.files.Resolve(script.FilePath)
	if err != nil {
		return e.spawnFailure(stream, fmt.Sprintf("cannot resolve script path %s: %v", script.FilePath, err))
	}

	name, args := e.command(script.Language, fullPath)
	cmd := exec.Command(name, args...)
	// Scripts resolve sibling files relative to themselves, not to the
	// server's working directory.
	cmd.Dir = filepath.Dir(fullPath)
	cmd.Env = flattenEnv(env)
	// The child runs in its own process group so a kill reaches any
	// grandchildren it spawned, and Wait never blocks past the drain
	// delay on pipes held open by an orphan.
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = pipeDrainDelay

	var mu sync.Mutex
	var outBuf, errBuf strings.Builder
	cmd.Stdout = newLineWriter(&mu, &outBuf, func(line string) {
		if stream != nil {
			stream.Stdout(line)
		}
	})
	cmd.Stderr = newLineWriter(&mu, &errBuf, func(line string) {
		if stream != nil {
			stream.Stderr(line)
		}
	})

	e.logger.Info("Spawning script",
		zap.Int64("script_id", script.ID),
		zap.String("language", string(script.Language)),
		zap.String("command", name))

	if err := cmd.Start(); err != nil {
		return e.spawnFailure(stream, err.Error())
	}

	var timedOut bool
	timer := time.AfterFunc(e.config.Timeout, func() {
		mu.Lock()
		timedOut = true
		mu.Unlock()
		e.logger.Warn("Script exceeded execution budget, killing",
			zap.Int64("script_id", script.ID),
			zap.Duration("timeout", e.config.Timeout))
		killTree(cmd)
	})

	// Shutdown cancellation. Released when the process exits.
	waitDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			killTree(cmd)
		case <-waitDone:
		}
	}()

	waitErr := cmd.Wait()
	close(waitDone)
	// Cancel the timer on normal exit so a finished process is never
	// killed post-mortem.
	timer.Stop()

	exitCode := 0
	if waitErr != nil {
		if errors.Is(waitErr, exec.ErrWaitDelay) {
			// The process exited cleanly but an orphan kept the pipes
			// open past the drain delay. Use the real exit status.
			exitCode = cmd.ProcessState.ExitCode()
			waitErr = nil
		} else if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	mu.Lock()
	cmd.Stdout.(*lineWriter).flushLocked()
	cmd.Stderr.(*lineWriter).flushLocked()
	result := model.ExecutionResult{
		Success:  waitErr == nil && exitCode == 0,
		ExitCode: exitCode,
		Stdout:   strings.TrimSpace(outBuf.String()),
		Stderr:   strings.TrimSpace(errBuf.String()),
	}
	wasTimeout := timedOut
	mu.Unlock()

	// The timeout verdict always wins the race against a late close event.
	if wasTimeout {
		result.Success = false
		result.ExitCode = -1
		result.Error = fmt.Sprintf("script execution timeout (%s)", e.config.Timeout)
	} else if waitErr != nil && result.Stderr == "" {
		result.Error = waitErr.Error()
	}

	if stream != nil {
		stream.Exit(result.ExitCode)
	}
	return result
}

func (e *ProcessExecutor) spawnFailure(stream Stream, message string) model.ExecutionResult {
	e.logger.Error("Failed to spawn script", zap.String("error", message))
	if stream != nil {
		stream.Stderr(message)
		stream.Exit(-1)
	}
	return model.ExecutionResult{
		Success:  false,
		ExitCode: -1,
		Stderr:   message,
		Error:    message,
	}
}

// command maps a script's declared language to an interpreter invocation.
func (e *ProcessExecutor) command(lang model.Language, scriptPath string) (string, []string) {
	windows := goruntime.GOOS == "windows"

	switch lang {
	case model.LanguagePython:
		if windows {
			return "python", []string{scriptPath}
		}
		return "python3", []string{scriptPath}
	case model.LanguageNode, model.LanguageJavaScript:
		if e.config.NodeShimPath != "" {
			return "node", []string{"--require", e.config.NodeShimPath, scriptPath}
		}
		return "node", []string{scriptPath}
	case model.LanguageShell, model.LanguageBash:
		return "bash", []string{scriptPath}
	case model.LanguageBatch, model.LanguageCmd:
		if windows {
			return "cmd.exe", []string{"/c", scriptPath}
		}
		return "sh", []string{scriptPath}
	case model.LanguagePowerShell:
		if windows {
			return "powershell.exe", []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File", scriptPath}
		}
		return "pwsh", []string{"-NoProfile", "-File", scriptPath}
	default:
		// Unrecognized language: execute the path directly via the shell.
		if windows {
			return "cmd.exe", []string{"/c", scriptPath}
		}
		return "sh", []string{"-c", scriptPath}
	}
}

// lineWriter captures a pipe's full transcript while emitting complete
// lines to a stream callback. A line that grows past maxStreamLineBytes
// is emitted in chunks, so the writer always accepts input and the child
// never blocks on a full pipe.
type lineWriter struct {
	mu   *sync.Mutex
	buf  *strings.Builder
	emit func(string)
	line []byte
}

func newLineWriter(mu *sync.Mutex, buf *strings.Builder, emit func(string)) *lineWriter {
	return &lineWriter{mu: mu, buf: buf, emit: emit}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	w.buf.Write(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			w.line = append(w.line, p...)
			break
		}
		w.line = append(w.line, p[:i]...)
		w.emitLine()
		p = p[i+1:]
	}
	if len(w.line) >= maxStreamLineBytes {
		w.emitLine()
	}
	return n, nil
}

// flushLocked emits any trailing partial line. The caller holds mu.
func (w *lineWriter) flushLocked() {
	if len(w.line) > 0 {
		w.emitLine()
	}
}

func (w *lineWriter) emitLine() {
	line := w.line
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	w.emit(string(line))
	w.line = w.line[:0]
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
