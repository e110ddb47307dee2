// Package localexecutor runs tasks as child processes of the current
// process, one `sh -c` invocation per task.
package localexecutor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/executor"
	"github.com/vk/burstmake/internal/task"
)

const waitDelay = 500 * time.Millisecond

// Options configures the local executor.
type Options struct {
	// Shell runs the command as `<Shell> -c <command>`. Defaults to "sh".
	Shell string
	// Stdout and Stderr receive the action's output unless Quiet is set.
	Stdout io.Writer
	Stderr io.Writer
	// PrintShellCmds writes each command to Stdout before running it.
	PrintShellCmds bool
	// Quiet discards the action's own output. The stderr tail is still
	// captured for failure reports.
	Quiet bool
	// Timeout bounds a single task. Zero means no limit.
	Timeout time.Duration
}

// Executor implements executor.Executor for local subprocesses.
type Executor struct {
	opts   Options
	stdout io.Writer
	stderr io.Writer
}

var _ executor.Executor = (*Executor)(nil)

// New creates a new local executor.
func New(opts Options) *Executor {
	if opts.Shell == "" {
		opts.Shell = "sh"
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Executor{
		opts:   opts,
		stdout: &lockedWriter{w: opts.Stdout},
		stderr: &lockedWriter{w: opts.Stderr},
	}
}

// Execute runs the task's command in its working directory and waits for it.
func (e *Executor) Execute(ctx context.Context, t *task.Task) (executor.ExitStatus, error) {
	logger := ctxlog.FromContext(ctx).With("job", t.JobID)

	if e.opts.PrintShellCmds {
		fmt.Fprintln(e.stdout, t.Command)
	}
	if err := ensureOutputDirs(t); err != nil {
		return executor.ExitStatus{}, err
	}

	runCtx := ctx
	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	tail := executor.NewTailBuffer(executor.DefaultTailSize)
	cmd := exec.CommandContext(runCtx, e.opts.Shell, "-c", t.Command)
	cmd.Dir = t.Workdir
	// Grandchildren may hold the output pipes open after a timeout kill.
	cmd.WaitDelay = waitDelay
	cmd.Env = append(os.Environ(), fmt.Sprintf("BURSTMAKE_THREADS=%d", t.Threads))
	if e.opts.Quiet {
		cmd.Stdout = io.Discard
		cmd.Stderr = tail
	} else {
		cmd.Stdout = e.stdout
		cmd.Stderr = io.MultiWriter(e.stderr, tail)
	}

	logger.Debug("Starting local process.", "command", t.Command, "dir", t.Workdir)
	err := cmd.Run()

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return executor.ExitStatus{Code: -1, Stderr: tail.String()},
			fmt.Errorf("command timed out after %s", e.opts.Timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return executor.ExitStatus{Stderr: tail.String()}, nil
	case errors.As(err, &exitErr):
		logger.Debug("Local process exited nonzero.", "code", exitErr.ExitCode())
		return executor.ExitStatus{Code: exitErr.ExitCode(), Stderr: tail.String()}, nil
	default:
		return executor.ExitStatus{Code: -1}, fmt.Errorf("failed to start command: %w", err)
	}
}

func ensureOutputDirs(t *task.Task) error {
	for _, out := range t.Outputs {
		path := out
		if !filepath.IsAbs(path) {
			path = filepath.Join(t.Workdir, path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for output %s: %w", out, err)
		}
	}
	return nil
}

// lockedWriter serializes writes from concurrent workers.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
