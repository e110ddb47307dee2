package clusterexecutor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/executor"
	"github.com/vk/burstmake/internal/registry"
	"github.com/vk/burstmake/internal/task"
)

// DefaultScriptDir holds job scripts and status markers, relative to the
// working directory.
const DefaultScriptDir = ".burstmake/cluster"

// Options configures the cluster executor.
type Options struct {
	// Submit is the submission command template. Supported placeholders are
	// {jobscript}, {rule}, {jobid}, {threads}, {priority}, and
	// {resources.NAME}. The job script path is appended when the template
	// does not reference it.
	Submit string
	// Shell runs the submit command as `<Shell> -c <command>`.
	Shell string
	// ScriptDir overrides DefaultScriptDir.
	ScriptDir string
	// Workdir is the directory relative paths are resolved against.
	Workdir string
	// Watcher waits for the submitted job. Defaults to a MarkerWatcher.
	Watcher StatusWatcher
	// Stdout receives the submit command when PrintShellCmds is set.
	Stdout         io.Writer
	PrintShellCmds bool
}

// Submission describes a job accepted by the queue.
type Submission struct {
	Task       *task.Task
	ExternalID string
	// FinishedMarker and FailedMarker are written by the job script on exit.
	FinishedMarker string
	FailedMarker   string
}

// StatusWatcher blocks until a submitted job reaches a terminal status.
type StatusWatcher interface {
	Wait(ctx context.Context, sub Submission) (executor.ExitStatus, error)
}

// Executor implements executor.Executor by submitting job scripts.
type Executor struct {
	opts Options
	seq  atomic.Int64
}

var _ executor.Executor = (*Executor)(nil)

// New creates a cluster executor. The submit template is required.
func New(opts Options) (*Executor, error) {
	if strings.TrimSpace(opts.Submit) == "" {
		return nil, errors.New("cluster submit command must not be empty")
	}
	if opts.Shell == "" {
		opts.Shell = "sh"
	}
	if opts.ScriptDir == "" {
		opts.ScriptDir = DefaultScriptDir
	}
	if !filepath.IsAbs(opts.ScriptDir) && opts.Workdir != "" {
		opts.ScriptDir = filepath.Join(opts.Workdir, opts.ScriptDir)
	}
	if opts.Watcher == nil {
		opts.Watcher = &MarkerWatcher{}
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	return &Executor{opts: opts}, nil
}

// Execute writes the job script, submits it, and waits for the job.
func (e *Executor) Execute(ctx context.Context, t *task.Task) (executor.ExitStatus, error) {
	logger := ctxlog.FromContext(ctx).With("job", t.JobID)

	sub, script, err := e.writeScript(t)
	if err != nil {
		return executor.ExitStatus{}, fmt.Errorf("%w: %v", executor.ErrSubmission, err)
	}

	cmdline, err := renderSubmit(e.opts.Submit, t, script)
	if err != nil {
		return executor.ExitStatus{}, fmt.Errorf("%w: %v", executor.ErrSubmission, err)
	}
	if e.opts.PrintShellCmds {
		fmt.Fprintln(e.opts.Stdout, cmdline)
	}

	logger.Debug("Submitting cluster job.", "command", cmdline)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.opts.Shell, "-c", cmdline)
	cmd.Dir = t.Workdir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return executor.ExitStatus{Code: exitErr.ExitCode(), Stderr: stderr.String()},
				fmt.Errorf("%w: submit command exited with code %d", executor.ErrSubmission, exitErr.ExitCode())
		}
		return executor.ExitStatus{Code: -1}, fmt.Errorf("%w: %v", executor.ErrSubmission, err)
	}

	sub.ExternalID = lastLine(stdout.String())
	logger.Info("Submitted cluster job.", "external_id", sub.ExternalID)

	status, err := e.opts.Watcher.Wait(ctx, sub)
	status.ExternalID = sub.ExternalID
	return status, err
}

func (e *Executor) writeScript(t *task.Task) (Submission, string, error) {
	if err := os.MkdirAll(e.opts.ScriptDir, 0o755); err != nil {
		return Submission{}, "", fmt.Errorf("failed to create script directory: %w", err)
	}

	token := fmt.Sprintf("%s.%d", sanitize(t.JobID), e.seq.Add(1))
	script := filepath.Join(e.opts.ScriptDir, token+".sh")
	sub := Submission{
		Task:           t,
		FinishedMarker: filepath.Join(e.opts.ScriptDir, token+".finished"),
		FailedMarker:   filepath.Join(e.opts.ScriptDir, token+".failed"),
	}

	workdir := t.Workdir
	if workdir == "" {
		workdir = e.opts.Workdir
	}
	if abs, err := filepath.Abs(workdir); err == nil {
		workdir = abs
	}
	finished, _ := filepath.Abs(sub.FinishedMarker)
	failed, _ := filepath.Abs(sub.FailedMarker)

	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&sb, "# burstmake job %s (rule %s)\n", t.JobID, t.Rule)
	fmt.Fprintf(&sb, "cd %s || exit 1\n", shellQuote(workdir))
	fmt.Fprintf(&sb, "BURSTMAKE_THREADS=%d; export BURSTMAKE_THREADS\n", t.Threads)
	fmt.Fprintf(&sb, "(\n%s\n)\n", t.Command)
	sb.WriteString("code=$?\n")
	// The failed marker is renamed into place so a poller never reads it
	// half written.
	fmt.Fprintf(&sb, "if [ $code -eq 0 ]; then touch %s; else echo $code > %s && mv -f %s %s; fi\n",
		shellQuote(finished), shellQuote(failed+".tmp"), shellQuote(failed+".tmp"), shellQuote(failed))
	sb.WriteString("exit $code\n")

	if err := os.WriteFile(script, []byte(sb.String()), 0o755); err != nil {
		return Submission{}, "", fmt.Errorf("failed to write job script: %w", err)
	}
	return sub, script, nil
}

func renderSubmit(tmpl string, t *task.Task, script string) (string, error) {
	if !strings.Contains(tmpl, "{jobscript}") {
		tmpl = tmpl + " {jobscript}"
	}
	return registry.ExpandFunc(tmpl, func(key string) (string, error) {
		switch key {
		case "jobscript":
			return shellQuote(script), nil
		case "rule":
			return t.Rule, nil
		case "jobid":
			return t.JobID, nil
		case "threads":
			return strconv.Itoa(t.Threads), nil
		case "priority":
			return strconv.Itoa(t.Priority), nil
		}
		if name, ok := strings.CutPrefix(key, "resources."); ok {
			if v, ok := t.Resources[name]; ok {
				return strconv.Itoa(v), nil
			}
		}
		return "", fmt.Errorf("%w in submit command: %q", registry.ErrUnknownPlaceholder, key)
	})
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.=-]+`)

func sanitize(id string) string {
	return unsafeChars.ReplaceAllString(id, "_")
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
