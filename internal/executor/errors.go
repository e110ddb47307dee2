package executor

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/burstmake/internal/task"
)

var (
	// ErrSubmission means the task never reached a state where its action
	// could run, e.g. the queue rejected it or was unreachable.
	ErrSubmission = errors.New("submission failed")
	// ErrActionFailed means the action ran and exited nonzero.
	ErrActionFailed = errors.New("action failed")
)

// ActionError attaches the backend's report to a failed task.
type ActionError struct {
	JobID  string
	Rule   string
	Status ExitStatus
	// Err is the infrastructure error, if the failure was not an exit code.
	Err error
}

func (e *ActionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "job %s (rule %s)", e.JobID, e.Rule)
	if e.Status.ExternalID != "" {
		fmt.Fprintf(&sb, " [external id %s]", e.Status.ExternalID)
	}
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	} else {
		fmt.Fprintf(&sb, " exited with code %d", e.Status.Code)
	}
	if tail := strings.TrimSpace(e.Status.Stderr); tail != "" {
		fmt.Fprintf(&sb, ": %s", tail)
	}
	return sb.String()
}

// Unwrap exposes the error kind: the infrastructure error, or
// ErrActionFailed for a nonzero exit.
func (e *ActionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrActionFailed
}

// Outcome converts an Execute result into the job's failure, or nil when the
// task succeeded.
func Outcome(t *task.Task, status ExitStatus, err error) error {
	if err == nil && status.Code == 0 {
		return nil
	}
	return &ActionError{JobID: t.JobID, Rule: t.Rule, Status: status, Err: err}
}
