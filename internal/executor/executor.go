// Package executor defines the interface through which the scheduler runs a
// prepared task on a backend, and the error kinds backends report.
package executor

import (
	"context"

	"github.com/vk/burstmake/internal/task"
)

// ExitStatus is the terminal state of one task as reported by a backend.
type ExitStatus struct {
	Code int
	// Stderr holds the tail of the action's error output, when captured.
	Stderr string
	// ExternalID identifies the job on an external queue.
	ExternalID string
}

// Executor runs one task to completion. It returns a non-nil error only for
// infrastructure failures; an action that ran and failed is reported through
// a nonzero ExitStatus.Code.
//
// Implementations must be safe for concurrent use by the scheduler's workers.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) (ExitStatus, error)
}
