// Package jobstore defines the interface for the mutable execution state of
// jobs during a run.
//
// The scheduler's coordinator owns job state; the store is a read-mostly
// mirror of it that other goroutines, such as the health endpoint, can query
// without touching the graph. It is created once per run and discarded when
// the run ends.
package jobstore

import (
	"context"

	"github.com/vk/burstmake/internal/dag"
)

// Store records the status and failure of each job by ID.
//
// Implementations MUST be safe for concurrent use.
type Store interface {
	// SetStatus updates the status of a job.
	SetStatus(ctx context.Context, id string, status dag.Status) error
	// GetStatus returns the recorded status, or dag.Pending if none.
	GetStatus(ctx context.Context, id string) (dag.Status, error)
	// SetError records why a job failed.
	SetError(ctx context.Context, id string, jobErr error) error
	// GetError returns the recorded failure, or nil.
	GetError(ctx context.Context, id string) (error, error)
	// Counts returns the number of jobs per status.
	Counts(ctx context.Context) (map[dag.Status]int, error)
}
