package inmemorystore

import (
	"context"
	"sync"

	"github.com/vk/burstmake/internal/dag"
	"github.com/vk/burstmake/internal/jobstore"
)

// Store is an in-memory implementation of jobstore.Store using sync.Map
// for fine-grained concurrent access without global lock contention.
//
// The store maintains two independent sync.Maps:
//   - states: job ID to dag.Status
//   - errors: job ID to the error of a failed job
type Store struct {
	states sync.Map
	errors sync.Map
}

var _ jobstore.Store = (*Store)(nil)

// New creates a new, empty in-memory job state store.
func New() *Store {
	return &Store{}
}

// SetStatus updates the status of a specific job.
func (s *Store) SetStatus(ctx context.Context, id string, status dag.Status) error {
	s.states.Store(id, status)
	return nil
}

// GetStatus retrieves the status of a specific job.
// If a status has not been set, it returns dag.Pending.
func (s *Store) GetStatus(ctx context.Context, id string) (dag.Status, error) {
	status, ok := s.states.Load(id)
	if !ok {
		return dag.Pending, nil
	}
	return status.(dag.Status), nil
}

// SetError records the failure error of a job.
func (s *Store) SetError(ctx context.Context, id string, jobErr error) error {
	s.errors.Store(id, jobErr)
	return nil
}

// GetError retrieves the recorded error of a failed job.
func (s *Store) GetError(ctx context.Context, id string) (error, error) {
	err, ok := s.errors.Load(id)
	if !ok {
		return nil, nil // If not found, there is no error.
	}
	return err.(error), nil
}

// Counts tallies the recorded statuses.
func (s *Store) Counts(ctx context.Context) (map[dag.Status]int, error) {
	counts := make(map[dag.Status]int)
	s.states.Range(func(_, v any) bool {
		counts[v.(dag.Status)]++
		return true
	})
	return counts, nil
}
