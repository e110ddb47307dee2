package inmemorystore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/burstmake/internal/dag"
)

func TestSetAndGetStatus(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Get status of a job that doesn't exist yet
	status, err := s.GetStatus(ctx, "align[sample=A]")
	require.NoError(t, err)
	assert.Equal(t, dag.Pending, status)

	err = s.SetStatus(ctx, "align[sample=A]", dag.Running)
	require.NoError(t, err)

	status, err = s.GetStatus(ctx, "align[sample=A]")
	require.NoError(t, err)
	assert.Equal(t, dag.Running, status)
}

func TestSetAndGetError(t *testing.T) {
	s := New()
	ctx := context.Background()

	retrievedErr, err := s.GetError(ctx, "all")
	require.NoError(t, err)
	assert.Nil(t, retrievedErr)

	expectedErr := errors.New("a test error occurred")
	require.NoError(t, s.SetError(ctx, "all", expectedErr))

	retrievedErr, err = s.GetError(ctx, "all")
	require.NoError(t, err)
	assert.Equal(t, expectedErr, retrievedErr)
}

func TestCounts(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SetStatus(ctx, "a", dag.Done))
	require.NoError(t, s.SetStatus(ctx, "b", dag.Done))
	require.NoError(t, s.SetStatus(ctx, "c", dag.Failed))
	require.NoError(t, s.SetStatus(ctx, "c", dag.Failed))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[dag.Status]int{dag.Done: 2, dag.Failed: 1}, counts)
}

// TestStore_ConcurrentAccess verifies that the store can be safely accessed by
// multiple goroutines simultaneously without data races or lost writes.
func TestStore_ConcurrentAccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	numGoroutines := 100
	var wg sync.WaitGroup

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job[i=%d]", i)
			_ = s.SetStatus(ctx, id, dag.Done)
			_ = s.SetError(ctx, id, fmt.Errorf("error for job %d", i))
		}(i)
	}
	wg.Wait()

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("job[i=%d]", i)

			status, err := s.GetStatus(ctx, id)
			assert.NoError(t, err)
			assert.Equal(t, dag.Done, status, "mismatched status for job %d", i)

			jobErr, err := s.GetError(ctx, id)
			assert.NoError(t, err)
			assert.EqualError(t, jobErr, fmt.Sprintf("error for job %d", i))
		}(i)
	}
	wg.Wait()

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, numGoroutines, counts[dag.Done])
}
