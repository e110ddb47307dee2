package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"slices"

	"github.com/vk/burstmake/internal/dag"
)

// ErrInvalidTransition is returned when a job is moved between two states
// the lifecycle does not connect.
var ErrInvalidTransition = errors.New("invalid job state transition")

var allowedTransitions = map[dag.Status][]dag.Status{
	dag.Pending: {dag.Ready},
	dag.Ready:   {dag.Running, dag.Done, dag.Failed},
	dag.Running: {dag.Done, dag.Failed},
}

func transition(j *dag.Job, to dag.Status) error {
	if !slices.Contains(allowedTransitions[j.Status], to) {
		return fmt.Errorf("%w: job %s from %s to %s", ErrInvalidTransition, j.ID, j.Status, to)
	}
	j.Status = to
	return nil
}

// readyQueue orders ready jobs by descending rule priority, then by the order
// in which the resolver created them.
type readyQueue []*dag.Job

var _ heap.Interface = (*readyQueue)(nil)

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].Priority() != q[j].Priority() {
		return q[i].Priority() > q[j].Priority()
	}
	return q[i].Seq() < q[j].Seq()
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x any) { *q = append(*q, x.(*dag.Job)) }

func (q *readyQueue) Pop() any {
	old := *q
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return j
}
