// Package executortest provides an in-process executor.Executor for tests.
package executortest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vk/burstmake/internal/artifact"
	"github.com/vk/burstmake/internal/executor"
	"github.com/vk/burstmake/internal/task"
)

// Fake records every task it receives and succeeds unless told otherwise.
// Successful tasks touch their outputs on FS when one is set.
type Fake struct {
	FS    artifact.FS
	Delay time.Duration

	mu      sync.Mutex
	codes   map[string]int
	errs    map[string]error
	gates   map[string]chan struct{}
	calls   []*task.Task
	running int
	peak    int
}

var _ executor.Executor = (*Fake)(nil)

// New creates a Fake that writes outputs to fs, which may be nil.
func New(fs artifact.FS) *Fake {
	return &Fake{
		FS:    fs,
		codes: make(map[string]int),
		errs:  make(map[string]error),
		gates: make(map[string]chan struct{}),
	}
}

// ExitWith makes the job with the given ID exit with code.
func (f *Fake) ExitWith(jobID string, code int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[jobID] = code
	return f
}

// FailWith makes the job with the given ID return err from Execute.
func (f *Fake) FailWith(jobID string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[jobID] = err
	return f
}

// Gate blocks the job with the given ID until the returned func is called.
func (f *Fake) Gate(jobID string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[jobID] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Execute implements executor.Executor.
func (f *Fake) Execute(ctx context.Context, t *task.Task) (executor.ExitStatus, error) {
	f.mu.Lock()
	f.calls = append(f.calls, t)
	f.running++
	if f.running > f.peak {
		f.peak = f.running
	}
	code := f.codes[t.JobID]
	err := f.errs[t.JobID]
	gate := f.gates[t.JobID]
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return executor.ExitStatus{Code: -1}, ctx.Err()
		}
	}
	if f.Delay > 0 {
		time.Sleep(f.Delay)
	}
	if err != nil {
		return executor.ExitStatus{}, err
	}
	if code != 0 {
		return executor.ExitStatus{Code: code, Stderr: "fake failure"}, nil
	}
	if f.FS != nil {
		for _, out := range t.Outputs {
			if touchErr := f.FS.Touch(out); touchErr != nil {
				return executor.ExitStatus{}, errors.Join(executor.ErrSubmission, touchErr)
			}
		}
	}
	return executor.ExitStatus{}, nil
}

// Calls returns the IDs of the executed jobs in call order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.calls))
	for i, t := range f.calls {
		ids[i] = t.JobID
	}
	return ids
}

// Tasks returns the executed tasks in call order.
func (f *Fake) Tasks() []*task.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*task.Task, len(f.calls))
	copy(out, f.calls)
	return out
}

// Peak returns the highest number of concurrently running tasks observed.
func (f *Fake) Peak() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}
