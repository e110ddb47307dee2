package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/burstmake/internal/artifact"
	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/dag"
	"github.com/vk/burstmake/internal/executor"
	"github.com/vk/burstmake/internal/jobstore"
	"github.com/vk/burstmake/internal/report"
	"github.com/vk/burstmake/internal/task"
)

// Mode selects what the scheduler does with a ready job.
type Mode int

const (
	// Execute hands jobs to the executor.
	Execute Mode = iota
	// DryRun only records and prints the planned actions.
	DryRun
	// Touch updates output timestamps instead of running actions.
	Touch
)

func (m Mode) String() string {
	switch m {
	case Execute:
		return "execute"
	case DryRun:
		return "dryrun"
	case Touch:
		return "touch"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Options configures a run.
type Options struct {
	// Jobs bounds the number of concurrently running tasks. Values below 1
	// mean 1.
	Jobs int
	Mode Mode
	// Workdir is the directory actions run in.
	Workdir string
	// FS is notified of rewritten outputs. Required in Touch mode.
	FS artifact.FS
	// Store, when set, mirrors job states for observers.
	Store jobstore.Store
	// Out receives the job announcements and the dry-run plan.
	Out io.Writer
	// Quiet suppresses job announcements outside dry-run mode.
	Quiet bool
	// MaxThreads caps the threads a task may request; 0 means no cap.
	MaxThreads int
}

// Result reports the outcome of a run.
type Result struct {
	Success bool
	// Order lists job IDs in dispatch order.
	Order []string
	// Planned holds the rendered tasks of a dry run, in dispatch order.
	Planned []*task.Task
	// Timings holds the wall time of every job that ran to completion.
	Timings []report.Timing
	// Failed maps job IDs to their failure.
	Failed map[string]error
	// NotRun lists jobs left unscheduled, in creation order.
	NotRun []string
}

// Scheduler dispatches the jobs of one graph. It is not reusable.
type Scheduler struct {
	graph *dag.Graph
	exec  executor.Executor
	opts  Options
	now   func() time.Time
}

// New creates a scheduler for the graph. exec may be nil outside Execute
// mode.
func New(graph *dag.Graph, exec executor.Executor, opts Options) *Scheduler {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &Scheduler{graph: graph, exec: exec, opts: opts, now: time.Now}
}

type completion struct {
	job    *dag.Job
	task   *task.Task
	status executor.ExitStatus
	err    error
}

// run is the coordinator's state. Only the goroutine executing Run touches
// it.
type run struct {
	*Scheduler
	waiting  map[*dag.Job]int
	ready    readyQueue
	inFlight int
	result   *Result
}

// Run dispatches every Pending job of the graph and waits for all dispatched
// work to finish. Skipped jobs count as satisfied dependencies. The returned
// error is non-nil only when the run could not be carried out as a whole,
// e.g. when it was cancelled; individual job failures are in the Result.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("mode", s.opts.Mode.String())
	switch {
	case s.graph == nil:
		return nil, errors.New("scheduler: graph is required")
	case s.opts.Mode == Execute && s.exec == nil:
		return nil, errors.New("scheduler: executor is required")
	case s.opts.Mode == Touch && s.opts.FS == nil:
		return nil, errors.New("scheduler: artifact FS is required in touch mode")
	}

	r := &run{
		Scheduler: s,
		waiting:   make(map[*dag.Job]int),
		result:    &Result{Failed: make(map[string]error)},
	}
	if err := r.init(ctx); err != nil {
		return nil, err
	}
	logger.Debug("Starting run.", "jobs", s.opts.Jobs, "ready", r.ready.Len())

	doneCh := make(chan completion, s.opts.Jobs)
	workers := new(errgroup.Group)
	workers.SetLimit(s.opts.Jobs)
	execCtx := context.WithoutCancel(ctx)

	var runErr error
	for {
		for r.inFlight < s.opts.Jobs && r.ready.Len() > 0 && ctx.Err() == nil {
			j := heap.Pop(&r.ready).(*dag.Job)
			if err := r.dispatch(ctx, j, workers, execCtx, doneCh); err != nil {
				runErr = err
				break
			}
		}
		if runErr != nil || r.inFlight == 0 {
			break
		}
		c := <-doneCh
		r.inFlight--
		if err := r.complete(ctx, c); err != nil {
			runErr = err
			break
		}
	}

	// Drain whatever is still running before reporting.
	for r.inFlight > 0 {
		c := <-doneCh
		r.inFlight--
		if err := r.complete(ctx, c); err != nil && runErr == nil {
			runErr = err
		}
	}
	_ = workers.Wait()

	res := r.result
	for _, j := range s.graph.Jobs() {
		if j.Status == dag.Pending || j.Status == dag.Ready {
			res.NotRun = append(res.NotRun, j.ID)
		}
	}
	if runErr == nil && ctx.Err() != nil {
		logger.Warn("Run cancelled, waiting jobs were not dispatched.", "not_run", len(res.NotRun))
		runErr = fmt.Errorf("run cancelled: %w", ctx.Err())
	}
	res.Success = runErr == nil && len(res.Failed) == 0 && len(res.NotRun) == 0

	logger.Info("Run finished.",
		"success", res.Success,
		"completed", len(res.Order)-len(res.Failed),
		"failed", len(res.Failed),
		"not_run", len(res.NotRun),
	)
	return res, runErr
}

func (r *run) init(ctx context.Context) error {
	for _, j := range r.graph.Jobs() {
		r.record(ctx, j)
		if j.Status == dag.Skipped {
			continue
		}
		if j.Status != dag.Pending {
			return fmt.Errorf("%w: job %s starts in state %s", ErrInvalidTransition, j.ID, j.Status)
		}
		n := 0
		for _, d := range j.Deps {
			if !d.Status.Satisfied() {
				n++
			}
		}
		r.waiting[j] = n
		if n == 0 {
			if err := r.admit(ctx, j); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) admit(ctx context.Context, j *dag.Job) error {
	if err := transition(j, dag.Ready); err != nil {
		return err
	}
	heap.Push(&r.ready, j)
	r.record(ctx, j)
	return nil
}

func (r *run) dispatch(ctx context.Context, j *dag.Job, workers *errgroup.Group, execCtx context.Context, doneCh chan<- completion) error {
	logger := ctxlog.FromContext(ctx).With("job", j.ID, "rule", j.Rule.Name)
	r.result.Order = append(r.result.Order, j.ID)

	t, err := task.FromJob(j, r.opts.MaxThreads, r.opts.Workdir)
	if err != nil {
		return r.fail(ctx, j, err)
	}

	switch r.opts.Mode {
	case DryRun:
		r.result.Planned = append(r.result.Planned, t)
		r.announce(j, t, true)
		return r.succeed(ctx, j)

	case Touch:
		fmt.Fprintf(r.opts.Out, "Touching output files of %s.\n", j.ID)
		for _, out := range j.Outputs {
			if err := r.opts.FS.Touch(out); err != nil {
				return r.fail(ctx, j, fmt.Errorf("failed to touch %s: %w", out, err))
			}
		}
		return r.succeed(ctx, j)
	}

	if err := transition(j, dag.Running); err != nil {
		return err
	}
	j.Start = r.now()
	r.record(ctx, j)
	if !r.opts.Quiet {
		r.announce(j, t, false)
	}
	logger.Debug("Dispatching job.", "threads", t.Threads)

	r.inFlight++
	workers.Go(func() error {
		c := completion{job: j, task: t}
		defer func() {
			if p := recover(); p != nil {
				c.err = fmt.Errorf("executor panicked: %v", p)
			}
			doneCh <- c
		}()
		c.status, c.err = r.exec.Execute(execCtx, t)
		return nil
	})
	return nil
}

func (r *run) complete(ctx context.Context, c completion) error {
	j := c.job
	j.End = r.now()
	if r.opts.FS != nil {
		r.opts.FS.Invalidate(j.Outputs...)
	}

	if err := executor.Outcome(c.task, c.status, c.err); err != nil {
		return r.fail(ctx, j, err)
	}

	r.result.Timings = append(r.result.Timings, report.Timing{Rule: j.Rule.Name, JobID: j.ID, Duration: j.Duration()})
	r.checkOutputs(ctx, j)
	return r.succeed(ctx, j)
}

func (r *run) succeed(ctx context.Context, j *dag.Job) error {
	if err := transition(j, dag.Done); err != nil {
		return err
	}
	r.record(ctx, j)
	ctxlog.FromContext(ctx).Debug("Job done.", "job", j.ID, "duration", j.Duration())

	for _, d := range j.Dependents {
		n, ok := r.waiting[d]
		if !ok || d.Status != dag.Pending {
			continue
		}
		n--
		r.waiting[d] = n
		if n == 0 {
			if err := r.admit(ctx, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// fail marks the job Failed. Its dependents are left Pending.
func (r *run) fail(ctx context.Context, j *dag.Job, jobErr error) error {
	if err := transition(j, dag.Failed); err != nil {
		return err
	}
	j.Err = jobErr
	r.result.Failed[j.ID] = jobErr
	r.record(ctx, j)
	if r.opts.Store != nil {
		if err := r.opts.Store.SetError(ctx, j.ID, jobErr); err != nil {
			ctxlog.FromContext(ctx).Warn("Failed to record job error.", "job", j.ID, "error", err)
		}
	}

	ctxlog.FromContext(ctx).Error("Job failed.",
		"job", j.ID,
		"rule", j.Rule.Name,
		"location", j.Rule.Location.String(),
		"error", jobErr,
	)
	return nil
}

// checkOutputs warns about outputs a successful action did not produce.
func (r *run) checkOutputs(ctx context.Context, j *dag.Job) {
	if r.opts.FS == nil {
		return
	}
	var missing []string
	for _, out := range j.Outputs {
		info, err := r.opts.FS.Stat(out)
		if err == nil && !info.Exists {
			missing = append(missing, out)
		}
	}
	if len(missing) > 0 {
		ctxlog.FromContext(ctx).Warn("Job finished without producing its outputs.",
			"job", j.ID,
			"rule", j.Rule.Name,
			"missing", strings.Join(missing, ", "),
		)
	}
}

func (r *run) record(ctx context.Context, j *dag.Job) {
	if r.opts.Store == nil {
		return
	}
	if err := r.opts.Store.SetStatus(ctx, j.ID, j.Status); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to record job status.", "job", j.ID, "error", err)
	}
}

// announce prints the job block shown before a job runs.
func (r *run) announce(j *dag.Job, t *task.Task, withCommand bool) {
	w := r.opts.Out
	if t.Message != "" {
		fmt.Fprintln(w, t.Message)
	} else {
		fmt.Fprintf(w, "rule %s:\n", t.Rule)
		if len(t.Inputs) > 0 {
			fmt.Fprintf(w, "    input: %s\n", strings.Join(t.Inputs, ", "))
		}
		fmt.Fprintf(w, "    output: %s\n", strings.Join(t.Outputs, ", "))
		if len(j.Wildcards) > 0 {
			fmt.Fprintf(w, "    wildcards: %s\n", strings.ReplaceAll(j.Wildcards.Key(), ",", ", "))
		}
	}
	if withCommand {
		fmt.Fprintln(w, t.Command)
	}
	fmt.Fprintln(w)
}
