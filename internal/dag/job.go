package dag

import (
	"fmt"
	"time"

	"github.com/vk/burstmake/internal/pattern"
	"github.com/vk/burstmake/internal/registry"
)

// Status is the lifecycle state of a job.
type Status int

const (
	Pending Status = iota
	Ready
	Running
	Done
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether the status can no longer change during a run.
func (s Status) Terminal() bool {
	return s == Done || s == Failed || s == Skipped
}

// Satisfied reports whether dependents may treat the job as complete.
func (s Status) Satisfied() bool {
	return s == Done || s == Skipped
}

// Job is a rule instantiated under a concrete wildcard binding.
type Job struct {
	ID        string
	Rule      *registry.Rule
	Wildcards pattern.Binding
	Inputs    []string
	Outputs   []string

	// Deps are the distinct jobs producing this job's inputs, in input order.
	Deps       []*Job
	Dependents []*Job

	// Targeted is set when the job was requested directly.
	Targeted bool

	Status Status
	Start  time.Time
	End    time.Time
	Err    error

	seq    int
	depSet map[*Job]struct{}
}

// JobID renders the identity of a rule instantiation.
func JobID(rule string, b pattern.Binding) string {
	if len(b) == 0 {
		return rule
	}
	return rule + "[" + b.Key() + "]"
}

// Seq is the creation order of the job within its graph.
func (j *Job) Seq() int { return j.seq }

// Priority is the scheduling priority inherited from the rule.
func (j *Job) Priority() int { return j.Rule.Priority }

// Duration is the wall time the job spent running.
func (j *Job) Duration() time.Duration {
	if j.Start.IsZero() || j.End.IsZero() {
		return 0
	}
	return j.End.Sub(j.Start)
}

// ActionContext exposes the job's concrete values to its action.
func (j *Job) ActionContext(threads int) registry.ActionContext {
	return registry.ActionContext{
		Rule:      j.Rule.Name,
		Inputs:    j.Inputs,
		Outputs:   j.Outputs,
		Wildcards: j.Wildcards,
		Threads:   threads,
		Resources: j.Rule.Resources,
	}
}

// Command renders the job's shell command.
func (j *Job) Command(threads int) (string, error) {
	cmd, err := j.Rule.Action.Render(j.ActionContext(threads))
	if err != nil {
		return "", fmt.Errorf("job %s (%s): %w", j.ID, j.Rule.Location, err)
	}
	return cmd, nil
}

func (j *Job) String() string { return j.ID }

func (j *Job) addDep(dep *Job) {
	if j.depSet == nil {
		j.depSet = make(map[*Job]struct{})
	}
	if _, ok := j.depSet[dep]; ok {
		return
	}
	j.depSet[dep] = struct{}{}
	j.Deps = append(j.Deps, dep)
	dep.Dependents = append(dep.Dependents, j)
}
