// Package staleness decides which jobs of a resolved graph must run.
//
// A job is stale when one of its outputs is missing, when an input is newer
// than its oldest output, when it is forced, or when one of its dependencies
// is going to run. Jobs that are not stale are marked Skipped and treated as
// satisfied by the scheduler.
package staleness

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vk/burstmake/internal/artifact"
	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/dag"
)

// Force overrides timestamp-based decisions.
type Force struct {
	// All marks every job stale.
	All bool
	// Rules marks every job of the named rules stale.
	Rules []string
	// This marks directly requested jobs stale.
	This bool
}

// Reason explains why a job must run. The zero value means it need not.
type Reason struct {
	Missing      []string
	Updated      []string
	Forced       bool
	ForcedRule   bool
	ForcedTarget bool
	// UpdatedBy lists dependency jobs that will rewrite this job's inputs.
	UpdatedBy []string
}

// Stale reports whether any condition applies.
func (r Reason) Stale() bool {
	return len(r.Missing) > 0 || len(r.Updated) > 0 || r.Forced || r.ForcedRule ||
		r.ForcedTarget || len(r.UpdatedBy) > 0
}

func (r Reason) String() string {
	var parts []string
	if r.Forced || r.ForcedRule || r.ForcedTarget {
		parts = append(parts, "Forced execution")
	}
	if len(r.Missing) > 0 {
		parts = append(parts, "Missing output files: "+strings.Join(r.Missing, ", "))
	}
	if len(r.Updated) > 0 {
		parts = append(parts, "Updated input files: "+strings.Join(r.Updated, ", "))
	}
	if len(r.UpdatedBy) > 0 {
		parts = append(parts, "Input files updated by another job: "+strings.Join(r.UpdatedBy, ", "))
	}
	if len(parts) == 0 {
		return "Outputs are up to date"
	}
	return strings.Join(parts, "; ")
}

// Plan is the outcome of evaluating a graph.
type Plan struct {
	// Run lists stale jobs in topological order.
	Run []*dag.Job
	// Skip lists up-to-date jobs in topological order.
	Skip    []*dag.Job
	Reasons map[string]Reason
}

// Evaluator applies the staleness rules against a file system.
type Evaluator struct {
	FS    artifact.FS
	Force Force
}

// New creates an Evaluator.
func New(fs artifact.FS, force Force) *Evaluator {
	return &Evaluator{FS: fs, Force: force}
}

// IsStale evaluates the job's own conditions, ignoring its dependencies.
func (e *Evaluator) IsStale(j *dag.Job) (bool, Reason, error) {
	var r Reason
	r.Forced = e.Force.All
	r.ForcedRule = slices.Contains(e.Force.Rules, j.Rule.Name)
	r.ForcedTarget = e.Force.This && j.Targeted

	var oldestOut time.Time
	for _, out := range j.Outputs {
		info, err := e.FS.Stat(out)
		if err != nil {
			return false, Reason{}, fmt.Errorf("job %s: %w", j.ID, err)
		}
		if !info.Exists {
			r.Missing = append(r.Missing, out)
			continue
		}
		if oldestOut.IsZero() || info.ModTime.Before(oldestOut) {
			oldestOut = info.ModTime
		}
	}

	if len(r.Missing) == 0 {
		for _, in := range j.Inputs {
			info, err := e.FS.Stat(in)
			if err != nil {
				return false, Reason{}, fmt.Errorf("job %s: %w", j.ID, err)
			}
			if info.Exists && info.ModTime.After(oldestOut) {
				r.Updated = append(r.Updated, in)
			}
		}
	}

	return r.Stale(), r, nil
}

// Evaluate marks every job of the graph Pending (must run) or Skipped. A job
// whose dependency must run is itself stale, since its inputs will change.
func (e *Evaluator) Evaluate(ctx context.Context, g *dag.Graph) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)

	plan := &Plan{Reasons: make(map[string]Reason, g.Len())}
	stale := make(map[*dag.Job]bool, g.Len())

	for _, j := range g.TopologicalOrder() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, reason, err := e.IsStale(j)
		if err != nil {
			return nil, err
		}
		for _, d := range j.Deps {
			if stale[d] {
				reason.UpdatedBy = append(reason.UpdatedBy, d.ID)
			}
		}

		plan.Reasons[j.ID] = reason
		if reason.Stale() {
			stale[j] = true
			j.Status = dag.Pending
			plan.Run = append(plan.Run, j)
			continue
		}
		j.Status = dag.Skipped
		plan.Skip = append(plan.Skip, j)
	}

	logger.Debug("Evaluated staleness.", "run", len(plan.Run), "skip", len(plan.Skip))
	return plan, nil
}
