package dag

import (
	"context"
	"errors"
	"fmt"

	"github.com/vk/burstmake/internal/artifact"
	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/pattern"
	"github.com/vk/burstmake/internal/registry"
)

// Options controls resolution.
type Options struct {
	// IgnoreAmbiguity picks the first matching rule in registry order
	// instead of failing when several rules can produce an artifact.
	IgnoreAmbiguity bool
	// FS decides whether an artifact without a producer already exists.
	FS artifact.FS
}

// frame is one job whose inputs are being resolved.
type frame struct {
	artifact string
	job      *Job
	next     int
}

type resolver struct {
	reg   *registry.Registry
	opts  Options
	graph *Graph

	frames   []*frame
	onStack  map[string]bool
	active   map[string]int
	resolved map[*Job]bool
}

// Resolve builds the job graph for the targets. A target is either a rule
// name (the rule must not have wildcards) or an artifact path. With no
// targets the registry's first rule is used.
func Resolve(ctx context.Context, reg *registry.Registry, targets []string, opts Options) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)

	if opts.FS == nil {
		return nil, errors.New("dag: resolve requires a file system")
	}
	if len(targets) == 0 {
		first := reg.First()
		if first == nil {
			return nil, errors.New("no rules defined")
		}
		targets = []string{first.Name}
	}

	r := &resolver{
		reg:      reg,
		opts:     opts,
		graph:    newGraph(),
		onStack:  make(map[string]bool),
		active:   make(map[string]int),
		resolved: make(map[*Job]bool),
	}

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := r.resolveTarget(ctx, target); err != nil {
			return nil, err
		}
	}

	if err := r.graph.DetectCycles(); err != nil {
		return nil, fmt.Errorf("internal error: %w", err)
	}
	logger.Debug("Resolved job graph.", "targets", len(targets), "jobs", r.graph.Len())
	return r.graph, nil
}

func (r *resolver) resolveTarget(ctx context.Context, target string) error {
	if rule, ok := r.reg.Rule(target); ok {
		if rule.HasWildcards() {
			return &ResolveError{Kind: ErrInvalidTarget, Artifact: target}
		}
		job, fresh, err := r.instantiate(rule, pattern.Binding{}, target)
		if err != nil {
			return err
		}
		r.graph.markTarget(job)
		if !fresh {
			return nil
		}
		return r.expand(ctx, job, target)
	}

	job, fresh, err := r.lookup(target, "")
	if err != nil {
		return err
	}
	if job == nil {
		ctxlog.FromContext(ctx).Debug("Target exists and has no producer.", "target", target)
		return nil
	}
	r.graph.markTarget(job)
	if !fresh {
		return nil
	}
	return r.expand(ctx, job, target)
}

// expand resolves the inputs of root and, transitively, of every new job it
// depends on.
func (r *resolver) expand(ctx context.Context, root *Job, artifact string) error {
	r.push(root, artifact)
	for len(r.frames) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		top := r.frames[len(r.frames)-1]

		if top.next == len(top.job.Inputs) {
			r.pop()
			if len(r.frames) > 0 {
				r.frames[len(r.frames)-1].job.addDep(top.job)
			}
			continue
		}

		in := top.job.Inputs[top.next]
		top.next++

		dep, fresh, err := r.lookup(in, top.job.ID)
		if err != nil {
			return err
		}
		switch {
		case dep == nil:
		case !fresh:
			top.job.addDep(dep)
		default:
			r.push(dep, in)
		}
	}
	return nil
}

func (r *resolver) push(j *Job, artifact string) {
	r.frames = append(r.frames, &frame{artifact: artifact, job: j})
	r.onStack[artifact] = true
	r.active[j.Rule.Name]++
}

func (r *resolver) pop() {
	top := r.frames[len(r.frames)-1]
	r.frames = r.frames[:len(r.frames)-1]
	delete(r.onStack, top.artifact)
	if r.active[top.job.Rule.Name]--; r.active[top.job.Rule.Name] == 0 {
		delete(r.active, top.job.Rule.Name)
	}
	r.resolved[top.job] = true
}

// lookup decides how an artifact is satisfied. It returns a nil job for a
// pre-existing file, a resolved job to depend on, or a fresh job whose inputs
// still need resolving.
func (r *resolver) lookup(artifact, requiredBy string) (*Job, bool, error) {
	if r.onStack[artifact] {
		return nil, false, r.cycle(artifact, func(f *frame) bool { return f.artifact == artifact })
	}
	if p, ok := r.graph.producers[artifact]; ok {
		if r.resolved[p] {
			return p, false, nil
		}
		return nil, false, r.cycle(artifact, func(f *frame) bool { return f.job == p })
	}

	type candidate struct {
		rule    *registry.Rule
		binding pattern.Binding
	}
	var candidates []candidate
	excluded := ""
	for _, rule := range r.reg.Rules() {
		b, ok := rule.MatchOutput(artifact)
		if !ok {
			continue
		}
		if r.active[rule.Name] > 0 {
			excluded = rule.Name
			continue
		}
		candidates = append(candidates, candidate{rule: rule, binding: b})
	}

	switch {
	case len(candidates) == 0:
		info, err := r.opts.FS.Stat(artifact)
		if err != nil {
			return nil, false, err
		}
		if info.Exists {
			return nil, false, nil
		}
		if excluded != "" {
			return nil, false, r.cycle(artifact, func(f *frame) bool { return f.job.Rule.Name == excluded })
		}
		return nil, false, &ResolveError{Kind: ErrNoProducer, Artifact: artifact, RequiredBy: requiredBy}

	case len(candidates) > 1 && !r.opts.IgnoreAmbiguity:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = fmt.Sprintf("%s (%s)", JobID(c.rule.Name, c.binding), c.rule.Location)
		}
		return nil, false, &ResolveError{Kind: ErrAmbiguousRule, Artifact: artifact, RequiredBy: requiredBy, Candidates: names}
	}

	c := candidates[0]
	return r.instantiate(c.rule, c.binding, artifact)
}

// instantiate returns the job for (rule, binding), creating it if needed.
func (r *resolver) instantiate(rule *registry.Rule, b pattern.Binding, artifact string) (*Job, bool, error) {
	b = b.Restrict(rule.Wildcards())
	id := JobID(rule.Name, b)
	if j, ok := r.graph.byID[id]; ok {
		return j, false, nil
	}

	inputs, err := rule.ExpandInputs(b)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", rule, err)
	}
	outputs, err := rule.ExpandOutputs(b)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", rule, err)
	}

	for _, out := range outputs {
		if p, ok := r.graph.producers[out]; ok {
			return nil, false, &ResolveError{
				Kind:       ErrAmbiguousRule,
				Artifact:   out,
				Candidates: []string{fmt.Sprintf("%s (%s)", p.ID, p.Rule.Location), fmt.Sprintf("%s (%s)", id, rule.Location)},
			}
		}
	}

	j := &Job{
		ID:        id,
		Rule:      rule,
		Wildcards: b,
		Inputs:    inputs,
		Outputs:   outputs,
	}
	r.graph.add(j)
	return j, true, nil
}

// cycle builds the cycle error from the first frame matching start up to
// the artifact that closed the loop.
func (r *resolver) cycle(artifact string, start func(*frame) bool) error {
	var path []string
	for i, f := range r.frames {
		if start(f) {
			for _, g := range r.frames[i:] {
				path = append(path, g.artifact)
			}
			break
		}
	}
	path = append(path, artifact)
	return &ResolveError{Kind: ErrCyclicDependency, Artifact: artifact, Path: path}
}
