package dag

import (
	"slices"
	"sort"
)

// Graph is the resolved set of jobs and their dependencies.
type Graph struct {
	jobs      []*Job
	byID      map[string]*Job
	producers map[string]*Job
	targets   []*Job
}

func newGraph() *Graph {
	return &Graph{
		byID:      make(map[string]*Job),
		producers: make(map[string]*Job),
	}
}

// Jobs returns all jobs in creation order.
func (g *Graph) Jobs() []*Job {
	return slices.Clone(g.jobs)
}

// Len is the number of jobs.
func (g *Graph) Len() int { return len(g.jobs) }

// Job looks a job up by ID.
func (g *Graph) Job(id string) (*Job, bool) {
	j, ok := g.byID[id]
	return j, ok
}

// Producer returns the job that outputs the artifact, if any.
func (g *Graph) Producer(artifact string) (*Job, bool) {
	j, ok := g.producers[artifact]
	return j, ok
}

// Targets returns the jobs that were requested directly. Targets satisfied by
// files already on disk have no job.
func (g *Graph) Targets() []*Job {
	return slices.Clone(g.targets)
}

func (g *Graph) add(j *Job) {
	j.seq = len(g.jobs)
	g.jobs = append(g.jobs, j)
	g.byID[j.ID] = j
	for _, out := range j.Outputs {
		g.producers[out] = j
	}
}

func (g *Graph) markTarget(j *Job) {
	if j.Targeted {
		return
	}
	j.Targeted = true
	g.targets = append(g.targets, j)
}

// TopologicalOrder returns every job after all of its dependencies. Among
// jobs whose dependencies are met, lower creation order comes first.
func (g *Graph) TopologicalOrder() []*Job {
	indegree := make(map[*Job]int, len(g.jobs))
	var ready []*Job
	for _, j := range g.jobs {
		indegree[j] = len(j.Deps)
		if len(j.Deps) == 0 {
			ready = append(ready, j)
		}
	}

	order := make([]*Job, 0, len(g.jobs))
	for len(ready) > 0 {
		j := ready[0]
		ready = ready[1:]
		order = append(order, j)
		for _, d := range j.Dependents {
			indegree[d]--
			if indegree[d] == 0 {
				i := sort.Search(len(ready), func(i int) bool { return ready[i].seq > d.seq })
				ready = slices.Insert(ready, i, d)
			}
		}
	}
	return order
}

// DetectCycles checks the graph for cycles. Resolution never produces one,
// so a non-nil result indicates a bug in graph construction.
func (g *Graph) DetectCycles() error {
	// Depth-first search with the classic permanent/temporary marking.
	permanent := make(map[*Job]bool)
	temporary := make(map[*Job]bool)
	var stack []*Job

	var visit func(j *Job) error
	visit = func(j *Job) error {
		if permanent[j] {
			return nil
		}
		if temporary[j] {
			start := slices.Index(stack, j)
			path := make([]string, 0, len(stack)-start+1)
			for _, s := range stack[start:] {
				path = append(path, s.ID)
			}
			path = append(path, j.ID)
			return &ResolveError{Kind: ErrCyclicDependency, Artifact: j.ID, Path: path}
		}

		temporary[j] = true
		stack = append(stack, j)
		for _, d := range j.Dependents {
			if err := visit(d); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(temporary, j)
		permanent[j] = true
		return nil
	}

	for _, j := range g.jobs {
		if err := visit(j); err != nil {
			return err
		}
	}
	return nil
}

// Downstream returns every job that transitively depends on j, in creation
// order.
func (g *Graph) Downstream(j *Job) []*Job {
	seen := make(map[*Job]bool)
	queue := slices.Clone(j.Dependents)
	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if seen[d] {
			continue
		}
		seen[d] = true
		queue = append(queue, d.Dependents...)
	}

	out := make([]*Job, 0, len(seen))
	for _, c := range g.jobs {
		if seen[c] {
			out = append(out, c)
		}
	}
	return out
}
