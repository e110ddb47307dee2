// Package task defines the unit of work handed to an executor: a job with
// its command rendered and its resources settled.
package task

import (
	"github.com/vk/burstmake/internal/dag"
	"github.com/vk/burstmake/internal/registry"
)

// Task represents a job that is fully prepared for execution.
type Task struct {
	JobID    string
	Rule     string
	Message  string
	Command  string
	Inputs   []string
	Outputs  []string
	Threads  int
	Priority int
	// Resources are the rule's abstract resource hints, e.g. mem_mb.
	Resources map[string]int
	// Workdir is the directory the command runs in.
	Workdir string
}

// FromJob renders the job's action. Threads are capped at maxThreads when
// it is positive.
func FromJob(j *dag.Job, maxThreads int, workdir string) (*Task, error) {
	threads := j.Rule.Threads
	if threads < 1 {
		threads = 1
	}
	if maxThreads > 0 && threads > maxThreads {
		threads = maxThreads
	}

	cmd, err := j.Command(threads)
	if err != nil {
		return nil, err
	}
	msg := j.Rule.Message
	if msg != "" {
		// A message that does not render is still worth showing verbatim.
		if rendered, err := registry.Expand(msg, j.ActionContext(threads)); err == nil {
			msg = rendered
		}
	}
	return &Task{
		JobID:     j.ID,
		Rule:      j.Rule.Name,
		Message:   msg,
		Command:   cmd,
		Inputs:    j.Inputs,
		Outputs:   j.Outputs,
		Threads:   threads,
		Priority:  j.Rule.Priority,
		Resources: j.Rule.Resources,
		Workdir:   workdir,
	}, nil
}
