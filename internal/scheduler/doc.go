// Package scheduler runs a resolved job graph with bounded parallelism.
//
// # How It Works
//
// A single coordinator owns every job's state. It keeps a ready set of jobs
// whose dependencies are all Done or Skipped, ordered by rule priority and
// then by creation order, and dispatches from it while fewer than Jobs tasks
// are in flight. Each dispatched task runs on a worker that blocks only on
// its own Executor call and reports back over a completion channel; the
// coordinator then marks the job Done or Failed and admits the dependents
// that became ready.
//
// # Failure and Cancellation
//
// A failed job's transitive dependents are never dispatched. They stay
// Pending and are reported as not run, while unrelated work continues. When
// the run's context is cancelled no further jobs are dispatched; tasks already
// handed to the executor run to completion with a context that is not
// cancelled. Outputs of completed jobs are never rolled back.
//
// # Modes
//
// DryRun renders and prints every job in dispatch order without invoking the
// executor. Touch updates each job's output timestamps instead of running it.
package scheduler
