// Package clusterexecutor runs tasks on an external queuing system.
//
// Each task is written to a job script and handed to a user-supplied submit
// command, for example `qsub -pe smp {threads} {jobscript}`. The submit
// command's last line of standard output is taken as the external job ID.
// The executor then blocks on a StatusWatcher until the queue reports a
// terminal status.
//
// A submission that fails (nonzero exit of the submit command, or a command
// that cannot be started) is reported as executor.ErrSubmission, distinct
// from an action that ran on the cluster and exited nonzero.
package clusterexecutor
