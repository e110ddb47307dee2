package app

import (
	"github.com/vk/burstmake/internal/clusterexecutor"
	"github.com/vk/burstmake/internal/executor"
	"github.com/vk/burstmake/internal/localexecutor"
)

// newExecutor builds the backend selected by the config. The returned close
// func releases the backend's connections.
func (a *App) newExecutor(workdir string) (executor.Executor, func(), error) {
	noop := func() {}
	if a.config.Cluster == "" {
		a.logger.Debug("Using local executor.", "timeout", a.config.JobTimeout)
		return localexecutor.New(localexecutor.Options{
			Stdout:         a.outW,
			Stderr:         a.outW,
			PrintShellCmds: a.config.PrintShellCmds,
			Quiet:          a.config.Quiet,
			Timeout:        a.config.JobTimeout,
		}), noop, nil
	}

	var watcher clusterexecutor.StatusWatcher
	closeFn := noop
	switch a.config.ClusterStatus {
	case StatusSocketIO:
		w := clusterexecutor.NewSocketIOWatcher(a.config.ClusterStatusURL, "/", a.config.ClusterTimeout)
		watcher = w
		closeFn = w.Close
	default:
		watcher = &clusterexecutor.MarkerWatcher{Timeout: a.config.ClusterTimeout}
	}
	a.logger.Debug("Using cluster executor.", "status", a.config.ClusterStatus)

	exec, err := clusterexecutor.New(clusterexecutor.Options{
		Submit:         a.config.Cluster,
		Workdir:        workdir,
		Watcher:        watcher,
		Stdout:         a.outW,
		PrintShellCmds: a.config.PrintShellCmds,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return exec, closeFn, nil
}
