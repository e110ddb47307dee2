package clusterexecutor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/executor"
)

const defaultPollInterval = time.Second

// MarkerWatcher polls for the marker files the job script writes on exit.
type MarkerWatcher struct {
	// Interval between polls. Defaults to one second.
	Interval time.Duration
	// Timeout fails the job when no marker appears in time. Zero waits
	// forever.
	Timeout time.Duration
}

// Wait implements StatusWatcher.
func (w *MarkerWatcher) Wait(ctx context.Context, sub Submission) (executor.ExitStatus, error) {
	logger := ctxlog.FromContext(ctx).With("job", sub.Task.JobID, "external_id", sub.ExternalID)

	interval := w.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	var deadline <-chan time.Time
	if w.Timeout > 0 {
		timer := time.NewTimer(w.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, done, err := checkMarkers(sub)
		if err != nil || done {
			return status, err
		}
		select {
		case <-ctx.Done():
			return executor.ExitStatus{Code: -1}, ctx.Err()
		case <-deadline:
			logger.Warn("Timed out waiting for cluster job.", "timeout", w.Timeout)
			return executor.ExitStatus{Code: -1}, fmt.Errorf("timed out after %s waiting for cluster job %s", w.Timeout, sub.ExternalID)
		case <-ticker.C:
		}
	}
}

func checkMarkers(sub Submission) (executor.ExitStatus, bool, error) {
	if _, err := os.Stat(sub.FinishedMarker); err == nil {
		_ = os.Remove(sub.FinishedMarker)
		return executor.ExitStatus{}, true, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return executor.ExitStatus{}, false, err
	}

	data, err := os.ReadFile(sub.FailedMarker)
	switch {
	case err == nil:
		_ = os.Remove(sub.FailedMarker)
		code, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr != nil || code == 0 {
			code = 1
		}
		return executor.ExitStatus{Code: code}, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return executor.ExitStatus{}, false, nil
	default:
		return executor.ExitStatus{}, false, err
	}
}
