package clusterexecutor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/executor"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

const (
	// DefaultStatusEvent is the event a queue emits when a job changes state.
	DefaultStatusEvent = "job_status"
	// watchEvent asks the queue to report on a job.
	watchEvent     = "watch"
	connectTimeout = 15 * time.Second
)

// jobStatus is the payload of a status event:
//
//	{"jobid": "1234", "status": "finished" | "failed" | "running", "exit_code": 0}
type jobStatus struct {
	ExternalID string
	Status     string
	ExitCode   int
}

func (s jobStatus) terminal() bool {
	switch s.Status {
	case "finished", "success", "failed", "error":
		return true
	}
	return false
}

func (s jobStatus) exitStatus() executor.ExitStatus {
	switch s.Status {
	case "finished", "success":
		return executor.ExitStatus{Code: s.ExitCode}
	}
	code := s.ExitCode
	if code == 0 {
		code = 1
	}
	return executor.ExitStatus{Code: code}
}

// SocketIOWatcher waits for status events pushed by the queue over a
// socket.io connection. One connection is shared by all jobs.
type SocketIOWatcher struct {
	URL                string
	Namespace          string
	Event              string
	InsecureSkipVerify bool
	// Timeout fails a job that reports no terminal status in time.
	Timeout time.Duration

	connectOnce sync.Once
	connectErr  error
	client      *socket.Socket
	// connect is replaced in tests.
	connect func(ctx context.Context) error

	mu      sync.Mutex
	waiters map[string]chan jobStatus
	early   map[string]jobStatus
}

var _ StatusWatcher = (*SocketIOWatcher)(nil)

// NewSocketIOWatcher creates a watcher for the given endpoint URL, e.g.
// `http://queue:3000/socket.io/`.
func NewSocketIOWatcher(rawURL, namespace string, timeout time.Duration) *SocketIOWatcher {
	w := &SocketIOWatcher{
		URL:       rawURL,
		Namespace: namespace,
		Event:     DefaultStatusEvent,
		Timeout:   timeout,
		waiters:   make(map[string]chan jobStatus),
		early:     make(map[string]jobStatus),
	}
	w.connect = w.dial
	return w
}

// Wait implements StatusWatcher.
func (w *SocketIOWatcher) Wait(ctx context.Context, sub Submission) (executor.ExitStatus, error) {
	logger := ctxlog.FromContext(ctx).With("job", sub.Task.JobID, "external_id", sub.ExternalID)

	w.connectOnce.Do(func() { w.connectErr = w.connect(ctx) })
	if w.connectErr != nil {
		return executor.ExitStatus{Code: -1}, fmt.Errorf("status channel unavailable: %w", w.connectErr)
	}
	if sub.ExternalID == "" {
		return executor.ExitStatus{Code: -1}, errors.New("submit command printed no job id")
	}

	ch, status, ok := w.register(sub.ExternalID)
	defer w.unregister(sub.ExternalID)
	if ok {
		return status.exitStatus(), nil
	}
	if w.client != nil {
		w.client.Emit(watchEvent, map[string]any{"jobid": sub.ExternalID})
	}

	var deadline <-chan time.Time
	if w.Timeout > 0 {
		timer := time.NewTimer(w.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case status := <-ch:
		logger.Debug("Received terminal job status.", "status", status.Status, "exit_code", status.ExitCode)
		return status.exitStatus(), nil
	case <-deadline:
		return executor.ExitStatus{Code: -1}, fmt.Errorf("timed out after %s waiting for status of cluster job %s", w.Timeout, sub.ExternalID)
	case <-ctx.Done():
		return executor.ExitStatus{Code: -1}, ctx.Err()
	}
}

// Close disconnects the shared connection.
func (w *SocketIOWatcher) Close() {
	if w.client != nil {
		w.client.Disconnect()
	}
}

func (w *SocketIOWatcher) register(id string) (chan jobStatus, jobStatus, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.early[id]; ok {
		delete(w.early, id)
		return nil, s, true
	}
	ch := make(chan jobStatus, 1)
	w.waiters[id] = ch
	return ch, jobStatus{}, false
}

func (w *SocketIOWatcher) unregister(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiters, id)
}

// deliver routes a status event to its waiter, or keeps it until the waiter
// registers.
func (w *SocketIOWatcher) deliver(data ...any) {
	if len(data) == 0 {
		return
	}
	status, ok := parseStatus(data[0])
	if !ok || !status.terminal() {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if ch, ok := w.waiters[status.ExternalID]; ok {
		select {
		case ch <- status:
		default:
		}
		return
	}
	w.early[status.ExternalID] = status
}

func parseStatus(raw any) (jobStatus, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return jobStatus{}, false
	}
	var s jobStatus
	switch id := m["jobid"].(type) {
	case string:
		s.ExternalID = id
	case float64:
		s.ExternalID = fmt.Sprintf("%.0f", id)
	default:
		return jobStatus{}, false
	}
	s.Status, _ = m["status"].(string)
	if code, ok := m["exit_code"].(float64); ok {
		s.ExitCode = int(code)
	}
	return s, true
}

// dial opens the socket.io connection and subscribes to status events.
func (w *SocketIOWatcher) dial(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx).With("url", w.URL)

	parsedURL, err := url.Parse(w.URL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if w.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(w.Namespace, opts)

	io.On(types.EventName(w.Event), w.deliver)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to cluster status channel", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		var err error = errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})
	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return fmt.Errorf("socket.io connection failed: %w", err)
		}
		w.client = io
		return nil
	case <-ctx.Done():
		io.Disconnect()
		return fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(connectTimeout):
		io.Disconnect()
		return fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}
}
