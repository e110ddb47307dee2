package testutil

import (
	"sync"
	"time"

	"github.com/vk/burstmake/internal/artifact"
)

// MemFS is an in-memory artifact.FS with a controllable clock.
type MemFS struct {
	mu      sync.Mutex
	files   map[string]time.Time
	now     time.Time
	touched []string
}

var _ artifact.FS = (*MemFS)(nil)

// NewMemFS creates an empty MemFS whose clock starts at a fixed instant.
func NewMemFS() *MemFS {
	return &MemFS{
		files: make(map[string]time.Time),
		now:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Put creates or updates files, advancing the clock by one second per call
// so that later calls produce strictly newer files.
func (m *MemFS) Put(paths ...string) *MemFS {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(time.Second)
	for _, p := range paths {
		m.files[p] = m.now
	}
	return m
}

// PutAt creates or updates a file with an explicit modification time.
func (m *MemFS) PutAt(path string, t time.Time) *MemFS {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = t
	return m
}

// Remove deletes a file.
func (m *MemFS) Remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
}

// Exists reports whether a file is present.
func (m *MemFS) Exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// Touched returns the paths passed to Touch, in call order.
func (m *MemFS) Touched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.touched))
	copy(out, m.touched)
	return out
}

// Stat implements artifact.FS.
func (m *MemFS) Stat(path string) (artifact.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.files[path]
	if !ok {
		return artifact.Info{}, nil
	}
	return artifact.Info{Exists: true, ModTime: t}, nil
}

// Touch implements artifact.FS.
func (m *MemFS) Touch(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(time.Second)
	m.files[path] = m.now
	m.touched = append(m.touched, path)
	return nil
}

// Invalidate implements artifact.FS.
func (m *MemFS) Invalidate(...string) {}
