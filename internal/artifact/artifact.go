// Package artifact answers existence and modification-time questions about
// the files a workflow reads and writes. Paths are interpreted relative to a
// root directory so the rest of the application never depends on the process
// working directory.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheSize = 4096

// Info is the observed state of an artifact.
type Info struct {
	Exists  bool
	ModTime time.Time
}

// FS is the file system view used by resolution, staleness, and scheduling.
type FS interface {
	Stat(path string) (Info, error)
	Touch(path string) error
	// Invalidate drops cached state after a job rewrote the paths.
	Invalidate(paths ...string)
}

// Store is an FS backed by the local disk with an LRU stat cache.
type Store struct {
	root  string
	cache *lru.Cache[string, Info]
}

var _ FS = (*Store)(nil)

// NewStore creates a Store rooted at root. A size of zero or less uses the
// default cache size.
func NewStore(root string, size int) (*Store, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, Info](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create stat cache: %w", err)
	}
	return &Store{root: root, cache: cache}, nil
}

// Root is the directory paths are resolved against.
func (s *Store) Root() string { return s.root }

// Abs resolves path against the root.
func (s *Store) Abs(path string) string {
	if filepath.IsAbs(path) || s.root == "" {
		return path
	}
	return filepath.Join(s.root, path)
}

// Stat reports whether the artifact exists and when it was last modified.
func (s *Store) Stat(path string) (Info, error) {
	if info, ok := s.cache.Get(path); ok {
		return info, nil
	}

	fi, err := os.Stat(s.Abs(path))
	var info Info
	switch {
	case err == nil:
		info = Info{Exists: true, ModTime: fi.ModTime()}
	case errors.Is(err, fs.ErrNotExist):
		info = Info{}
	default:
		return Info{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	s.cache.Add(path, info)
	return info, nil
}

// Touch sets the modification time of path to now, creating an empty file
// (and its parent directories) when it does not exist.
func (s *Store) Touch(path string) error {
	defer s.Invalidate(path)

	abs := s.Abs(path)
	now := time.Now()
	if err := os.Chtimes(abs, now, now); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to touch %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f.Close()
}

// Invalidate implements FS.
func (s *Store) Invalidate(paths ...string) {
	for _, p := range paths {
		s.cache.Remove(p)
	}
}

// EnsureParents creates the parent directories of every path.
func (s *Store) EnsureParents(paths ...string) error {
	for _, p := range paths {
		if err := os.MkdirAll(filepath.Dir(s.Abs(p)), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", p, err)
		}
	}
	return nil
}
