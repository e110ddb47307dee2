package fsutil

import (
	"fmt"
	"os"
)

// Chdir switches the process working directory to dir and returns a function
// that restores the previous one. An empty dir is a no-op. The restore
// function is safe to call more than once.
func Chdir(dir string) (restore func() error, err error) {
	prev, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to read working directory: %w", err)
	}
	if dir == "" {
		return func() error { return nil }, nil
	}
	if err := os.Chdir(dir); err != nil {
		return nil, fmt.Errorf("failed to change directory to %s: %w", dir, err)
	}

	restored := false
	return func() error {
		if restored {
			return nil
		}
		restored = true
		if err := os.Chdir(prev); err != nil {
			return fmt.Errorf("failed to restore working directory %s: %w", prev, err)
		}
		return nil
	}, nil
}
