package config

import (
	"context"
)

// Loader is the interface for a format-specific rule file loader.
type Loader interface {
	// Load reads the rule file at path and translates it into the
	// format-agnostic model. Rules keep their declaration order.
	Load(ctx context.Context, path string) (*Model, error)
}
