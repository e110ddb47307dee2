package config

import (
	"github.com/vk/burstmake/internal/registry"
)

// Model is the format-agnostic representation of a loaded rule file.
type Model struct {
	// Path is the file the rules were loaded from.
	Path  string
	Rules []*registry.Rule
}

// Registry validates the loaded rules and builds a registry from them.
func (m *Model) Registry() (*registry.Registry, error) {
	return registry.New(m.Rules)
}
