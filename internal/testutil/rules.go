package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/burstmake/internal/pattern"
	"github.com/vk/burstmake/internal/registry"
)

// RuleOption customizes a rule built by NewRule.
type RuleOption func(*registry.Rule)

// WithPriority sets the rule priority.
func WithPriority(p int) RuleOption {
	return func(r *registry.Rule) { r.Priority = p }
}

// WithThreads sets the rule thread count.
func WithThreads(n int) RuleOption {
	return func(r *registry.Rule) { r.Threads = n }
}

// WithCommand sets the rule's brace template action.
func WithCommand(cmd string) RuleOption {
	return func(r *registry.Rule) { r.Action = registry.FormatAction(cmd) }
}

// NewRule builds a rule from raw patterns. Its default action is `true`.
func NewRule(name string, inputs, outputs []string, opts ...RuleOption) *registry.Rule {
	r := &registry.Rule{
		Name:     name,
		Action:   registry.FormatAction("true"),
		Threads:  1,
		Location: registry.Location{File: "rules.hcl", Line: 1},
	}
	for _, in := range inputs {
		r.Inputs = append(r.Inputs, pattern.MustParse(in))
	}
	for _, out := range outputs {
		r.Outputs = append(r.Outputs, pattern.MustParse(out))
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewRegistry builds a validated registry, failing the test on error.
func NewRegistry(t *testing.T, rules ...*registry.Rule) *registry.Registry {
	t.Helper()
	for i, r := range rules {
		r.Location.Line = i + 1
	}
	reg, err := registry.New(rules)
	require.NoError(t, err)
	return reg
}
