package registry

import (
	"fmt"

	"github.com/vk/burstmake/internal/pattern"
)

// Location points at the definition of a rule in its source file. It is used
// to build error diagnostics that let a user find the failing rule.
type Location struct {
	File string
	Line int
}

// String renders the location as `file:line`.
func (l Location) String() string {
	if l.File == "" {
		return "<unknown>"
	}
	if l.Line <= 0 {
		return l.File
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Rule describes how to produce output artifacts from input artifacts.
// Rules are immutable after load.
type Rule struct {
	Name    string
	Inputs  []*pattern.Pattern
	Outputs []*pattern.Pattern
	Action  Action

	Threads   int
	Priority  int
	Resources map[string]int
	Message   string

	Location Location
}

// Wildcards returns the wildcard names of the rule's first output. After
// validation every output declares the same set.
func (r *Rule) Wildcards() []string {
	if len(r.Outputs) == 0 {
		return nil
	}
	return r.Outputs[0].Wildcards()
}

// HasWildcards reports whether the rule must be instantiated with a binding.
func (r *Rule) HasWildcards() bool {
	return len(r.Wildcards()) > 0
}

// MatchOutput returns the binding of the first output pattern that matches
// the artifact. The binding is restricted to the rule's wildcards.
func (r *Rule) MatchOutput(artifact string) (pattern.Binding, bool) {
	for _, out := range r.Outputs {
		if b, ok := out.Match(artifact); ok {
			return b, true
		}
	}
	return nil, false
}

// ExpandInputs instantiates every input pattern with the binding.
func (r *Rule) ExpandInputs(b pattern.Binding) ([]string, error) {
	return expandAll(r.Inputs, b)
}

// ExpandOutputs instantiates every output pattern with the binding.
func (r *Rule) ExpandOutputs(b pattern.Binding) ([]string, error) {
	return expandAll(r.Outputs, b)
}

func expandAll(patterns []*pattern.Pattern, b pattern.Binding) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		s, err := p.Instantiate(b)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// String identifies the rule together with its definition site.
func (r *Rule) String() string {
	return fmt.Sprintf("rule %s (%s)", r.Name, r.Location)
}
