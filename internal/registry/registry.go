package registry

import (
	"fmt"
	"strings"
)

// Registry is an ordered, validated set of rules.
type Registry struct {
	rules  []*Rule
	byName map[string]*Rule
}

// New validates the rules and builds a registry preserving their order.
func New(rules []*Rule) (*Registry, error) {
	if err := Validate(rules); err != nil {
		return nil, err
	}
	r := &Registry{
		rules:  make([]*Rule, len(rules)),
		byName: make(map[string]*Rule, len(rules)),
	}
	copy(r.rules, rules)
	for _, rule := range rules {
		r.byName[rule.Name] = rule
	}
	return r, nil
}

// Rules returns the rules in declaration order.
func (r *Registry) Rules() []*Rule {
	out := make([]*Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Rule looks a rule up by name.
func (r *Registry) Rule(name string) (*Rule, bool) {
	rule, ok := r.byName[name]
	return rule, ok
}

// First returns the first declared rule, or nil for an empty registry.
func (r *Registry) First() *Rule {
	if len(r.rules) == 0 {
		return nil
	}
	return r.rules[0]
}

// Names returns the rule names in declaration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Len is the number of rules.
func (r *Registry) Len() int { return len(r.rules) }

// Describe renders a human-readable listing of the rules, one per line, as
// printed by list mode.
func (r *Registry) Describe() string {
	var sb strings.Builder
	for _, rule := range r.rules {
		fmt.Fprintf(&sb, "%s\n", rule.Name)
		if rule.Message != "" {
			fmt.Fprintf(&sb, "    %s\n", rule.Message)
		}
	}
	return sb.String()
}
