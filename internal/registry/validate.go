package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidRule is wrapped by every validation failure.
var ErrInvalidRule = errors.New("invalid rule")

// Validate checks the structural invariants of a rule set. All problems are
// collected and reported together.
func Validate(rules []*Rule) error {
	var errs []string
	seen := make(map[string]Location, len(rules))

	for _, r := range rules {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("%s: rule has no name", r.Location))
			continue
		}
		// Job IDs are `name[wildcards]`.
		if strings.ContainsAny(r.Name, "[]") {
			errs = append(errs, fmt.Sprintf("rule '%s' at %s: name must not contain '[' or ']'", r.Name, r.Location))
			continue
		}
		if prev, dup := seen[r.Name]; dup {
			errs = append(errs, fmt.Sprintf("rule '%s' at %s: already defined at %s", r.Name, r.Location, prev))
			continue
		}
		seen[r.Name] = r.Location

		if len(r.Outputs) == 0 {
			errs = append(errs, fmt.Sprintf("rule '%s' at %s: at least one output is required", r.Name, r.Location))
			continue
		}
		if r.Action == nil {
			errs = append(errs, fmt.Sprintf("rule '%s' at %s: no action", r.Name, r.Location))
		}
		if r.Threads < 0 {
			errs = append(errs, fmt.Sprintf("rule '%s' at %s: threads must not be negative", r.Name, r.Location))
		}

		want := sortedNames(r.Outputs[0].Wildcards())
		for _, out := range r.Outputs[1:] {
			if got := sortedNames(out.Wildcards()); !slices.Equal(want, got) {
				errs = append(errs, fmt.Sprintf("rule '%s' at %s: output '%s' declares wildcards %v, expected %v",
					r.Name, r.Location, out, got, want))
			}
		}
		for _, in := range r.Inputs {
			for _, name := range in.Wildcards() {
				if !slices.Contains(want, name) {
					errs = append(errs, fmt.Sprintf("rule '%s' at %s: input '%s' uses wildcard '%s' not present in outputs",
						r.Name, r.Location, in, name))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n- %s", ErrInvalidRule, strings.Join(errs, "\n- "))
	}
	return nil
}

func sortedNames(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)
	return slices.Compact(out)
}
