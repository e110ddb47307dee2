package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoProducer means an artifact is needed, is not on disk, and no rule
	// can produce it.
	ErrNoProducer = errors.New("no producer")
	// ErrAmbiguousRule means more than one rule instantiation could produce
	// the same artifact.
	ErrAmbiguousRule = errors.New("ambiguous rule")
	// ErrCyclicDependency means resolving an artifact requires itself.
	ErrCyclicDependency = errors.New("cyclic dependency")
	// ErrInvalidTarget means a rule was requested by name but cannot be
	// instantiated without a binding.
	ErrInvalidTarget = errors.New("invalid target")
)

// ResolveError describes why a target could not be resolved. Kind is one of
// the sentinel errors above and is what errors.Is compares against.
type ResolveError struct {
	Kind     error
	Artifact string
	// RequiredBy is the job that needed the artifact, if any.
	RequiredBy string
	// Candidates lists the competing rule instantiations for ambiguity errors.
	Candidates []string
	// Path lists the artifacts forming a cycle, first and last equal.
	Path []string
}

func (e *ResolveError) Error() string {
	var sb strings.Builder
	switch {
	case errors.Is(e.Kind, ErrNoProducer):
		fmt.Fprintf(&sb, "no rule to produce %q and it does not exist", e.Artifact)
	case errors.Is(e.Kind, ErrAmbiguousRule):
		fmt.Fprintf(&sb, "ambiguous rules for %q: %s", e.Artifact, strings.Join(e.Candidates, ", "))
	case errors.Is(e.Kind, ErrCyclicDependency):
		fmt.Fprintf(&sb, "cyclic dependency: %s", strings.Join(e.Path, " -> "))
	case errors.Is(e.Kind, ErrInvalidTarget):
		fmt.Fprintf(&sb, "target rule %q has wildcards in its outputs; request one of its files instead", e.Artifact)
	default:
		fmt.Fprintf(&sb, "%v: %s", e.Kind, e.Artifact)
	}
	if e.RequiredBy != "" {
		fmt.Fprintf(&sb, " (required by %s)", e.RequiredBy)
	}
	return sb.String()
}

func (e *ResolveError) Unwrap() error { return e.Kind }
