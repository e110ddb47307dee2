// Package dag resolves requested targets into a directed acyclic graph of
// jobs by backward chaining over the rules' output patterns.
//
// Resolution starts from each target and asks, for every artifact it needs,
// which rule can produce it. A matching rule is instantiated under the
// wildcard binding extracted from the artifact and its inputs are resolved
// in turn. The walk uses an explicit stack, so deep chains do not grow the
// goroutine stack.
//
// The resulting Graph is immutable apart from the per-job runtime fields
// (Status, Start, End, Err), which the scheduler's coordinator owns.
package dag
