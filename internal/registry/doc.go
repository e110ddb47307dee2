// Package registry holds the rule definitions of a workflow.
//
// A Registry is an ordered, read-only collection of Rules produced by one of
// the rule loaders (HCL or YAML). Order matters: the first declared rule is
// the default target, and registry order is the tie-break when ambiguity is
// explicitly ignored during resolution.
//
// The registry is validated once at construction so that the resolver can
// rely on its invariants: unique names, at least one output per rule, and
// input wildcards that are always determined by the outputs.
package registry
