// internal/pattern/doc.go

/*
Package pattern implements the path templates used in rule inputs and outputs.

A pattern is literal text interleaved with named wildcard slots, e.g.
`results/{sample}.sorted`. A slot may carry a regular-expression constraint,
`{sample,[a-z0-9]+}`, and literal braces are written as `{{` and `}}`.

Matching is purely syntactic. Every wildcard matches one or more characters
(greedy), and a name used twice in one pattern must bind the same value both
times. A pattern without wildcards matches only the identical path.
*/
package pattern
