// Package hcl provides the HCL implementation of config.Loader.
//
// A rule file is a sequence of `rule` blocks:
//
//	rule "align" {
//	  input   = ["reads/{sample}.fq", "ref.fa"]
//	  output  = ["aligned/{sample}.bam"]
//	  threads = 4
//	  shell   = "bwa mem -t ${threads} ${input[1]} ${input[0]} > ${output[0]}"
//	}
//
// The `shell` attribute is kept as a raw HCL expression and evaluated per job
// against the job's concrete inputs, outputs, and wildcards. Rules may use
// `command` instead, a plain brace template rendered by registry.FormatAction.
package hcl
