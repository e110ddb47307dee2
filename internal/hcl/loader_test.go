package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/burstmake/internal/pattern"
	"github.com/vk/burstmake/internal/registry"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Rules(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.hcl", `
rule "all" {
  input   = ["aligned/A.bam", "aligned/B.bam"]
  output  = ["done.txt"]
  command = "touch {output}"
}

rule "align" {
  input     = ["reads/{sample}.fq", "ref.fa"]
  output    = ["aligned/{sample}.bam"]
  threads   = 4
  priority  = 10
  message   = "aligning"
  resources = { mem_mb = 2048 }
  shell     = "bwa -t ${threads} ${input[1]} ${input[0]} > ${output[0]} # ${wildcards.sample}"
}
`)

	model, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, model.Rules, 2)

	all := model.Rules[0]
	assert.Equal(t, "all", all.Name)
	assert.Equal(t, 1, all.Threads)
	assert.Equal(t, path, all.Location.File)
	assert.Equal(t, 2, all.Location.Line)
	assert.IsType(t, registry.FormatAction(""), all.Action)

	align := model.Rules[1]
	assert.Equal(t, 4, align.Threads)
	assert.Equal(t, 10, align.Priority)
	assert.Equal(t, "aligning", align.Message)
	assert.Equal(t, map[string]int{"mem_mb": 2048}, align.Resources)
	assert.Equal(t, []string{"sample"}, align.Wildcards())

	cmd, err := align.Action.Render(registry.ActionContext{
		Rule:      "align",
		Inputs:    []string{"reads/A.fq", "ref.fa"},
		Outputs:   []string{"aligned/A.bam"},
		Wildcards: pattern.Binding{"sample": "A"},
		Threads:   4,
		Resources: align.Resources,
	})
	require.NoError(t, err)
	assert.Equal(t, "bwa -t 4 ref.fa reads/A.fq > aligned/A.bam # A", cmd)
	assert.Contains(t, align.Action.String(), "bwa -t ${threads}")

	reg, err := model.Registry()
	require.NoError(t, err)
	assert.Equal(t, "all", reg.First().Name)
}

func TestLoad_Functions(t *testing.T) {
	path := writeFile(t, t.TempDir(), "rules.hcl", `
rule "merge" {
  input  = ["a.txt", "b.txt"]
  output = ["merged.txt"]
  shell  = "cat ${join(" ", input)} | tr a-z A-Z > ${upper(rule)}.tmp"
}
`)
	model, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)

	cmd, err := model.Rules[0].Action.Render(registry.ActionContext{
		Rule:    "merge",
		Inputs:  []string{"a.txt", "b.txt"},
		Outputs: []string{"merged.txt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cat a.txt b.txt | tr a-z A-Z > MERGE.tmp", cmd)
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.hcl", `rule "second" {
  output  = ["b"]
  command = "touch b"
}`)
	writeFile(t, dir, "a.hcl", `rule "first" {
  output  = ["a"]
  command = "touch a"
}`)

	model, err := NewLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, model.Rules, 2)
	assert.Equal(t, "first", model.Rules[0].Name)
	assert.Equal(t, "second", model.Rules[1].Name)
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "syntax error",
			content: `rule "a" {`,
			wantErr: "failed to parse",
		},
		{
			name:    "missing output",
			content: `rule "a" { command = "x" }`,
			wantErr: "output",
		},
		{
			name:    "missing action",
			content: `rule "a" { output = ["x"] }`,
			wantErr: "Missing action",
		},
		{
			name:    "both actions",
			content: `rule "a" { output = ["x"] shell = "a" command = "b" }`,
			wantErr: "Conflicting actions",
		},
		{
			name:    "bad pattern",
			content: `rule "a" { output = ["{x"] command = "b" }`,
			wantErr: "Invalid pattern",
		},
		{
			name:    "wrong type",
			content: `rule "a" { output = ["x"] threads = "many" command = "b" }`,
			wantErr: "threads",
		},
		{
			name:    "unknown attribute",
			content: `rule "a" { output = ["x"] command = "b" retries = 3 }`,
			wantErr: "retries",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "rules.hcl", tc.content)
			_, err := NewLoader().Load(context.Background(), path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "nope.hcl"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
