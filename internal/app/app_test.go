package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/burstmake/internal/config"
	"github.com/vk/burstmake/internal/dag"
	"github.com/vk/burstmake/internal/executor/executortest"
	"github.com/vk/burstmake/internal/testutil"
)

const chainHCL = `
rule "all" {
  input   = ["b.txt"]
  output  = ["done.txt"]
  command = "cat {input} > {output}"
}

rule "b" {
  input  = ["a.txt"]
  output = ["b.txt"]
  shell  = "tr a-z A-Z < ${input[0]} > ${output[0]}"
}

rule "a" {
  output  = ["a.txt"]
  command = "echo hello > {output}"
}
`

// setupApp writes the rule file into a fresh directory and builds an App
// running in it.
func setupApp(t *testing.T, name, rules string, mutate func(*Config)) (*App, *testutil.SafeBuffer, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(rules), 0o644))

	cfg := Config{RuleFile: path, Directory: dir, Jobs: 2, LogFormat: "text", LogLevel: "info"}
	if mutate != nil {
		mutate(&cfg)
	}
	validated, err := NewConfig(cfg)
	require.NoError(t, err)

	out := &testutil.SafeBuffer{}
	t.Cleanup(func() {
		if os.Getenv("BURSTMAKE_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), out.String())
		}
	})
	return NewApp(out, validated), out, dir
}

func getwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	return wd
}

func TestApp_RunsChain(t *testing.T) {
	before := getwd(t)
	a, out, dir := setupApp(t, "rules.hcl", chainHCL, nil)

	require.True(t, a.Execute(context.Background()), out.String())
	assert.Equal(t, before, getwd(t), "working directory must be restored")

	data, err := os.ReadFile(filepath.Join(dir, "done.txt"))
	require.NoError(t, err)
	assert.Equal(t, "HELLO\n", string(data))

	counts, err := a.Store().Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[dag.Status]int{dag.Done: 3}, counts)

	// Second run: everything is up to date.
	again, out2, _ := setupApp(t, "rules.hcl", chainHCL, func(c *Config) { c.Directory = dir })
	require.True(t, again.Execute(context.Background()))
	assert.Contains(t, out2.String(), "Nothing to be done.")
}

func TestApp_ListMode(t *testing.T) {
	a, out, dir := setupApp(t, "rules.hcl", chainHCL, func(c *Config) { c.List = true })

	require.True(t, a.Execute(context.Background()))
	assert.Contains(t, out.String(), "Defined rules:\nall\nb\na\n")
	assert.NoFileExists(t, filepath.Join(dir, "a.txt"))
}

func TestApp_MissingRuleFile(t *testing.T) {
	before := getwd(t)
	cfg, err := NewConfig(Config{RuleFile: filepath.Join(t.TempDir(), "nope.hcl")})
	require.NoError(t, err)
	out := &testutil.SafeBuffer{}

	assert.False(t, NewApp(out, cfg).Execute(context.Background()))
	assert.Contains(t, out.String(), "not present")
	assert.Equal(t, before, getwd(t))
}

func TestApp_DryRun(t *testing.T) {
	a, out, dir := setupApp(t, "rules.hcl", chainHCL, func(c *Config) {
		c.DryRun = true
		c.Stats = "stats/run.tsv"
	})

	require.True(t, a.Execute(context.Background()), out.String())
	assert.Contains(t, out.String(), "Job counts: 3 to run")
	assert.Contains(t, out.String(), "echo hello > a.txt")
	assert.NoDirExists(t, filepath.Join(dir, "stats"))
	for _, f := range []string{"a.txt", "b.txt", "done.txt"} {
		assert.NoFileExists(t, filepath.Join(dir, f))
	}
}

func TestApp_Touch(t *testing.T) {
	a, out, dir := setupApp(t, "rules.hcl", chainHCL, func(c *Config) { c.Touch = true })

	require.True(t, a.Execute(context.Background()), out.String())
	info, err := os.Stat(filepath.Join(dir, "done.txt"))
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "touch creates outputs without running actions")
}

func TestApp_Dag(t *testing.T) {
	a, out, dir := setupApp(t, "rules.hcl", chainHCL, func(c *Config) { c.Dag = true })

	require.True(t, a.Execute(context.Background()))
	assert.Contains(t, out.String(), "digraph burstmake_dag {")
	assert.NoFileExists(t, filepath.Join(dir, "a.txt"))
}

func TestApp_Reason(t *testing.T) {
	a, out, _ := setupApp(t, "rules.hcl", chainHCL, func(c *Config) { c.Reason = true; c.DryRun = true })

	require.True(t, a.Execute(context.Background()))
	assert.Contains(t, out.String(), "Reason for running job.")
	assert.Contains(t, out.String(), "Missing output files: a.txt")
}

func TestApp_JobFailure(t *testing.T) {
	rules := `
rule "all" {
  input   = ["bad.txt", "good.txt"]
  output  = ["done.txt"]
  command = "touch {output}"
}

rule "bad" {
  output  = ["bad.txt"]
  command = "exit 3"
}

rule "good" {
  output  = ["good.txt"]
  command = "touch {output}"
}
`
	a, out, dir := setupApp(t, "rules.hcl", rules, nil)

	assert.False(t, a.Execute(context.Background()))
	assert.Contains(t, out.String(), "Job failed.")
	assert.Contains(t, out.String(), "1 job(s) failed, 1 job(s) not run")
	assert.FileExists(t, filepath.Join(dir, "good.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "done.txt"))
}

func TestApp_ResolveErrorNamesRules(t *testing.T) {
	rules := `
rule "one" {
  output  = ["shared.txt"]
  command = "touch {output}"
}

rule "two" {
  output  = ["shared.txt"]
  command = "touch {output}"
}
`
	a, out, _ := setupApp(t, "rules.hcl", rules, func(c *Config) { c.Targets = []string{"shared.txt"} })

	assert.False(t, a.Execute(context.Background()))
	assert.Contains(t, out.String(), "ambiguous rules")
	assert.Contains(t, out.String(), "rules.hcl:2")
	assert.Contains(t, out.String(), "rules.hcl:7")
}

func TestApp_YAMLRules(t *testing.T) {
	rules := `rules:
  - name: all
    input: a.txt
    output: done.txt
    shell: cp {input} {output}
  - name: a
    output: a.txt
    shell: echo yaml > {output}
`
	a, out, dir := setupApp(t, "rules.yaml", rules, nil)

	require.True(t, a.Execute(context.Background()), out.String())
	data, err := os.ReadFile(filepath.Join(dir, "done.txt"))
	require.NoError(t, err)
	assert.Equal(t, "yaml\n", string(data))
}

func TestApp_Stats(t *testing.T) {
	a, out, dir := setupApp(t, "rules.hcl", chainHCL, func(c *Config) { c.Stats = "stats/run.tsv" })

	require.True(t, a.Execute(context.Background()), out.String())
	data, err := os.ReadFile(filepath.Join(dir, "stats", "run.tsv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "rule\tminimum\tmaximum\tsum\tmean\n")
	assert.Contains(t, string(data), "Overall runtime\t")
}

func TestApp_WithExecutor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.hcl")
	require.NoError(t, os.WriteFile(path, []byte(chainHCL), 0o644))
	cfg, err := NewConfig(Config{RuleFile: path, Directory: dir, Targets: []string{"b.txt"}})
	require.NoError(t, err)

	fake := executortest.New(nil)
	out := &testutil.SafeBuffer{}
	require.True(t, NewApp(out, cfg, WithExecutor(fake)).Execute(context.Background()), out.String())
	assert.Equal(t, []string{"a", "b"}, fake.Calls())
}

type panicLoader struct{}

func (panicLoader) Load(context.Context, string) (*config.Model, error) {
	panic("loader exploded")
}

func TestApp_RecoversPanic(t *testing.T) {
	before := getwd(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.hcl")
	require.NoError(t, os.WriteFile(path, []byte(chainHCL), 0o644))
	cfg, err := NewConfig(Config{RuleFile: path, Directory: dir})
	require.NoError(t, err)

	out := &testutil.SafeBuffer{}
	assert.False(t, NewApp(out, cfg, WithLoader(panicLoader{})).Execute(context.Background()))
	assert.Contains(t, out.String(), "run panicked: loader exploded")
	assert.Equal(t, before, getwd(t))
}

func TestApp_HealthHandler(t *testing.T) {
	cfg, err := NewConfig(Config{RuleFile: "rules.hcl"})
	require.NoError(t, err)
	a := NewApp(&testutil.SafeBuffer{}, cfg)
	ctx := context.Background()
	require.NoError(t, a.Store().SetStatus(ctx, "a", dag.Done))
	require.NoError(t, a.Store().SetStatus(ctx, "b", dag.Running))

	rec := httptest.NewRecorder()
	a.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]int{"done": 1, "running": 1}, resp.Jobs)
}

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
		check   func(t *testing.T, c *Config)
	}{
		{
			name:    "missing rule file",
			cfg:     Config{},
			wantErr: "RuleFile",
		},
		{
			name: "defaults",
			cfg:  Config{RuleFile: "rules.hcl"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 1, c.Jobs)
				assert.Equal(t, StatusMarker, c.ClusterStatus)
			},
		},
		{
			name:    "dry run and touch",
			cfg:     Config{RuleFile: "rules.hcl", DryRun: true, Touch: true},
			wantErr: "mutually exclusive",
		},
		{
			name:    "unknown cluster status",
			cfg:     Config{RuleFile: "rules.hcl", ClusterStatus: "pigeon"},
			wantErr: "invalid cluster status",
		},
		{
			name:    "socketio without url",
			cfg:     Config{RuleFile: "rules.hcl", ClusterStatus: "SocketIO"},
			wantErr: "status URL",
		},
		{
			name:    "s3 without stats file",
			cfg:     Config{RuleFile: "rules.hcl", StatsS3: &S3Config{Bucket: "b"}},
			wantErr: "stats file",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewConfig(tc.cfg)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			if tc.check != nil {
				tc.check(t, c)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("WARN").String())
	assert.Equal(t, "INFO", parseLevel("bogus").String())
}
