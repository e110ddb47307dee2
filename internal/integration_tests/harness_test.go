package integration_tests

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vk/burstmake/internal/app"
	"github.com/vk/burstmake/internal/testutil"
)

// workspace is a temporary working directory holding a rule file.
type workspace struct {
	t        *testing.T
	dir      string
	ruleFile string
}

func newWorkspace(t *testing.T, name, rules string) *workspace {
	t.Helper()
	dir := t.TempDir()
	w := &workspace{t: t, dir: dir, ruleFile: filepath.Join(dir, name)}
	w.write(name, rules)
	return w
}

func (w *workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w *workspace) write(name, content string) {
	w.t.Helper()
	p := w.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		w.t.Fatalf("failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		w.t.Fatalf("failed to write %s: %v", name, err)
	}
}

func (w *workspace) read(name string) string {
	w.t.Helper()
	data, err := os.ReadFile(w.path(name))
	if err != nil {
		w.t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func (w *workspace) exists(name string) bool {
	_, err := os.Stat(w.path(name))
	return err == nil
}

// ranRules returns the lines the actions appended to log.txt.
func (w *workspace) ranRules() []string {
	w.t.Helper()
	if !w.exists("log.txt") {
		return nil
	}
	return strings.Fields(w.read("log.txt"))
}

// run executes the app in the workspace and returns its success and output.
func (w *workspace) run(mutate func(*app.Config)) (bool, string) {
	w.t.Helper()
	cfg := app.Config{RuleFile: w.ruleFile, Directory: w.dir, Jobs: 4, LogFormat: "text", LogLevel: "debug"}
	if mutate != nil {
		mutate(&cfg)
	}
	validated, err := app.NewConfig(cfg)
	if err != nil {
		w.t.Fatalf("invalid config: %v", err)
	}

	out := &testutil.SafeBuffer{}
	ok := app.NewApp(out, validated).Execute(context.Background())
	if os.Getenv("BURSTMAKE_TEST_LOGS") == "true" {
		w.t.Logf("--- Full Log Output for %s ---\n%s", w.t.Name(), out.String())
	}
	return ok, out.String()
}
