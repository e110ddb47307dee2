package scheduler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/burstmake/internal/dag"
	"github.com/vk/burstmake/internal/executor"
	"github.com/vk/burstmake/internal/executor/executortest"
	"github.com/vk/burstmake/internal/inmemorystore"
	"github.com/vk/burstmake/internal/registry"
	"github.com/vk/burstmake/internal/staleness"
	"github.com/vk/burstmake/internal/testutil"
)

func resolve(t *testing.T, fs *testutil.MemFS, targets []string, rules ...*registry.Rule) *dag.Graph {
	t.Helper()
	reg := testutil.NewRegistry(t, rules...)
	g, err := dag.Resolve(context.Background(), reg, targets, dag.Options{FS: fs})
	require.NoError(t, err)
	_, err = staleness.New(fs, staleness.Force{}).Evaluate(context.Background(), g)
	require.NoError(t, err)
	return g
}

func chainRules() []*registry.Rule {
	return []*registry.Rule{
		testutil.NewRule("A", nil, []string{"x.txt"}),
		testutil.NewRule("B", []string{"x.txt"}, []string{"y.txt"}),
	}
}

func TestRun_LinearChain(t *testing.T) {
	fs := testutil.NewMemFS()
	g := resolve(t, fs, []string{"y.txt"}, chainRules()...)
	require.Equal(t, 2, g.Len())

	fake := executortest.New(fs)
	res, err := New(g, fake, Options{Jobs: 4, FS: fs}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"A", "B"}, fake.Calls())
	assert.Equal(t, []string{"A", "B"}, res.Order)
	assert.Len(t, res.Timings, 2)
	assert.Empty(t, res.NotRun)
	for _, j := range g.Jobs() {
		assert.Equal(t, dag.Done, j.Status, j.ID)
	}

	// Nothing changed, so a second run has nothing to do.
	g = resolve(t, fs, []string{"y.txt"}, chainRules()...)
	fake = executortest.New(fs)
	res, err = New(g, fake, Options{Jobs: 4, FS: fs}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Empty(t, fake.Calls())
	for _, j := range g.Jobs() {
		assert.Equal(t, dag.Skipped, j.Status, j.ID)
	}
}

func TestRun_FailureStopsDependentsOnly(t *testing.T) {
	fs := testutil.NewMemFS()
	g := resolve(t, fs, []string{"w.txt", "e.txt"},
		testutil.NewRule("C", nil, []string{"z.txt"}),
		testutil.NewRule("D", []string{"z.txt"}, []string{"w.txt"}),
		testutil.NewRule("E", nil, []string{"e.txt"}),
	)

	fake := executortest.New(fs).ExitWith("C", 3)
	store := inmemorystore.New()
	res, err := New(g, fake, Options{Jobs: 2, FS: fs, Store: store}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.ElementsMatch(t, []string{"C", "E"}, fake.Calls())
	assert.Equal(t, []string{"D"}, res.NotRun)
	require.Contains(t, res.Failed, "C")

	var actionErr *executor.ActionError
	require.ErrorAs(t, res.Failed["C"], &actionErr)
	assert.Equal(t, 3, actionErr.Status.Code)
	assert.ErrorIs(t, res.Failed["C"], executor.ErrActionFailed)

	d, ok := g.Job("D")
	require.True(t, ok)
	assert.Equal(t, dag.Pending, d.Status)
	e, ok := g.Job("E")
	require.True(t, ok)
	assert.Equal(t, dag.Done, e.Status)
	assert.False(t, fs.Exists("z.txt"))

	counts, err := store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[dag.Status]int{dag.Failed: 1, dag.Pending: 1, dag.Done: 1}, counts)
	stored, err := store.GetError(context.Background(), "C")
	require.NoError(t, err)
	assert.Equal(t, res.Failed["C"], stored)
}

func TestRun_SubmissionError(t *testing.T) {
	fs := testutil.NewMemFS()
	g := resolve(t, fs, []string{"y.txt"}, chainRules()...)

	fake := executortest.New(fs).FailWith("A", executor.ErrSubmission)
	res, err := New(g, fake, Options{FS: fs}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Failed["A"], executor.ErrSubmission)
	assert.Equal(t, []string{"B"}, res.NotRun)
}

func TestRun_RenderErrorFailsJob(t *testing.T) {
	fs := testutil.NewMemFS()
	g := resolve(t, fs, []string{"y.txt"},
		testutil.NewRule("A", nil, []string{"x.txt"}, testutil.WithCommand("echo {nope}")),
		testutil.NewRule("B", []string{"x.txt"}, []string{"y.txt"}),
	)

	fake := executortest.New(fs)
	res, err := New(g, fake, Options{FS: fs}).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Empty(t, fake.Calls())
	assert.ErrorIs(t, res.Failed["A"], registry.ErrUnknownPlaceholder)
	assert.Equal(t, []string{"B"}, res.NotRun)
}

func TestRun_DryRunMatchesRealRun(t *testing.T) {
	rules := func() []*registry.Rule {
		return []*registry.Rule{
			testutil.NewRule("all", []string{"A.bam", "B.bam"}, []string{"done.txt"}),
			testutil.NewRule("align", []string{"{s}.fq"}, []string{"{s}.bam"}, testutil.WithCommand("bwa {input} > {output}")),
		}
	}
	newFS := func() *testutil.MemFS { return testutil.NewMemFS().Put("A.fq", "B.fq") }

	dryFS := newFS()
	dry := resolve(t, dryFS, nil, rules()...)
	var out bytes.Buffer
	dryRes, err := New(dry, nil, Options{Mode: DryRun, FS: dryFS, Out: &out}).Run(context.Background())
	require.NoError(t, err)
	require.True(t, dryRes.Success)

	realFS := newFS()
	real := resolve(t, realFS, nil, rules()...)
	fake := executortest.New(realFS)
	realRes, err := New(real, fake, Options{Jobs: 1, FS: realFS}).Run(context.Background())
	require.NoError(t, err)

	if diff := cmp.Diff(fake.Calls(), dryRes.Order); diff != "" {
		t.Errorf("dry run order mismatch (-real +dry):\n%s", diff)
	}
	assert.Equal(t, realRes.Order, dryRes.Order)
	assert.Empty(t, dryFS.Touched())
	assert.Empty(t, dryRes.Timings)

	require.Len(t, dryRes.Planned, 3)
	assert.Equal(t, "bwa A.fq > A.bam", dryRes.Planned[0].Command)
	assert.Contains(t, out.String(), "rule align:\n    input: A.fq\n    output: A.bam\n    wildcards: s=A\nbwa A.fq > A.bam\n")
	assert.Contains(t, out.String(), "rule all:")
}

func TestRun_Touch(t *testing.T) {
	fs := testutil.NewMemFS()
	g := resolve(t, fs, []string{"y.txt"}, chainRules()...)

	var out bytes.Buffer
	res, err := New(g, nil, Options{Mode: Touch, FS: fs, Out: &out}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"x.txt", "y.txt"}, fs.Touched())
	assert.Contains(t, out.String(), "Touching output files of A.")
}

func TestRun_RequiresCollaborators(t *testing.T) {
	fs := testutil.NewMemFS()
	g := resolve(t, fs, []string{"y.txt"}, chainRules()...)

	_, err := New(g, nil, Options{}).Run(context.Background())
	assert.ErrorContains(t, err, "executor is required")

	_, err = New(g, nil, Options{Mode: Touch}).Run(context.Background())
	assert.ErrorContains(t, err, "artifact FS is required")

	_, err = New(nil, executortest.New(nil), Options{}).Run(context.Background())
	assert.ErrorContains(t, err, "graph is required")
}

func TestRun_PriorityOrdersReadyJobs(t *testing.T) {
	fs := testutil.NewMemFS()
	g := resolve(t, fs, []string{"l.txt", "m.txt", "h.txt"},
		testutil.NewRule("low", nil, []string{"l.txt"}),
		testutil.NewRule("mid", nil, []string{"m.txt"}),
		testutil.NewRule("high", nil, []string{"h.txt"}, testutil.WithPriority(5)),
	)

	fake := executortest.New(fs)
	res, err := New(g, fake, Options{Jobs: 1, FS: fs}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"high", "low", "mid"}, res.Order)
	assert.Equal(t, res.Order, fake.Calls())
}

func TestRun_BoundsConcurrency(t *testing.T) {
	fs := testutil.NewMemFS()
	var rules []*registry.Rule
	var targets []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		rules = append(rules, testutil.NewRule(name, nil, []string{name + ".out"}))
		targets = append(targets, name+".out")
	}
	g := resolve(t, fs, targets, rules...)

	fake := executortest.New(fs)
	fake.Delay = 20 * time.Millisecond
	res, err := New(g, fake, Options{Jobs: 2, FS: fs}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Len(t, fake.Calls(), 5)
	assert.LessOrEqual(t, fake.Peak(), 2)
}

func TestRun_SkippedDependencySatisfiesDependents(t *testing.T) {
	fs := testutil.NewMemFS().Put("x.txt")
	g := resolve(t, fs, []string{"y.txt"}, chainRules()...)

	a, ok := g.Job("A")
	require.True(t, ok)
	require.Equal(t, dag.Skipped, a.Status)

	fake := executortest.New(fs)
	res, err := New(g, fake, Options{FS: fs}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, []string{"B"}, fake.Calls())
}

func TestRun_CancelStopsDispatching(t *testing.T) {
	fs := testutil.NewMemFS()
	g := resolve(t, fs, []string{"a.out", "b.out"},
		testutil.NewRule("a", nil, []string{"a.out"}),
		testutil.NewRule("b", nil, []string{"b.out"}),
	)

	fake := executortest.New(fs)
	release := fake.Gate("a")
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := New(g, fake, Options{Jobs: 1, FS: fs}).Run(ctx)
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool { return len(fake.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	release()

	var got outcome
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	require.Error(t, got.err)
	assert.True(t, errors.Is(got.err, context.Canceled))
	require.NotNil(t, got.res)
	assert.False(t, got.res.Success)
	assert.Equal(t, []string{"a"}, fake.Calls())
	assert.Equal(t, []string{"b"}, got.res.NotRun)

	a, ok := g.Job("a")
	require.True(t, ok)
	assert.Equal(t, dag.Done, a.Status, "in-flight job runs to completion")
}

func TestRun_AnnouncesJobs(t *testing.T) {
	fs := testutil.NewMemFS()
	rule := testutil.NewRule("A", nil, []string{"x.txt"})
	rule.Message = "Building {output}"
	g := resolve(t, fs, nil, rule)

	var out bytes.Buffer
	_, err := New(g, executortest.New(fs), Options{FS: fs, Out: &out}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Building x.txt\n\n", out.String())

	out.Reset()
	fs.Remove("x.txt")
	g = resolve(t, fs, nil, rule)
	_, err = New(g, executortest.New(fs), Options{FS: fs, Out: &out, Quiet: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestTransition(t *testing.T) {
	testCases := []struct {
		from, to dag.Status
		ok       bool
	}{
		{dag.Pending, dag.Ready, true},
		{dag.Ready, dag.Running, true},
		{dag.Ready, dag.Done, true},
		{dag.Running, dag.Done, true},
		{dag.Running, dag.Failed, true},
		{dag.Pending, dag.Running, false},
		{dag.Done, dag.Running, false},
		{dag.Skipped, dag.Ready, false},
		{dag.Failed, dag.Done, false},
	}

	for _, tc := range testCases {
		t.Run(tc.from.String()+"->"+tc.to.String(), func(t *testing.T) {
			j := &dag.Job{ID: "j", Status: tc.from}
			err := transition(j, tc.to)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.to, j.Status)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tc.from, j.Status)
		})
	}
}
