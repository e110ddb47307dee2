package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/vk/burstmake/internal/artifact"
	"github.com/vk/burstmake/internal/config"
	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/dag"
	"github.com/vk/burstmake/internal/fsutil"
	"github.com/vk/burstmake/internal/hcl"
	"github.com/vk/burstmake/internal/registry"
	"github.com/vk/burstmake/internal/report"
	"github.com/vk/burstmake/internal/scheduler"
	"github.com/vk/burstmake/internal/staleness"
	"github.com/vk/burstmake/internal/yamlloader"
)

// Run executes the main application logic based on the provided configuration.
// The process working directory is restored on every return path, including
// recovered panics.
func (a *App) Run(ctx context.Context) (err error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	defer func() {
		if r := recover(); r != nil {
			a.logger.Debug("Recovered panic.", "stack", string(debug.Stack()))
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	ruleFile, err := filepath.Abs(a.config.RuleFile)
	if err != nil {
		return fmt.Errorf("failed to resolve rule file path: %w", err)
	}
	if _, statErr := os.Stat(ruleFile); statErr != nil {
		return fmt.Errorf("rule file %q not present: %w", a.config.RuleFile, statErr)
	}

	restore, err := fsutil.Chdir(a.config.Directory)
	if err != nil {
		return err
	}
	defer func() {
		if restoreErr := restore(); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
	}()
	workdir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to read working directory: %w", err)
	}

	model, err := a.loaderFor(ruleFile).Load(ctx, ruleFile)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	reg, err := model.Registry()
	if err != nil {
		return err
	}
	a.logger.Debug("Rules loaded.", "count", reg.Len(), "workdir", workdir)

	if a.config.List {
		fmt.Fprintln(a.outW, "Defined rules:")
		fmt.Fprint(a.outW, reg.Describe())
		return nil
	}

	fs, err := artifact.NewStore(workdir, 0)
	if err != nil {
		return err
	}

	graph, err := dag.Resolve(ctx, reg, a.config.Targets, dag.Options{
		IgnoreAmbiguity: a.config.IgnoreAmbiguity,
		FS:              fs,
	})
	if err != nil {
		a.logResolveError(reg, err)
		return fmt.Errorf("failed to resolve job graph: %w", err)
	}
	a.logger.Debug("Job graph resolved.", "jobs", graph.Len())

	plan, err := staleness.New(fs, staleness.Force{
		All:   a.config.ForceAll,
		Rules: a.config.ForceRules,
		This:  a.config.Force,
	}).Evaluate(ctx, graph)
	if err != nil {
		return fmt.Errorf("failed to evaluate job staleness: %w", err)
	}

	if a.config.Dag {
		return graph.WriteDot(a.outW)
	}

	if a.config.Reason {
		for _, j := range plan.Run {
			a.logger.Info("Reason for running job.", "job", j.ID, "reason", plan.Reasons[j.ID].String())
		}
	}
	if len(plan.Run) == 0 {
		a.logger.Info("Nothing to be done.")
		return nil
	}

	mode := scheduler.Execute
	switch {
	case a.config.DryRun:
		mode = scheduler.DryRun
	case a.config.Touch:
		mode = scheduler.Touch
	}

	opts := scheduler.Options{
		Jobs:    a.config.Jobs,
		Mode:    mode,
		Workdir: workdir,
		FS:      fs,
		Store:   a.store,
		Out:     a.outW,
		Quiet:   a.config.Quiet,
	}
	exec := a.executor
	if mode == scheduler.Execute && exec == nil {
		var closeExec func()
		exec, closeExec, err = a.newExecutor(workdir)
		if err != nil {
			return err
		}
		defer closeExec()
	}
	if a.config.Cluster == "" {
		opts.MaxThreads = a.config.Jobs
	}

	a.healthCheckServer(ctx)
	defer a.closeHealthCheckServer(ctx)

	a.logger.Info("Starting execution.", "jobs_to_run", len(plan.Run), "skipped", len(plan.Skip), "mode", mode.String())
	res, err := scheduler.New(graph, exec, opts).Run(ctx)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%d job(s) failed, %d job(s) not run", len(res.Failed), len(res.NotRun))
	}
	if mode == scheduler.DryRun {
		fmt.Fprintf(a.outW, "Job counts: %d to run\n", len(res.Planned))
		if a.config.Stats != "" {
			a.logger.Debug("Dry run: runtime statistics not written.", "path", a.config.Stats)
		}
		return nil
	}

	if a.config.Stats != "" {
		if err := a.writeStats(ctx, report.Aggregate(res.Timings)); err != nil {
			return err
		}
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

// loaderFor picks the rule loader by file extension. Directories are read
// as HCL.
func (a *App) loaderFor(path string) config.Loader {
	if a.loader != nil {
		return a.loader
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yamlloader.NewLoader()
	default:
		return hcl.NewLoader()
	}
}

// logResolveError reports where the rules involved in a failed resolution
// are defined.
func (a *App) logResolveError(reg *registry.Registry, err error) {
	var re *dag.ResolveError
	if !errors.As(err, &re) {
		return
	}
	attrs := []any{"kind", re.Kind.Error(), "artifact", re.Artifact}
	if re.RequiredBy != "" {
		name, _, _ := strings.Cut(re.RequiredBy, "[")
		if rule, ok := reg.Rule(name); ok {
			attrs = append(attrs, "rule", rule.Name, "location", rule.Location.String())
		}
	}
	if len(re.Candidates) > 0 {
		attrs = append(attrs, "candidates", strings.Join(re.Candidates, "; "))
	}
	if len(re.Path) > 0 {
		attrs = append(attrs, "cycle", strings.Join(re.Path, " -> "))
	}
	a.logger.Error("Job graph could not be resolved.", attrs...)
}

func (a *App) writeStats(ctx context.Context, summary report.Summary) error {
	if err := summary.WriteFile(a.config.Stats); err != nil {
		return err
	}
	a.logger.Info("Runtime statistics written.", "path", a.config.Stats, "rules", len(summary.Rules))

	s3 := a.config.StatsS3
	if s3 == nil {
		return nil
	}
	uploader, err := report.NewS3Uploader(report.S3Config{
		Endpoint:  s3.Endpoint,
		Region:    s3.Region,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		Bucket:    s3.Bucket,
		UseSSL:    s3.UseSSL,
	})
	if err != nil {
		return err
	}
	key := s3.Key
	if key == "" {
		key = filepath.Base(a.config.Stats)
	}
	if err := uploader.Upload(ctx, key, summary); err != nil {
		return err
	}
	a.logger.Info("Runtime statistics uploaded.", "bucket", uploader.Bucket(), "key", key)
	return nil
}
