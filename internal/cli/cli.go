package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vk/burstmake/internal/app"
)

// version is set at build time via -ldflags.
var version = "dev"

// DefaultRuleFile is read when no rule file is given.
const DefaultRuleFile = "rules.hcl"

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// usageError marks a command line the parser rejected.
func usageError(format string, args ...any) error {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// LoadEnv reads KEY=VALUE pairs from the given files, or from .env when
// none are given, into the process environment. Missing files are ignored
// and variables already set are kept.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

type options struct {
	ruleFile        string
	directory       string
	jobs            int
	dryRun          bool
	touch           bool
	quiet           bool
	printShellCmds  bool
	jobTimeout      time.Duration
	force           bool
	forceAll        bool
	forceRules      []string
	ignoreAmbiguity bool

	cluster          string
	clusterStatus    string
	clusterStatusURL string
	clusterTimeout   time.Duration

	stats         string
	statsS3Bucket string
	statsS3Key    string

	list   bool
	reason bool
	dag    bool

	logFormat       string
	logLevel        string
	healthcheckPort int
}

func registerFlags(f *pflag.FlagSet, o *options) {
	f.StringVarP(&o.ruleFile, "rules", "s", envString("BURSTMAKE_RULES", DefaultRuleFile), "Rule file (.hcl or .yaml) or directory of .hcl files.")
	f.StringVarP(&o.directory, "directory", "d", envString("BURSTMAKE_DIRECTORY", ""), "Working directory for the run.")
	f.IntVarP(&o.jobs, "jobs", "j", envInt("BURSTMAKE_JOBS", 1), "Number of jobs to run concurrently.")
	f.BoolVarP(&o.dryRun, "dryrun", "n", false, "Print the jobs that would run without running them.")
	f.BoolVarP(&o.touch, "touch", "t", false, "Touch the outputs of stale jobs instead of running them.")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "Suppress job announcements and action output.")
	f.BoolVarP(&o.printShellCmds, "printshellcmds", "p", false, "Print each command before running it.")
	f.DurationVar(&o.jobTimeout, "job-timeout", 0, "Fail local jobs that run longer than this. 0 disables the limit.")
	f.BoolVarP(&o.force, "force", "f", false, "Run the requested targets even if they are up to date.")
	f.BoolVarP(&o.forceAll, "forceall", "F", false, "Run every job of the graph.")
	f.StringSliceVarP(&o.forceRules, "forcerules", "R", nil, "Run every job of the named rules.")
	f.BoolVar(&o.ignoreAmbiguity, "ignore-ambiguity", false, "Pick the first declared rule when several can produce a file.")

	f.StringVarP(&o.cluster, "cluster", "c", envString("BURSTMAKE_CLUSTER", ""), "Submit jobs with this command template instead of running them locally, e.g. 'qsub -pe smp {threads}'.")
	f.StringVar(&o.clusterStatus, "cluster-status", envString("BURSTMAKE_CLUSTER_STATUS", app.StatusMarker), "How to learn cluster job status: 'marker' or 'socketio'.")
	f.StringVar(&o.clusterStatusURL, "cluster-status-url", envString("BURSTMAKE_CLUSTER_STATUS_URL", ""), "socket.io endpoint publishing job status events.")
	f.DurationVar(&o.clusterTimeout, "cluster-timeout", 0, "Fail cluster jobs that report no status within this time. 0 waits forever.")

	f.StringVar(&o.stats, "stats", "", "Write runtime statistics to this file after a successful run.")
	f.StringVar(&o.statsS3Bucket, "stats-s3-bucket", envString("BURSTMAKE_S3_BUCKET", ""), "Also upload the statistics file to this S3 bucket.")
	f.StringVar(&o.statsS3Key, "stats-s3-key", "", "Object key of the uploaded statistics. Defaults to the file name.")

	f.BoolVarP(&o.list, "list", "l", false, "List the defined rules and exit.")
	f.BoolVarP(&o.reason, "reason", "r", false, "Log why each job runs.")
	f.BoolVar(&o.dag, "dag", false, "Print the job graph in Graphviz dot format and exit.")

	f.StringVar(&o.logFormat, "log-format", envString("BURSTMAKE_LOG_FORMAT", "text"), "Log output format. Options: 'text' or 'json'.")
	f.StringVar(&o.logLevel, "log-level", envString("BURSTMAKE_LOG_LEVEL", "info"), "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	f.IntVar(&o.healthcheckPort, "healthcheck-port", envInt("BURSTMAKE_HEALTHCHECK_PORT", 0), "Port for the HTTP health check server. 0 is disabled.")
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly (help or version
// was requested), or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	var o options
	var cfg *app.Config
	cmd := &cobra.Command{
		Use:   "burstmake [flags] [TARGET...]",
		Short: "Pattern-driven build orchestrator",
		Long: "burstmake resolves the requested targets against the rules of a rule file,\n" +
			"runs the jobs whose outputs are missing or outdated, and runs independent\n" +
			"jobs in parallel. Targets are file paths or rule names; without targets the\n" +
			"first rule is built.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, targets []string) error {
			c, err := o.config(targets)
			if err != nil {
				return err
			}
			cfg = c
			return nil
		},
	}
	cmd.SetArgs(args)
	cmd.SetOut(output)
	cmd.SetErr(output)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError("%s", err.Error())
	})
	registerFlags(cmd.Flags(), &o)

	if err := cmd.Execute(); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return nil, false, exitErr
		}
		return nil, false, usageError("%s", err.Error())
	}
	if cfg == nil {
		// Help or version output was printed instead of running.
		return nil, true, nil
	}

	slog.Debug("CLI parser finished successfully.", "rule_file", cfg.RuleFile, "targets", cfg.Targets)
	return cfg, false, nil
}

func (o *options) config(targets []string) (*app.Config, error) {
	logFormat := strings.ToLower(o.logFormat)
	if logFormat != "text" && logFormat != "json" {
		return nil, usageError("invalid log-format: must be 'text' or 'json'")
	}

	logLevel := strings.ToLower(o.logLevel)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	if o.jobs < 1 {
		return nil, usageError("invalid jobs: must be at least 1")
	}

	var s3 *app.S3Config
	if o.statsS3Bucket != "" {
		s3 = &app.S3Config{
			Endpoint:  envString("BURSTMAKE_S3_ENDPOINT", ""),
			Region:    envString("BURSTMAKE_S3_REGION", ""),
			AccessKey: envString("BURSTMAKE_S3_ACCESS_KEY", ""),
			SecretKey: envString("BURSTMAKE_S3_SECRET_KEY", ""),
			Bucket:    o.statsS3Bucket,
			UseSSL:    envBool("BURSTMAKE_S3_USE_SSL", false),
			Key:       o.statsS3Key,
		}
	}

	cfg, err := app.NewConfig(app.Config{
		RuleFile:         o.ruleFile,
		Targets:          targets,
		Directory:        o.directory,
		Jobs:             o.jobs,
		DryRun:           o.dryRun,
		Touch:            o.touch,
		Quiet:            o.quiet,
		PrintShellCmds:   o.printShellCmds,
		JobTimeout:       o.jobTimeout,
		Force:            o.force,
		ForceAll:         o.forceAll,
		ForceRules:       o.forceRules,
		IgnoreAmbiguity:  o.ignoreAmbiguity,
		Cluster:          o.cluster,
		ClusterStatus:    o.clusterStatus,
		ClusterStatusURL: o.clusterStatusURL,
		ClusterTimeout:   o.clusterTimeout,
		Stats:            o.stats,
		StatsS3:          s3,
		List:             o.list,
		Reason:           o.reason,
		Dag:              o.dag,
		LogFormat:        logFormat,
		LogLevel:         logLevel,
		HealthcheckPort:  o.healthcheckPort,
	})
	if err != nil {
		return nil, usageError("%s", err.Error())
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}
