package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/burstmake/internal/config"
	"github.com/vk/burstmake/internal/ctxlog"
	"github.com/vk/burstmake/internal/executor"
	"github.com/vk/burstmake/internal/inmemorystore"
	"github.com/vk/burstmake/internal/jobstore"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *Config
	store  jobstore.Store

	// loader and executor override the ones picked from the config.
	loader   config.Loader
	executor executor.Executor

	httpServer *http.Server
}

// Option customizes an App.
type Option func(*App)

// WithLoader forces a rule loader regardless of the rule file's extension.
func WithLoader(l config.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithExecutor replaces the executor the config would select.
func WithExecutor(e executor.Executor) Option {
	return func(a *App) { a.executor = e }
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// NewApp is the constructor for the main application. Human-facing output,
// such as the rule listing, the dry-run plan, and the action output of local
// jobs, is written to outW, and so is the log unless WithLogger is given.
func NewApp(outW io.Writer, cfg *Config, opts ...Option) *App {
	a := &App{
		outW:   outW,
		config: cfg,
		store:  inmemorystore.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	}
	a.logger.Debug("App created.", "rule_file", cfg.RuleFile, "jobs", cfg.Jobs)
	return a
}

// Execute runs the application and reports whether it succeeded. Errors are
// logged, never returned.
func (a *App) Execute(ctx context.Context) bool {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	if err := a.Run(ctx); err != nil {
		a.logger.Error("Run failed.", "error", err)
		return false
	}
	return true
}

// Store returns the job state store of the current run.
func (a *App) Store() jobstore.Store {
	return a.store
}
