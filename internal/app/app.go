package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/vk/cmdgrid/internal/config"
	"github.com/vk/cmdgrid/internal/ctxlog"
	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/executor"
	"github.com/vk/cmdgrid/internal/scheduler"
)

// App encapsulates the application's dependencies, configuration and
// lifecycle.
type App struct {
	outW       io.Writer
	logW       io.Writer
	logger     *slog.Logger
	ctx        context.Context
	config     *config.Config
	httpServer *http.Server
}

// NewApp returns an App that prints results to outW and logs to logW.
// A nil cfg means config.Default().
func NewApp(outW, logW io.Writer, cfg *config.Config) *App {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := newLogger(cfg.Log.Level, cfg.Log.Format, logW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:   outW,
		logW:   logW,
		logger: logger,
		ctx:    ctxlog.WithLogger(context.Background(), logger),
		config: cfg,
	}
}

// Config returns the configuration the App was built with.
func (a *App) Config() *config.Config {
	return a.config
}

// withLogger attaches the App's logger to ctx.
func (a *App) withLogger(ctx context.Context) context.Context {
	a.ctx = ctxlog.WithLogger(ctx, a.logger)
	return a.ctx
}

// newRunner wires the configured executor into a scheduler.
func (a *App) newRunner() (*scheduler.Runner, error) {
	exec, err := executor.New(a.config.Engine)
	if err != nil {
		return nil, fmt.Errorf("creating executor: %w", err)
	}
	e := a.config.Engine
	pool := scheduler.NewPool(e.MaxParallel, e.CPUs, e.MemoryMB)
	slots, cpus, mem := pool.Capacity()
	a.logger.Debug("Executor ready.", "backend", e.Executor, "slots", slots, "cpus", cpus, "memory_mb", mem)
	return scheduler.New(exec, pool), nil
}

// openJournal opens the configured journal file. The returned close
// function reports a write failure recorded by the journal.
func (a *App) openJournal() (*events.Journal, func() error, error) {
	path := a.config.Engine.Journal
	if path == "" {
		return nil, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating journal: %w", err)
	}
	a.logger.Info("Recording events.", "journal", path)
	j := events.NewJournal(f)
	return j, func() error {
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing journal: %w", err)
		}
		if err := j.Err(); err != nil {
			return fmt.Errorf("writing journal: %w", err)
		}
		return nil
	}, nil
}
