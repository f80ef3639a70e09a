package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/controller"
	"github.com/vk/cmdgrid/internal/ctxlog"
	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/graphfile"
	"github.com/vk/cmdgrid/internal/scheduler"
)

// RunOptions selects what Run executes. Names wins over TargetType; with
// neither, every command in the graph runs.
type RunOptions struct {
	GraphPaths []string
	Names      []string
	TargetType string
	// Rerun reruns failing tests once more after the run.
	Rerun bool
}

// Run loads the graph files and executes the selection in-process.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx = a.withLogger(ctx)
	a.logger.Debug("App.Run method started.")

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	intent, cmds, err := a.prepareRun(ctx, opts)
	if err != nil {
		return err
	}

	runner, err := a.newRunner()
	if err != nil {
		return err
	}
	journal, closeJournal, err := a.openJournal()
	if err != nil {
		return err
	}

	h := controller.Spawn(ctx, controller.Deps{
		Runner:  runner,
		Root:    a.config.Engine.OutRoot,
		Journal: journal,
	})

	con := newConsole(a.outW)
	blocked, runErr := a.runWith(ctx, h, cmds, intent, opts.Rerun, con)
	h.Close()
	if err := closeJournal(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}

	a.logger.Info("🏁 Execution finished.")
	return con.summary(blocked)
}

// prepareRun loads the graph and turns opts into an intent.
func (a *App) prepareRun(ctx context.Context, opts RunOptions) (controller.Intent, []*command.Command, error) {
	if len(opts.GraphPaths) == 0 {
		return nil, nil, errors.New("no graph files given")
	}
	cmds, err := graphfile.Load(ctx, opts.GraphPaths...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load graph: %w", err)
	}
	if len(cmds) == 0 {
		return nil, nil, errors.New("no commands found in graph files")
	}

	switch {
	case len(opts.Names) > 0:
		return controller.RunMany{Names: opts.Names}, cmds, nil
	case opts.TargetType != "":
		tt, err := command.ParseTargetType(opts.TargetType)
		if err != nil {
			return nil, nil, err
		}
		return controller.RunType{TargetType: tt}, cmds, nil
	}
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	return controller.RunMany{Names: names}, cmds, nil
}

// runWith loads cmds into h, runs intent and optionally reruns failures.
// It returns the names blocked in the last run.
func (a *App) runWith(ctx context.Context, h *controller.Handle, cmds []*command.Command, intent controller.Intent, rerun bool, con *console) ([]string, error) {
	load, err := h.SetCommands(cmds)
	if err != nil {
		return nil, err
	}
	if err := load.Ack(ctx); err != nil {
		return nil, err
	}

	a.logger.Info("🚀 Starting execution...", "intent", intent.String())
	res, err := follow(ctx, h, intent, con)
	if err != nil {
		return nil, err
	}
	blocked := res.BlockedNames()

	if rerun && len(con.failing()) > 0 {
		a.logger.Info("Rerunning failed tests...")
		rres, err := follow(ctx, h, controller.RerunFailed{}, con)
		if err != nil {
			return nil, err
		}
		blocked = slices.Concat(blocked, rres.BlockedNames())
	}
	return blocked, nil
}

// follow submits intent and prints its events until the stream closes.
func follow(ctx context.Context, h *controller.Handle, intent controller.Intent, sink events.Sink) (*scheduler.Result, error) {
	b, err := h.Submit(intent)
	if err != nil {
		return nil, err
	}
	if err := b.Ack(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", intent, err)
	}
	if err := pipe(ctx, b.Events, sink); err != nil {
		return nil, err
	}

	res := b.Result()
	if res == nil {
		// acknowledged without running anything
		res = &scheduler.Result{}
	}
	ctxlog.FromContext(ctx).Debug("Run complete.", "trace_id", res.TraceID, "blocked", len(res.Blocked))
	return res, nil
}
