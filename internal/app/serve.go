package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vk/cmdgrid/internal/controller"
	"github.com/vk/cmdgrid/internal/ctxlog"
	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/graphfile"
	"github.com/vk/cmdgrid/internal/sioserver"
)

// ServeOptions tune Serve.
type ServeOptions struct {
	// GraphPaths, when set, are loaded before the first client connects.
	GraphPaths []string
	// Ready is called with the bound address once the server listens.
	Ready func(addr string)
}

// Serve runs the socket.io controller server until ctx ends.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	ctx = a.withLogger(ctx)
	logger := a.logger

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	runner, err := a.newRunner()
	if err != nil {
		return err
	}
	journal, closeJournal, err := a.openJournal()
	if err != nil {
		return err
	}
	defer func() {
		if err := closeJournal(); err != nil {
			logger.Error("Journal incomplete.", "error", err)
		}
	}()

	broker := events.NewBroker()
	h := controller.Spawn(ctx, controller.Deps{
		Runner:  runner,
		Root:    a.config.Engine.OutRoot,
		Broker:  broker,
		Journal: journal,
	})
	defer h.Close()

	if len(opts.GraphPaths) > 0 {
		if err := a.preload(ctx, h, opts.GraphPaths); err != nil {
			return err
		}
	}

	ln, err := net.Listen("tcp", a.config.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.config.Server.Listen, err)
	}

	sio := sioserver.New(ctx, h)
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", sio.Handler())
	mux.HandleFunc("/health", a.healthHandler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	monitor := broker.Subscribe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("📡 Controller server listening", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down controller server...", "subscribers", broker.Subscribers())
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		sio.Close()
		err := srv.Shutdown(shutdownCtx)
		broker.Close()
		return err
	})

	g.Go(func() error {
		defer broker.Unsubscribe(monitor)
		for {
			ev, err := monitor.Next(gctx)
			if err != nil {
				return nil
			}
			logger.Debug("Event.", "kind", ev.Kind, "command", ev.Command, "trace_id", ev.TraceID)
			if ev.IsFinished() {
				logger.Info("Command finished.", "command", ev.Command, "exit_code", ev.Output.ExitCode, "cached", ev.Cached)
			}
		}
	})

	if opts.Ready != nil {
		opts.Ready(ln.Addr().String())
	}
	return g.Wait()
}

func (a *App) preload(ctx context.Context, h *controller.Handle, paths []string) error {
	cmds, err := graphfile.Load(ctx, paths...)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	b, err := h.SetCommands(cmds)
	if err != nil {
		return err
	}
	if err := b.Ack(ctx); err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Graph preloaded.", "commands", len(cmds))
	return nil
}
