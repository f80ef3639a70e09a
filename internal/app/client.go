package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/vk/cmdgrid/internal/events"
	"github.com/vk/cmdgrid/internal/graphfile"
	"github.com/vk/cmdgrid/internal/sioclient"
)

// ClientOptions select what Client asks a remote server to do.
type ClientOptions struct {
	URL string
	// GraphPath, when set, is sent to the server before running.
	GraphPath  string
	Names      []string
	TargetType string
	Rerun      bool
	Insecure   bool
}

// Client drives a remote controller server and prints the events it
// streams back.
func (a *App) Client(ctx context.Context, opts ClientOptions) error {
	ctx = a.withLogger(ctx)

	c, err := sioclient.Dial(ctx, opts.URL, sioclient.Options{InsecureSkipVerify: opts.Insecure})
	if err != nil {
		return err
	}
	defer c.Close()

	if opts.GraphPath != "" {
		text, err := os.ReadFile(opts.GraphPath)
		if err != nil {
			return fmt.Errorf("reading graph file: %w", err)
		}
		if err := c.LoadGraph(ctx, string(text), string(graphfile.FormatFor(opts.GraphPath))); err != nil {
			return err
		}
		a.logger.Info("Graph sent.", "file", opts.GraphPath)
	}

	var stream *events.Stream
	switch {
	case len(opts.Names) == 1:
		stream, err = c.RunOne(ctx, opts.Names[0])
	case len(opts.Names) > 1:
		stream, err = c.RunMany(ctx, opts.Names...)
	case opts.TargetType != "":
		stream, err = c.RunAll(ctx, opts.TargetType)
	default:
		return errors.New("nothing to run: give command names or a target type")
	}
	if err != nil {
		return err
	}

	con := newConsole(a.outW)
	if err := pipe(ctx, stream, con); err != nil {
		return err
	}
	if opts.Rerun && len(con.failing()) > 0 {
		if stream, err = c.Rerun(ctx); err != nil {
			return err
		}
		if err := pipe(ctx, stream, con); err != nil {
			return err
		}
	}
	return con.summary(nil)
}

func pipe(ctx context.Context, s *events.Stream, sink events.Sink) error {
	for {
		ev, err := s.Next(ctx)
		if errors.Is(err, events.ErrStreamClosed) {
			return nil
		}
		if err != nil {
			s.Abandon()
			return err
		}
		sink.Send(ev)
	}
}
