package app

import (
	"context"
	"fmt"

	"github.com/vk/cmdgrid/internal/dag"
	"github.com/vk/cmdgrid/internal/graphfile"
)

// Digest prints the definition digest of each named command, or of every
// command in dependency order when names is empty, one "<digest>  <name>"
// line each.
func (a *App) Digest(ctx context.Context, paths, names []string) error {
	ctx = a.withLogger(ctx)

	cmds, err := graphfile.Load(ctx, paths...)
	if err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	g, err := dag.Build(cmds)
	if err != nil {
		return fmt.Errorf("invalid graph: %w", err)
	}

	if len(names) == 0 {
		names = g.TopoOrder(g.Names())
	}
	for _, name := range names {
		cmd, ok := g.Command(name)
		if !ok {
			return &dag.UnknownCommandError{Name: name}
		}
		fmt.Fprintf(a.outW, "%s  %s\n", cmd.DefDigest(), name)
	}
	return nil
}
