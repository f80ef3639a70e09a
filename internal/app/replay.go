package app

import (
	"context"
	"fmt"
	"os"

	"github.com/vk/cmdgrid/internal/events"
)

// Replay prints the events recorded in a journal file as if they were
// arriving live, followed by the usual summary.
func (a *App) Replay(ctx context.Context, path string) error {
	a.withLogger(ctx)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	evs, err := events.ReadJournal(f)
	if err != nil {
		return err
	}
	a.logger.Debug("Journal read.", "file", path, "events", len(evs))

	con := newConsole(a.outW)
	for _, ev := range evs {
		con.Send(ev)
	}
	return con.summary(nil)
}
