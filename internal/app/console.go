package app

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/vk/cmdgrid/internal/controller"
	"github.com/vk/cmdgrid/internal/events"
)

// console prints events as they arrive and keeps the tallies for the
// closing summary.
type console struct {
	mu      sync.Mutex
	w       io.Writer
	codes   *events.RetcodeTracker
	started int
	cached  int
}

func newConsole(w io.Writer) *console {
	return &console{w: w, codes: events.NewRetcodeTracker()}
}

// Send implements events.Sink.
func (c *console) Send(ev events.Event) {
	c.codes.Send(ev)

	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Kind {
	case events.KindStarted:
		c.started++
		fmt.Fprintf(c.w, "▶ %s\n", ev.Command)
	case events.KindStdout:
		fmt.Fprintf(c.w, "  %s | %s\n", ev.Command, ev.Line)
	case events.KindFinished:
		switch {
		case ev.Cached:
			c.cached++
			fmt.Fprintf(c.w, "✔ %s (cached)\n", ev.Command)
		case ev.Output.Passed():
			fmt.Fprintf(c.w, "✔ %s\n", ev.Command)
		case ev.Error != "":
			fmt.Fprintf(c.w, "✘ %s (exit %d: %s)\n", ev.Command, ev.Output.ExitCode, ev.Error)
		default:
			fmt.Fprintf(c.w, "✘ %s (exit %d)\n", ev.Command, ev.Output.ExitCode)
		}
	}
}

// failing returns the commands whose last exit code was non-zero, leaving
// out those whose rerun copy passed.
func (c *console) failing() []string {
	codes := c.codes.Snapshot()
	var out []string
	for name, code := range codes {
		if code == 0 {
			continue
		}
		if rerun, ok := codes[name+controller.RerunSuffix]; ok && rerun == 0 {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// summary prints the closing tally and returns a RunFailedError when any
// command failed or was blocked.
func (c *console) summary(blocked []string) error {
	codes := c.codes.Snapshot()
	failed := c.failing()

	c.mu.Lock()
	fmt.Fprintf(c.w, "\n%d finished, %d executed, %d cached, %d failed, %d blocked\n",
		len(codes), c.started, c.cached, len(failed), len(blocked))
	if len(failed) > 0 {
		fmt.Fprintf(c.w, "failed: %s\n", strings.Join(failed, ", "))
	}
	if len(blocked) > 0 {
		fmt.Fprintf(c.w, "blocked: %s\n", strings.Join(blocked, ", "))
	}
	c.mu.Unlock()

	if len(failed) > 0 || len(blocked) > 0 {
		return &RunFailedError{Failed: failed, Blocked: blocked}
	}
	return nil
}

// RunFailedError is returned when a run ends with failing or blocked
// commands.
type RunFailedError struct {
	Failed  []string
	Blocked []string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run failed: %d failed, %d blocked", len(e.Failed), len(e.Blocked))
}
