package events

import (
	"maps"
	"slices"
	"sync"
)

// RetcodeTracker remembers the last exit code seen for each command.
type RetcodeTracker struct {
	mu    sync.Mutex
	codes map[string]int
}

func NewRetcodeTracker() *RetcodeTracker {
	return &RetcodeTracker{codes: make(map[string]int)}
}

// Send records finished events and ignores everything else.
func (t *RetcodeTracker) Send(e Event) {
	if !e.IsFinished() {
		return
	}
	t.mu.Lock()
	t.codes[e.Command] = e.Output.ExitCode
	t.mu.Unlock()
}

// Get returns the last exit code of name.
func (t *RetcodeTracker) Get(name string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	code, ok := t.codes[name]
	return code, ok
}

// Failing returns the sorted names whose last exit code was non-zero.
func (t *RetcodeTracker) Failing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for name, code := range t.codes {
		if code != 0 {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Snapshot copies the tracked codes.
func (t *RetcodeTracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.codes)
}

// Reset forgets every recorded code.
func (t *RetcodeTracker) Reset() {
	t.mu.Lock()
	clear(t.codes)
	t.mu.Unlock()
}
