package statusstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/vk/cmdgrid/internal/command"
)

// State is the phase of a command within one run.
type State int

const (
	Unscheduled State = iota
	Scheduled
	Running
	Finished
	Blocked
)

func (s State) String() string {
	switch s {
	case Unscheduled:
		return "unscheduled"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Blocked:
		return "blocked"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Finished || s == Blocked
}

// Status is a snapshot of one command's runtime status.
type Status struct {
	State       State
	ScheduledAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Output      command.CommandOutput
	// Cached is set when the command finished without running.
	Cached bool
	// BlockedBy names the dependency that prevented the command from running.
	BlockedBy string
}

// TransitionError is returned for a transition the state machine forbids.
type TransitionError struct {
	Command string
	From    State
	To      State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal status transition for %q: %s -> %s", e.Command, e.From, e.To)
}

// entry guards one command's status. A per-key mutex keeps read-check-write
// transitions atomic without serialising unrelated commands.
type entry struct {
	mu     sync.Mutex
	status Status
}

// Store holds the statuses of one run.
type Store struct {
	entries sync.Map // Key: command name, Value: *entry
}

// New returns a store with every name Unscheduled.
func New(names []string) *Store {
	s := &Store{}
	for _, name := range names {
		s.entries.Store(name, &entry{})
	}
	return s
}

func (s *Store) entry(name string) *entry {
	e, _ := s.entries.LoadOrStore(name, &entry{})
	return e.(*entry)
}

// Get returns the status of name. Unknown names are Unscheduled.
func (s *Store) Get(name string) Status {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (s *Store) transition(name string, to State, allowed []State, apply func(st *Status)) error {
	e := s.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, from := range allowed {
		if e.status.State == from {
			apply(&e.status)
			e.status.State = to
			return nil
		}
	}
	return &TransitionError{Command: name, From: e.status.State, To: to}
}

// Schedule marks name as admitted for this run.
func (s *Store) Schedule(name string, at time.Time) error {
	return s.transition(name, Scheduled, []State{Unscheduled}, func(st *Status) {
		st.ScheduledAt = at
	})
}

// Start marks name as running.
func (s *Store) Start(name string, at time.Time) error {
	return s.transition(name, Running, []State{Scheduled}, func(st *Status) {
		st.StartedAt = at
	})
}

// Finish records the executed result of a running command.
func (s *Store) Finish(name string, at time.Time, out command.CommandOutput) error {
	return s.transition(name, Finished, []State{Running}, func(st *Status) {
		st.FinishedAt = at
		st.Output = out
	})
}

// FinishCached records a result that was reused instead of executed.
func (s *Store) FinishCached(name string, at time.Time, out command.CommandOutput) error {
	return s.transition(name, Finished, []State{Scheduled}, func(st *Status) {
		st.FinishedAt = at
		st.Output = out
		st.Cached = true
	})
}

// Block marks name as never going to run because dependency did not pass.
func (s *Store) Block(name, dependency string) error {
	return s.transition(name, Blocked, []State{Unscheduled, Scheduled}, func(st *Status) {
		st.BlockedBy = dependency
	})
}

// Snapshot copies every status.
func (s *Store) Snapshot() map[string]Status {
	out := make(map[string]Status)
	s.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		out[k.(string)] = e.status
		e.mu.Unlock()
		return true
	})
	return out
}

// Count returns how many commands are in each state.
func (s *Store) Count() map[State]int {
	out := make(map[State]int)
	for _, st := range s.Snapshot() {
		out[st.State]++
	}
	return out
}

// Done reports whether every command reached a terminal state.
func (s *Store) Done() bool {
	done := true
	s.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		terminal := e.status.State.Terminal()
		e.mu.Unlock()
		done = terminal
		return terminal
	})
	return done
}
