package scheduler

import (
	"slices"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/statusstore"
)

// Result summarises one Run.
type Result struct {
	TraceID string
	// Scope lists every command the run covered, dependencies included.
	Scope []string
	// Outputs holds the result of every Finished command.
	Outputs map[string]command.CommandOutput
	// Cached lists commands that finished without executing.
	Cached []string
	// Blocked maps a command that never ran to the reason it did not.
	Blocked map[string]string
	// Errors maps a command to the executor failure that ended it.
	Errors map[string]string
	// Statuses is the final status of every command in scope.
	Statuses map[string]statusstore.Status
}

func newResult(traceID string, scope []string) *Result {
	return &Result{
		TraceID: traceID,
		Scope:   scope,
		Outputs: make(map[string]command.CommandOutput),
		Blocked: make(map[string]string),
		Errors:  make(map[string]string),
	}
}

// Passed reports whether every command in scope finished with exit code 0.
func (r *Result) Passed() bool {
	if len(r.Blocked) > 0 {
		return false
	}
	for _, out := range r.Outputs {
		if !out.Passed() {
			return false
		}
	}
	return true
}

// Failed returns the sorted names that finished with a non-zero exit code.
func (r *Result) Failed() []string {
	var out []string
	for name, o := range r.Outputs {
		if !o.Passed() {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// BlockedNames returns the sorted names that never ran.
func (r *Result) BlockedNames() []string {
	out := make([]string, 0, len(r.Blocked))
	for name := range r.Blocked {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
