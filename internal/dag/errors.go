package dag

import (
	"fmt"
	"strings"
)

// DuplicateCommandError is returned when two commands share a name.
type DuplicateCommandError struct {
	Name string
}

func (e *DuplicateCommandError) Error() string {
	if e.Name == "" {
		return "command with empty name"
	}
	return fmt.Sprintf("duplicate command name %q", e.Name)
}

// MissingDependencyError is returned when a dependency names a command that
// is not part of the graph.
type MissingDependencyError struct {
	Command    string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("command %q depends on %q, which is not defined", e.Command, e.Dependency)
}

// UnknownCommandError is returned when a caller asks for a name the graph
// does not contain.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("command not found: %s", e.Name)
}

// CycleError reports the dependency path that closes a cycle.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}
