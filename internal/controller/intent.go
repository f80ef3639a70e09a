package controller

import (
	"fmt"

	"github.com/vk/cmdgrid/internal/command"
	"github.com/vk/cmdgrid/internal/graphfile"
)

// Intent is one request to the controller.
type Intent interface {
	fmt.Stringer
	intent()
}

// LoadGraph replaces the active graph with the commands defined in Text.
type LoadGraph struct {
	Text   string
	Format graphfile.Format
}

// LoadCommands replaces the active graph with commands parsed elsewhere,
// e.g. from graph files on disk.
type LoadCommands struct {
	Commands []*command.Command
}

// RunType runs every command of a target type.
type RunType struct {
	TargetType command.TargetType
}

// RunOne runs a single command and its dependencies.
type RunOne struct {
	Name string
}

// RunMany runs the named commands and their dependencies.
type RunMany struct {
	Names []string
}

// RerunFailed reruns each failing test command as a copy named <name>_rerun.
type RerunFailed struct{}

func (LoadGraph) intent()    {}
func (LoadCommands) intent() {}
func (RunType) intent()      {}
func (RunOne) intent()       {}
func (RunMany) intent()      {}
func (RerunFailed) intent()  {}

func (i LoadGraph) String() string    { return fmt.Sprintf("load_graph(%d bytes)", len(i.Text)) }
func (i LoadCommands) String() string { return fmt.Sprintf("load_commands(%d)", len(i.Commands)) }
func (i RunType) String() string      { return fmt.Sprintf("run_all(%s)", i.TargetType) }
func (i RunOne) String() string       { return fmt.Sprintf("run_one(%s)", i.Name) }
func (i RunMany) String() string      { return fmt.Sprintf("run_many(%d)", len(i.Names)) }
func (i RerunFailed) String() string  { return "rerun" }
