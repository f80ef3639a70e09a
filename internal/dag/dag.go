package dag

import (
	"fmt"
	"slices"

	"github.com/vk/cmdgrid/internal/command"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds cmd to the graph. Empty and duplicate names are rejected.
func (g *Graph) AddNode(cmd *command.Command) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if cmd.Name == "" {
		return &DuplicateCommandError{}
	}
	if _, ok := g.nodes[cmd.Name]; ok {
		return &DuplicateCommandError{Name: cmd.Name}
	}

	g.nodes[cmd.Name] = &node{
		cmd:        cmd,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.order = append(g.order, cmd.Name)
	return nil
}

// AddEdge records that toID depends on fromID.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return &MissingDependencyError{Command: toID, Dependency: fromID}
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return &UnknownCommandError{Name: toID}
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Command returns the command registered under name.
func (g *Graph) Command(name string) (*command.Command, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[name]
	if !ok {
		return nil, false
	}
	return n.cmd, true
}

// Commands returns every command in insertion order.
func (g *Graph) Commands() []*command.Command {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	out := make([]*command.Command, len(g.order))
	for i, name := range g.order {
		out[i] = g.nodes[name].cmd
	}
	return out
}

// Names returns every command name in insertion order.
func (g *Graph) Names() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return slices.Clone(g.order)
}

// Len returns the number of commands.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the sorted names the given command depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, &UnknownCommandError{Name: id}
	}
	return sortedKeys(n.deps), nil
}

// Dependents returns the sorted names that depend on the given command.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, &UnknownCommandError{Name: id}
	}
	return sortedKeys(n.dependents), nil
}

// DetectCycles checks the graph for cycles and returns a *CycleError naming
// the path of the first one found.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search with three colours:
	// permanent: fully visited and not part of a cycle.
	// temporary: on the current recursion stack.
	// unvisited: everything else.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)
	var stack []string

	var visit func(n *node) error
	visit = func(n *node) error {
		name := n.cmd.Name
		if permanent[name] {
			return nil
		}
		if temporary[name] {
			start := slices.Index(stack, name)
			path := append(slices.Clone(stack[start:]), name)
			return &CycleError{Path: path}
		}

		temporary[name] = true
		stack = append(stack, name)

		for _, dependent := range sortedKeys(n.dependents) {
			if err := visit(n.dependents[dependent]); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		delete(temporary, name)
		permanent[name] = true
		return nil
	}

	for _, name := range g.order {
		if err := visit(g.nodes[name]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
