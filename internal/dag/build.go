package dag

import (
	"slices"

	"github.com/vk/cmdgrid/internal/command"
)

// Build validates cmds and returns their graph. Every dependency must name
// a command in cmds and the result must be acyclic.
func Build(cmds []*command.Command) (*Graph, error) {
	g := New()
	for _, cmd := range cmds {
		if err := g.AddNode(cmd); err != nil {
			return nil, err
		}
	}
	for _, cmd := range cmds {
		for _, dep := range cmd.Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &MissingDependencyError{Command: cmd.Name, Dependency: dep}
			}
			if dep == cmd.Name {
				return nil, &CycleError{Path: []string{dep, dep}}
			}
			if err := g.AddEdge(dep, cmd.Name); err != nil {
				return nil, err
			}
		}
	}
	if err := g.DetectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// Extend returns a new graph holding every command of g followed by extra.
func (g *Graph) Extend(extra ...*command.Command) (*Graph, error) {
	return Build(append(g.Commands(), extra...))
}

// Closure returns the requested names plus every transitive dependency,
// in insertion order.
func (g *Graph) Closure(names []string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[string]bool)
	var walk func(n *node)
	walk = func(n *node) {
		if seen[n.cmd.Name] {
			return
		}
		seen[n.cmd.Name] = true
		for _, dep := range n.deps {
			walk(dep)
		}
	}
	for _, name := range names {
		n, ok := g.nodes[name]
		if !ok {
			return nil, &UnknownCommandError{Name: name}
		}
		walk(n)
	}

	out := make([]string, 0, len(seen))
	for _, name := range g.order {
		if seen[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

// ByType returns the names of every command of type t, in insertion order.
func (g *Graph) ByType(t command.TargetType) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	var out []string
	for _, name := range g.order {
		if g.nodes[name].cmd.TargetType == t {
			out = append(out, name)
		}
	}
	return out
}

// TopoOrder returns names so that every command follows its dependencies,
// including ones reached through commands outside names. Ties keep
// insertion order.
func (g *Graph) TopoOrder(names []string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	in := make(map[string]bool, len(names))
	for _, name := range names {
		in[name] = true
	}
	done := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))

	var visit func(n *node)
	visit = func(n *node) {
		name := n.cmd.Name
		if done[name] {
			return
		}
		done[name] = true
		for _, dep := range sortedKeys(n.deps) {
			visit(n.deps[dep])
		}
		if in[name] {
			out = append(out, name)
		}
	}
	for _, name := range g.order {
		if n, ok := g.nodes[name]; ok && in[name] {
			visit(n)
		}
	}
	return slices.Clip(out)
}
