package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/cmdgrid/internal/command"
)

func cmd(name string, deps ...string) *command.Command {
	return &command.Command{Name: name, TargetType: command.Build, Script: []string{"true"}, Dependencies: deps}
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.NotNil(t, g.nodes)
	assert.Empty(t, g.nodes)
}

func TestAddNode(t *testing.T) {
	g := New()

	require.NoError(t, g.AddNode(cmd("a")))
	assert.Len(t, g.nodes, 1)
	nodeA, ok := g.nodes["a"]
	require.True(t, ok)
	assert.Equal(t, "a", nodeA.cmd.Name)
	assert.NotNil(t, nodeA.deps)
	assert.NotNil(t, nodeA.dependents)

	var dup *DuplicateCommandError
	assert.ErrorAs(t, g.AddNode(cmd("a")), &dup)
	assert.Len(t, g.nodes, 1)

	assert.ErrorAs(t, g.AddNode(cmd("")), &dup)
	assert.ErrorContains(t, dup, "empty name")
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddNode(cmd("a")))
		require.NoError(t, g.AddNode(cmd("b")))

		require.NoError(t, g.AddEdge("a", "b")) // b depends on a

		deps, err := g.Dependencies("b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, deps)
		dependents, err := g.Dependents("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, dependents)
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		require.NoError(t, g.AddNode(cmd("a")))

		var missing *MissingDependencyError
		assert.ErrorAs(t, g.AddEdge("dne", "a"), &missing)

		var unknown *UnknownCommandError
		assert.ErrorAs(t, g.AddEdge("a", "dne"), &unknown)

		assert.ErrorContains(t, g.AddEdge("a", "a"), "self-referential edge")

		_, err := g.Dependencies("dne")
		assert.ErrorAs(t, err, &unknown)
		_, err = g.Dependents("dne")
		assert.ErrorAs(t, err, &unknown)
	})
}

func TestDetectCycles(t *testing.T) {
	build := func(t *testing.T, names []string, edges [][2]string) *Graph {
		t.Helper()
		g := New()
		for _, n := range names {
			require.NoError(t, g.AddNode(cmd(n)))
		}
		for _, e := range edges {
			require.NoError(t, g.AddEdge(e[0], e[1]))
		}
		return g
	}

	t.Run("empty graph has no cycles", func(t *testing.T) {
		assert.NoError(t, New().DetectCycles())
	})

	t.Run("valid dag has no cycles", func(t *testing.T) {
		g := build(t, []string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"b", "c"}, {"a", "c"}, {"c", "d"}})
		assert.NoError(t, g.DetectCycles())
	})

	t.Run("longer cycle is detected with its path", func(t *testing.T) {
		g := build(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}})
		var cycle *CycleError
		require.ErrorAs(t, g.DetectCycles(), &cycle)
		assert.Equal(t, []string{"a", "b", "c", "a"}, cycle.Path)
		assert.ErrorContains(t, cycle, "cycle detected: a -> b -> c -> a")
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := build(t, []string{"a", "b", "x", "y", "z"}, [][2]string{{"a", "b"}, {"x", "y"}, {"y", "z"}, {"z", "y"}})
		var cycle *CycleError
		require.ErrorAs(t, g.DetectCycles(), &cycle)
		assert.Equal(t, []string{"y", "z", "y"}, cycle.Path)
	})
}

func TestBuild(t *testing.T) {
	t.Run("valid graph", func(t *testing.T) {
		g, err := Build([]*command.Command{cmd("a"), cmd("b", "a"), cmd("c", "a", "b")})
		require.NoError(t, err)
		assert.Equal(t, 3, g.Len())
		assert.Equal(t, []string{"a", "b", "c"}, g.Names())
		c, ok := g.Command("c")
		require.True(t, ok)
		assert.Equal(t, []string{"a", "b"}, c.Dependencies)
	})

	t.Run("dependency declared before its target", func(t *testing.T) {
		_, err := Build([]*command.Command{cmd("b", "a"), cmd("a")})
		assert.NoError(t, err)
	})

	t.Run("missing dependency", func(t *testing.T) {
		_, err := Build([]*command.Command{cmd("a"), cmd("b", "ghost")})
		var missing *MissingDependencyError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "b", missing.Command)
		assert.Equal(t, "ghost", missing.Dependency)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := Build([]*command.Command{cmd("a"), cmd("a")})
		var dup *DuplicateCommandError
		assert.ErrorAs(t, err, &dup)
	})

	t.Run("self dependency", func(t *testing.T) {
		_, err := Build([]*command.Command{cmd("a", "a")})
		var cycle *CycleError
		assert.ErrorAs(t, err, &cycle)
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := Build([]*command.Command{cmd("a", "b"), cmd("b", "a")})
		var cycle *CycleError
		assert.ErrorAs(t, err, &cycle)
	})
}

func TestClosure(t *testing.T) {
	g, err := Build([]*command.Command{cmd("a"), cmd("b", "a"), cmd("c"), cmd("d", "b", "c"), cmd("e")})
	require.NoError(t, err)

	got, err := g.Closure([]string{"d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)

	got, err = g.Closure([]string{"b", "e"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "e"}, got)

	_, err = g.Closure([]string{"zzz"})
	var unknown *UnknownCommandError
	assert.ErrorAs(t, err, &unknown)
}

func TestByTypeAndTopoOrder(t *testing.T) {
	test := cmd("t1", "b")
	test.TargetType = command.Test
	g, err := Build([]*command.Command{test, cmd("b", "a"), cmd("a")})
	require.NoError(t, err)

	assert.Equal(t, []string{"t1"}, g.ByType(command.Test))
	assert.Equal(t, []string{"b", "a"}, g.ByType(command.Build))
	assert.Empty(t, g.ByType(command.Stimulus))

	assert.Equal(t, []string{"a", "b", "t1"}, g.TopoOrder(g.Names()))
	assert.Equal(t, []string{"a", "t1"}, g.TopoOrder([]string{"t1", "a"}))
}

func TestExtend(t *testing.T) {
	g, err := Build([]*command.Command{cmd("a")})
	require.NoError(t, err)

	g2, err := g.Extend(cmd("a_rerun", "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a_rerun"}, g2.Names())
	assert.Equal(t, 1, g.Len(), "original graph is untouched")

	_, err = g.Extend(cmd("a"))
	assert.Error(t, err)
}
