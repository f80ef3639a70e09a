package dag

import (
	"sync"

	"github.com/vk/cmdgrid/internal/command"
)

// Graph is a collection of commands and the edges between them.
// All operations on the graph are concurrency-safe.
type Graph struct {
	// mutex protects nodes and order during concurrent access.
	mutex sync.RWMutex
	// nodes stores all nodes in the graph, keyed by command name.
	nodes map[string]*node
	// order keeps names in insertion order so listings are stable.
	order []string
}

// node is a single vertex in the graph.
type node struct {
	cmd *command.Command
	// deps holds the nodes this node depends on (predecessors).
	deps map[string]*node
	// dependents holds the nodes that depend on this node (successors).
	dependents map[string]*node
}
