// Package controller serves client intents against a single active graph.
//
// Spawn starts one goroutine that owns the graph. Submit hands it an intent
// and returns a Bundle at once: the acknowledgement and the event stream of
// the bundle are filled in asynchronously. Loading a graph is serialised
// with everything else; runs are started from the controller goroutine and
// proceed concurrently.
package controller
