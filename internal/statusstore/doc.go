// Package statusstore tracks the runtime status of every command in one run.
//
// Each command moves through
//
//	Unscheduled -> Scheduled -> Running -> Finished
//
// and never back. A command whose dependency failed moves from Unscheduled
// or Scheduled to Blocked instead, which is also terminal. A cache hit goes
// from Scheduled straight to Finished without passing through Running.
//
// The store keeps one entry per command in a sync.Map: entries are written
// by the goroutine that runs the command and read by the scheduler and by
// observers, and keys never change after the run starts.
package statusstore
