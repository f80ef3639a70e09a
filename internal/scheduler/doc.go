// Package scheduler drives a validated command graph to completion.
//
// # How It Works
//
// Run takes the requested commands plus their transitive dependencies and
// starts one goroutine per command whose dependencies have all finished
// with a passing result. Each goroutine:
//
//  1. Looks for a passing result from an earlier execution of the same
//     definition digest, first in memory and then in command.status on
//     disk. A hit finishes the command without running it.
//  2. Joins or starts the single in-flight execution for that digest, so two
//     runs asking for the same command never execute it twice at once.
//  3. Waits for room in the resource Pool, then hands the command to the
//     Executor.
//
// When a command finishes with a failing exit code, every command that
// depends on it, directly or not, is marked Blocked and never runs.
// Commands in unrelated subtrees keep going. The run ends when every
// command in scope is Finished or Blocked.
//
// # Thread-Safety
//
// A Runner may serve any number of concurrent Run calls; the digest
// deduplication is shared between them.
package scheduler
