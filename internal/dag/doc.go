// Package dag holds the validated dependency graph of a command set.
//
// A Graph is built once per loaded definition with Build, which rejects
// duplicate names, dependencies that do not resolve, self references and
// cycles. The scheduler only reads from it.
package dag
