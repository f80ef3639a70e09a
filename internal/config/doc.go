// Package config defines the engine configuration: where command working
// directories live, how many commands may run at once, which executor
// backend runs them, and how the server and logger are set up.
//
// Configuration is read from a TOML file and then overridden by CLI flags.
// Every field has a default, so an empty or missing file is valid.
package config
