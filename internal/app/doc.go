// Package app contains the application logic behind every CLI command:
// running a graph in-process, serving the controller over socket.io,
// driving a remote server, printing definition digests and replaying
// journals. It is decoupled from flag parsing, which lives in package cli.
package app
