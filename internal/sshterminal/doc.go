// Package sshterminal runs interactive PTY shells over an SSH connection.
//
// A [Shell] owns one SSH session with a pseudo-terminal. A single reader
// goroutine drains the remote output, decodes it as UTF-8 and hands text to
// the sink registered at start. Writes go straight to the PTY input and
// never touch reader state, so the sink may fire while a write is in
// progress.
package sshterminal
