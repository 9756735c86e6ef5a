// Package codeserver starts, or reuses, a code-server instance on a remote
// host so it can be reached through a local port forward.
//
// The port is a pure function of the host address ([PortForHost]). Opening
// the editor for the same host twice therefore targets the same remote port,
// finds the instance left running by the first open and reuses it, keeping
// the editor's session state across reconnects. The remote process is never
// stopped by this package.
//
// Bootstrap steps, in order:
//
//  1. discover the code-server binary among fixed install paths, then PATH
//  2. create the persistent data and extension directories and write default
//     settings only when no settings file exists
//  3. probe the port; a 200, 302 or 304 answer means the instance is reused
//  4. otherwise kill whatever code-server holds that port, launch a detached
//     instance logging to /tmp/code-server-<port>.log, and poll until it is
//     alive and answering
package codeserver
