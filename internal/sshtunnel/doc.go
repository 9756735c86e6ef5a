// Package sshtunnel forwards a local TCP port to a port on the remote host
// through an SSH connection (the equivalent of ssh -L 127.0.0.1:P:127.0.0.1:R).
package sshtunnel
