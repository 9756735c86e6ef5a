// Package sshkeys parses private key material and decides whether a remote
// host key is trusted.
//
// Host keys are verified either against a known_hosts file or, when none is
// configured, by trust on first use: the first fingerprint seen for a host is
// reported to the caller to be stored with the host profile, and later
// connections must present the same key.
package sshkeys
