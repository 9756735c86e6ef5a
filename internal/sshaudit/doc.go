// Package sshaudit persists session events to the audit_logs table.
//
// An [Auditor] subscribes to the session registry with [Auditor.Attach] and
// stores connects, failed connects, disconnects, health check failures,
// shell and tunnel starts and stops, API-issued commands and file
// operations. A failed connect caused by a changed host key is also stored
// as [EventFingerprintMismatch].
//
// # Retention
//
// Entries older than the retention period (90 days by default) are removed
// by [Auditor.PurgeOlderThan], which the server runs once a day.
package sshaudit
