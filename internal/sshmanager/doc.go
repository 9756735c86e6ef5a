// Package sshmanager is the session registry for remote hosts.
//
// [SSHManager] maps a host key to one live session. Each session owns:
//   - a command channel ([golang.org/x/crypto/ssh.Client]) used for exec
//     requests and as the parent of the shell;
//   - a transfer channel ([github.com/pkg/sftp.Client]) multiplexed over the
//     same authenticated connection;
//   - optionally an interactive PTY shell (see package sshterminal);
//   - optionally a code-server tunnel with its own connection.
//
// # Connection Lifecycle
//
//  1. Connect: [SSHManager.Connect] builds the client config from a
//     [HostRecord] with [BuildConnectionInfo], dials, opens the transfer
//     channel and probes the connection. A session already registered for
//     the key is disconnected first. On any failure nothing is registered.
//
//  2. Health Monitoring: a background loop sends a keepalive request every
//     30 seconds and disconnects sessions that stop answering.
//     [SSHManager.IsConnected] performs the same probe on demand.
//
//  3. Disconnect: [SSHManager.Disconnect] releases shell, transfer, command
//     and tunnel handles in that order. Every step runs even if an earlier
//     one fails, and failures are only logged.
//
// # Concurrency
//
// The key to session map is guarded by an RWMutex and never held across
// network calls. Lifecycle operations (connect, disconnect, shell and
// tunnel start/stop) on the same key are serialized by a per-key mutex, so
// two racing Connect calls cannot leak a session. Different keys never
// block each other.
//
// # Rate Limiting
//
// Connect attempts are limited per key to 10 per minute, and a key is
// blocked for 5 minutes after 5 consecutive failures. Use
// [SSHManager.ResetRateLimit] after fixing credentials.
//
// # State and Events
//
// Each key has a [ConnectionState] with a bounded transition history, and a
// ring buffer of the last 100 [ConnectionEvent] values. Listeners registered
// with [SSHManager.OnEvent] see every event; the audit log subscribes here.
//
// # Errors
//
// Operations report [ErrNotConnected] when the key has no session or its
// connection is gone, [ErrAuthFailure] when credentials are rejected,
// [ErrTimeout] when a connect or command runs out of time and
// [ErrHostKeyMismatch] when the server key differs from the pinned one.
package sshmanager
