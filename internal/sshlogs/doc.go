// Package sshlogs streams log files from managed hosts by running tail over
// an SSH exec session.
//
// Streams share the host's registered connection; each stream holds one
// session until its context is canceled. Follow mode uses "tail -F", which
// follows the file by name, so rotation by logrotate does not end the
// stream.
//
// Only absolute paths without ".." segments are accepted. Named types
// ([LogTypeSystem], [LogTypeAuth] and so on) map to the usual Debian and
// Ubuntu locations; [AvailableLogFiles] reports which of them exist.
package sshlogs
