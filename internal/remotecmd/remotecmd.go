// Package remotecmd builds shell command text for POSIX remote hosts.
package remotecmd

import "strings"

// Quote wraps s in single quotes for a POSIX shell, escaping embedded single
// quotes with the '\'' sequence.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Sudo runs command through sudo, feeding password on stdin.
func Sudo(password, command string) string {
	return "echo " + Quote(password) + " | sudo -S " + command
}

// Reboot returns the command that reboots the host.
func Reboot(password string) string {
	return Sudo(password, "reboot")
}

// Shutdown returns the command that powers the host off immediately.
func Shutdown(password string) string {
	return Sudo(password, "shutdown now")
}

// PasswordRejected reports whether sudo output says the password was wrong.
func PasswordRejected(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "incorrect password") || strings.Contains(lower, "sorry")
}
