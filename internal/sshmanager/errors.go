package sshmanager

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pandasdroid/vps-management/internal/sshkeys"
)

var (
	// ErrNotConnected is returned when an operation targets a key with no
	// session, or whose connection has dropped.
	ErrNotConnected = errors.New("not connected")

	// ErrAuthFailure is returned when the server rejects the credentials or
	// the key material cannot be used.
	ErrAuthFailure = errors.New("authentication failed")

	// ErrTimeout is returned when a connect or command exceeds its budget.
	ErrTimeout = errors.New("timed out")

	// ErrHostKeyMismatch is returned when the server presents a host key
	// that does not match the recorded fingerprint.
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// classifyConnectError maps dial and handshake failures onto the sentinel
// errors while keeping the original message.
func classifyConnectError(addr string, err error) error {
	var mismatch *sshkeys.FingerprintMismatchError
	if errors.As(err, &mismatch) {
		return fmt.Errorf("connect to %s: %w: %v", addr, ErrHostKeyMismatch, err)
	}

	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) || strings.Contains(err.Error(), "i/o timeout") {
		return fmt.Errorf("connect to %s: %w: %v", addr, ErrTimeout, err)
	}

	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return fmt.Errorf("connect to %s: %w: %v", addr, ErrAuthFailure, err)
	}
	return fmt.Errorf("connect to %s: %w", addr, err)
}
