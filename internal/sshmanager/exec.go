package sshmanager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pandasdroid/vps-management/internal/logutil"
)

const slowCommandThreshold = 500 * time.Millisecond

// Execute runs command on key's host with the default command timeout.
func (m *SSHManager) Execute(ctx context.Context, key, command string) (string, error) {
	return m.ExecuteWithTimeout(ctx, key, command, m.opts.CommandTimeout)
}

// ExecuteWithTimeout runs command in a fresh session on key's command
// channel and returns stdout, or stderr when stdout is empty. A non-zero
// exit status is not an error. When timeout elapses the remote session is
// closed and ErrTimeout is returned without partial output.
func (m *SSHManager) ExecuteWithTimeout(ctx context.Context, key, command string, timeout time.Duration) (string, error) {
	s, err := m.live(key)
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = m.opts.CommandTimeout
	}

	start := time.Now()
	out, err := runCommand(ctx, s.client, command, timeout)
	if elapsed := time.Since(start); elapsed > slowCommandThreshold {
		log.Printf("[ssh] slow command on %s (%s): %s", logutil.SanitizeForLog(s.label), elapsed.Round(time.Millisecond), logutil.SanitizeForLog(logutil.Truncate(command, 80)))
	}
	return out, err
}

func runCommand(ctx context.Context, client *ssh.Client, command string, timeout time.Duration) (string, error) {
	sess, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("open exec session: %w: %v", ErrNotConnected, err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil && !isExitStatus(err) {
			return "", fmt.Errorf("run command: %w", err)
		}
	case <-timer.C:
		sess.Close()
		return "", fmt.Errorf("command exceeded %s: %w", timeout, ErrTimeout)
	case <-ctx.Done():
		sess.Close()
		return "", ctx.Err()
	}

	if stdout.Len() == 0 {
		return stderr.String(), nil
	}
	return stdout.String(), nil
}

func isExitStatus(err error) bool {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	return errors.As(err, &exitErr) || errors.As(err, &missing)
}
