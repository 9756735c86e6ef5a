package sshmanager

import (
	"context"
	"log"

	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/sshterminal"
)

// StartShell opens an interactive PTY shell on key's connection and streams
// its decoded output to onData from a single goroutine. A shell already
// running for key is stopped first.
func (m *SSHManager) StartShell(ctx context.Context, key string, onData func(string)) error {
	return m.StartShellWithOptions(ctx, key, sshterminal.DefaultShellOptions(), onData)
}

// StartShellWithOptions is StartShell with explicit terminal geometry.
func (m *SSHManager) StartShellWithOptions(ctx context.Context, key string, opts sshterminal.ShellOptions, onData func(string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := m.lockKey(key)
	defer unlock()

	s, err := m.live(key)
	if err != nil {
		return err
	}

	m.stopShell(s)

	shell, err := sshterminal.StartShell(s.client, opts, onData)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.shell = shell
	s.mu.Unlock()

	m.emit(key, EventShellStarted, "")
	log.Printf("[shell] started for %s", logutil.SanitizeForLog(s.label))
	return nil
}

// WriteToShell sends raw text to key's shell. It does nothing when no shell
// is running.
func (m *SSHManager) WriteToShell(key, text string) error {
	s := m.get(key)
	if s == nil {
		return nil
	}
	shell := s.currentShell()
	if shell == nil {
		return nil
	}
	return shell.Write(text)
}

// ResizeShell changes the PTY size of key's shell.
func (m *SSHManager) ResizeShell(key string, cols, rows int) error {
	if err := sshterminal.ValidateSize(cols, rows); err != nil {
		return err
	}
	s := m.get(key)
	if s == nil {
		return ErrNotConnected
	}
	shell := s.currentShell()
	if shell == nil {
		return nil
	}
	return shell.Resize(cols, rows)
}

// ShellDone returns a channel closed when key's current shell ends.
func (m *SSHManager) ShellDone(key string) (<-chan struct{}, bool) {
	s := m.get(key)
	if s == nil {
		return nil, false
	}
	shell := s.currentShell()
	if shell == nil {
		return nil, false
	}
	return shell.Done(), true
}

// StopShell closes key's shell. It is safe to call when none is running.
func (m *SSHManager) StopShell(key string) {
	unlock := m.lockKey(key)
	defer unlock()
	if s := m.get(key); s != nil {
		m.stopShell(s)
	}
}

func (m *SSHManager) stopShell(s *session) {
	s.mu.Lock()
	shell := s.shell
	s.shell = nil
	s.mu.Unlock()
	if shell == nil {
		return
	}

	r := release("shell", shell.Close)
	if r.Err != nil {
		log.Printf("[shell] close for %s: %v", logutil.SanitizeForLog(s.label), r.Err)
	}
	m.emit(s.key, EventShellStopped, "")
	log.Printf("[shell] stopped for %s", logutil.SanitizeForLog(s.label))
}
