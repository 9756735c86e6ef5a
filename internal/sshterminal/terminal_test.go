package sshterminal

import (
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pandasdroid/vps-management/internal/sshtest"
)

func newTestClient(t *testing.T) (*ssh.Client, *sshtest.Server) {
	t.Helper()
	srv := sshtest.Start(t, sshtest.Options{Password: "pw"})
	client, err := ssh.Dial("tcp", srv.Addr, &ssh.ClientConfig{
		User:            "root",
		Auth:            []ssh.AuthMethod{ssh.Password("pw")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, srv
}

type sink struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (s *sink) write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteString(text)
}

func (s *sink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartShellRequestsPTY(t *testing.T) {
	client, srv := newTestClient(t)
	var out sink
	shell, err := StartShell(client, DefaultShellOptions(), out.write)
	if err != nil {
		t.Fatalf("StartShell: %v", err)
	}
	defer shell.Close()

	pty := srv.PTY()
	if pty.Term != "xterm-256color" || pty.Cols != 120 || pty.Rows != 30 {
		t.Errorf("pty = %+v, want xterm-256color 120x30", pty)
	}
	if srv.Shells() != 1 {
		t.Errorf("shells = %d, want 1", srv.Shells())
	}
}

func TestShellWriteEchoes(t *testing.T) {
	client, _ := newTestClient(t)
	var out sink
	shell, err := StartShell(client, ShellOptions{}, out.write)
	if err != nil {
		t.Fatalf("StartShell: %v", err)
	}
	defer shell.Close()

	if err := shell.Write("echo hi\n"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	waitFor(t, func() bool { return strings.Contains(out.String(), "hi") })
}

func TestShellResize(t *testing.T) {
	client, srv := newTestClient(t)
	var out sink
	shell, err := StartShell(client, DefaultShellOptions(), out.write)
	if err != nil {
		t.Fatalf("StartShell: %v", err)
	}
	defer shell.Close()

	if err := shell.Resize(200, 50); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	waitFor(t, func() bool {
		p := srv.PTY()
		return p.Cols == 200 && p.Rows == 50
	})

	if err := shell.Resize(0, 50); err == nil {
		t.Error("expected error for zero columns")
	}
}

func TestShellCloseIdempotent(t *testing.T) {
	client, _ := newTestClient(t)
	var out sink
	shell, err := StartShell(client, DefaultShellOptions(), out.write)
	if err != nil {
		t.Fatalf("StartShell: %v", err)
	}
	shell.Close()
	shell.Close()

	select {
	case <-shell.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after Close")
	}
}

func TestStartShellNilSink(t *testing.T) {
	client, _ := newTestClient(t)
	if _, err := StartShell(client, DefaultShellOptions(), nil); err == nil {
		t.Error("expected error for nil sink")
	}
}
