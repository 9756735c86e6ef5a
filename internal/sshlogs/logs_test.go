package sshlogs

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pandasdroid/vps-management/internal/sshtest"
)

func newClient(t *testing.T, exec sshtest.ExecFunc) (*ssh.Client, *sshtest.Server) {
	t.Helper()
	srv := sshtest.Start(t, sshtest.Options{Password: "pw", Exec: exec})
	client, err := ssh.Dial("tcp", srv.Addr, &ssh.ClientConfig{
		User:            "root",
		Auth:            []ssh.AuthMethod{ssh.Password("pw")},
		HostKeyCallback: ssh.FixedHostKey(srv.HostKey),
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, srv
}

// --- Command tests ---

func TestTailCommand(t *testing.T) {
	tests := []struct {
		path   string
		tail   int
		follow bool
		want   string
	}{
		{"/var/log/syslog", 100, false, "tail -n 100 '/var/log/syslog'"},
		{"/var/log/syslog", 50, true, "tail -n 50 -F '/var/log/syslog'"},
		{"/var/log/it's.log", 10, false, `tail -n 10 '/var/log/it'\''s.log'`},
		{"/x", -5, false, "tail -n 0 '/x'"},
		{"/x", MaxTail + 1, false, fmt.Sprintf("tail -n %d '/x'", MaxTail)},
	}
	for _, tt := range tests {
		if got := TailCommand(tt.path, tt.tail, tt.follow); got != tt.want {
			t.Errorf("TailCommand(%q, %d, %v) = %q, want %q", tt.path, tt.tail, tt.follow, got, tt.want)
		}
	}
}

func TestValidatePath(t *testing.T) {
	for _, ok := range []string{"/var/log/syslog", "/tmp/a..b"} {
		if err := ValidatePath(ok); err != nil {
			t.Errorf("ValidatePath(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "var/log/syslog", "/var/log/../../etc/shadow"} {
		if err := ValidatePath(bad); err == nil {
			t.Errorf("ValidatePath(%q) accepted", bad)
		}
	}
}

func TestResolveLogPath(t *testing.T) {
	if p, ok := ResolveLogPath(LogTypeAuth); !ok || p != LogPathAuth {
		t.Errorf("auth = %q, %v", p, ok)
	}
	if _, ok := ResolveLogPath("bogus"); ok {
		t.Error("unknown type resolved")
	}
	for _, lt := range AllLogTypes() {
		if _, ok := DefaultLogPaths[lt]; !ok {
			t.Errorf("%s has no default path", lt)
		}
	}
}

// --- Streaming tests ---

func TestStreamLogsReadsLines(t *testing.T) {
	client, srv := newClient(t, func(command string, stdout, stderr io.Writer) int {
		if strings.HasPrefix(command, "tail ") {
			io.WriteString(stdout, "line one\nline two\nline three\n")
			return 0
		}
		return 1
	})

	ch, err := StreamLogs(context.Background(), client, LogPathSyslog, 3, false)
	if err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}
	var got []string
	for line := range ch {
		got = append(got, line)
	}
	if strings.Join(got, "|") != "line one|line two|line three" {
		t.Errorf("lines = %q", got)
	}
	cmds := srv.Commands()
	if len(cmds) != 1 || cmds[0] != "tail -n 3 '/var/log/syslog'" {
		t.Errorf("commands = %q", cmds)
	}
}

func TestStreamLogsCancel(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	client, _ := newClient(t, func(command string, stdout, stderr io.Writer) int {
		io.WriteString(stdout, "first\n")
		<-release
		return 0
	})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := StreamLogs(ctx, client, LogPathAuth, 10, true)
	if err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}
	select {
	case line := <-ch:
		if line != "first" {
			t.Errorf("line = %q", line)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no line received")
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestStreamLogsRejectsRelativePath(t *testing.T) {
	client, srv := newClient(t, sshtest.DefaultExec)
	if _, err := StreamLogs(context.Background(), client, "../etc/shadow", 10, false); err == nil {
		t.Fatal("expected error")
	}
	if n := len(srv.Commands()); n != 0 {
		t.Errorf("ran %d commands", n)
	}
}

func TestAvailableLogFiles(t *testing.T) {
	client, _ := newClient(t, func(command string, stdout, stderr io.Writer) int {
		io.WriteString(stdout, LogPathSyslog+"\n"+LogPathAuth+"\n")
		return 1
	})
	found, err := AvailableLogFiles(client)
	if err != nil {
		t.Fatalf("AvailableLogFiles: %v", err)
	}
	if len(found) != 2 || found[0] != LogPathSyslog || found[1] != LogPathAuth {
		t.Errorf("found = %q", found)
	}
}
