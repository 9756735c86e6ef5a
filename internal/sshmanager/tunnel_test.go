package sshmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pandasdroid/vps-management/internal/codeserver"
	"github.com/pandasdroid/vps-management/internal/sshtest"
)

// fakeCodeServer answers the bootstrap commands. While running is false the
// HTTP probe reports 000 and a launch flips it on.
type fakeCodeServer struct {
	mu        sync.Mutex
	installed bool
	running   bool
}

func (f *fakeCodeServer) exec(cmd string, stdout, stderr io.Writer) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.Contains(cmd, "for p in"):
		if f.installed {
			fmt.Fprintln(stdout, "/usr/bin/code-server")
		} else {
			fmt.Fprintln(stdout, "not found")
		}
	case strings.Contains(cmd, "test -f"):
		fmt.Fprintln(stdout, "missing")
	case strings.Contains(cmd, "curl"):
		if f.running {
			fmt.Fprint(stdout, "200")
		} else {
			fmt.Fprint(stdout, "000")
		}
	case strings.Contains(cmd, "nohup"):
		f.running = true
		fmt.Fprintln(stdout, "31337")
	case strings.Contains(cmd, "ps -p"):
		fmt.Fprintln(stdout, "running")
	case strings.Contains(cmd, "pgrep"):
		if f.running {
			fmt.Fprintln(stdout, "alive")
		} else {
			fmt.Fprintln(stdout, "dead")
		}
	}
	return 0
}

func startEditorBackend(t *testing.T) int {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "code-server")
	}))
	t.Cleanup(backend.Close)
	return backend.Listener.Addr().(*net.TCPAddr).Port
}

func tunnelManager(t *testing.T, remotePort int) *SSHManager {
	return newTestManager(t, Options{Tunnel: TunnelOptions{
		ReadyAttempts: 5,
		ReadyInterval: 10 * time.Millisecond,
		LaunchGrace:   10 * time.Millisecond,
		Ports:         func(string) (int, int) { return 0, remotePort },
	}})
}

func TestStartTunnelLaunchesEditor(t *testing.T) {
	remotePort := startEditorBackend(t)
	fake := &fakeCodeServer{installed: true}
	m := tunnelManager(t, remotePort)
	srv, _ := connectTestHost(t, m, sshtest.Options{Exec: fake.exec})

	info, err := m.StartTunnel(context.Background(), "h1", "/srv/my app")
	if err != nil {
		t.Fatalf("StartTunnel: %v", err)
	}
	if info.Reused {
		t.Error("first start reported reuse")
	}
	if info.RemotePort != remotePort || info.LocalPort == 0 {
		t.Errorf("ports = %d -> %d", info.LocalPort, info.RemotePort)
	}
	if want := codeserver.EditorURL(info.LocalPort, "/srv/my app"); info.URL != want {
		t.Errorf("URL = %q, want %q", info.URL, want)
	}

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/", info.LocalPort))
	if err != nil {
		t.Fatalf("GET through tunnel: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "code-server" {
		t.Errorf("body = %q", body)
	}

	var launched bool
	for _, c := range srv.Commands() {
		if strings.Contains(c, "nohup") && strings.Contains(c, fmt.Sprintf("--port %d", remotePort)) {
			launched = true
		}
	}
	if !launched {
		t.Error("code-server was not launched on the remote port")
	}
	if got, ok := m.TunnelStatus("h1"); !ok || got.LocalPort != info.LocalPort {
		t.Errorf("TunnelStatus = %+v, %v", got, ok)
	}
}

func TestStartTunnelTwiceReusesInstance(t *testing.T) {
	remotePort := startEditorBackend(t)
	fake := &fakeCodeServer{installed: true}
	m := tunnelManager(t, remotePort)
	srv, _ := connectTestHost(t, m, sshtest.Options{Exec: fake.exec})

	first, err := m.StartTunnel(context.Background(), "h1", "/root")
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.StartTunnel(context.Background(), "h1", "/root")
	if err != nil {
		t.Fatal(err)
	}
	if !second.Reused {
		t.Error("second start did not reuse the running instance")
	}

	launches := 0
	for _, c := range srv.Commands() {
		if strings.Contains(c, "nohup") {
			launches++
		}
	}
	if launches != 1 {
		t.Errorf("code-server launched %d times, want 1", launches)
	}
	if _, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", first.LocalPort), time.Second); err == nil && first.LocalPort != second.LocalPort {
		t.Error("replaced forward still accepts connections")
	}
}

func TestStartTunnelServiceMissing(t *testing.T) {
	remotePort := startEditorBackend(t)
	m := tunnelManager(t, remotePort)
	connectTestHost(t, m, sshtest.Options{Exec: (&fakeCodeServer{}).exec})

	_, err := m.StartTunnel(context.Background(), "h1", "/root")
	if !errors.Is(err, codeserver.ErrServiceMissing) {
		t.Fatalf("expected ErrServiceMissing, got %v", err)
	}
	if _, ok := m.TunnelStatus("h1"); ok {
		t.Error("failed start left a tunnel registered")
	}
}

func TestStartTunnelNotConnected(t *testing.T) {
	m := newTestManager(t, Options{})
	if _, err := m.StartTunnel(context.Background(), "h1", "/root"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestStopTunnel(t *testing.T) {
	remotePort := startEditorBackend(t)
	fake := &fakeCodeServer{installed: true}
	m := tunnelManager(t, remotePort)
	srv, _ := connectTestHost(t, m, sshtest.Options{Exec: fake.exec})

	info, err := m.StartTunnel(context.Background(), "h1", "/root")
	if err != nil {
		t.Fatal(err)
	}
	before := len(srv.Commands())

	m.StopTunnel("h1")
	m.StopTunnel("h1")

	if _, ok := m.TunnelStatus("h1"); ok {
		t.Error("tunnel still registered")
	}
	if _, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", info.LocalPort), time.Second); err == nil {
		t.Error("local port still accepting after StopTunnel")
	}
	for _, c := range srv.Commands()[before:] {
		if strings.Contains(c, "pkill") {
			t.Errorf("StopTunnel ran %q on the remote host", c)
		}
	}
	if !m.IsConnected("h1") {
		t.Error("StopTunnel closed the main session")
	}
}
