package sshmanager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pandasdroid/vps-management/internal/codeserver"
	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/sshtunnel"
)

const defaultVerifyTimeout = 5 * time.Second

// TunnelOptions tunes the code-server bootstrap.
type TunnelOptions struct {
	ReadyAttempts int
	ReadyInterval time.Duration
	LaunchGrace   time.Duration
	VerifyTimeout time.Duration

	// Ports overrides the local and remote port choice. The default uses
	// codeserver.PortForHost for both.
	Ports func(address string) (local, remote int)
}

// TunnelInfo describes a running editor tunnel.
type TunnelInfo struct {
	LocalPort  int       `json:"local_port"`
	RemotePort int       `json:"remote_port"`
	RemotePath string    `json:"remote_path"`
	URL        string    `json:"url"`
	Reused     bool      `json:"reused"`
	StartedAt  time.Time `json:"started_at"`
}

type tunnelHandle struct {
	forward *sshtunnel.LocalForward
	client  *ssh.Client
	info    TunnelInfo
}

// close releases the local forward and the dedicated connection. The remote
// code-server keeps running.
func (t *tunnelHandle) close() error {
	return errors.Join(t.forward.Close(), ignoreClosed(t.client.Close()))
}

// clientRunner runs bootstrap commands over the tunnel's own connection.
type clientRunner struct {
	client  *ssh.Client
	timeout time.Duration
}

func (r clientRunner) Run(ctx context.Context, command string) (string, error) {
	return runCommand(ctx, r.client, command, r.timeout)
}

func (m *SSHManager) tunnelPorts(address string) (int, int) {
	if m.opts.Tunnel.Ports != nil {
		return m.opts.Tunnel.Ports(address)
	}
	p := codeserver.PortForHost(address)
	return p, p
}

// StartTunnel makes code-server reachable on a local port for key's host,
// opening remotePath. A tunnel already open for key is replaced; the remote
// instance is reused when it still answers.
func (m *SSHManager) StartTunnel(ctx context.Context, key, remotePath string) (TunnelInfo, error) {
	unlock := m.lockKey(key)
	defer unlock()

	s, err := m.live(key)
	if err != nil {
		return TunnelInfo{}, err
	}
	m.stopTunnel(s)

	localPort, remotePort := m.tunnelPorts(s.address)

	client, err := dial(ctx, s.info)
	if err != nil {
		return TunnelInfo{}, fmt.Errorf("open tunnel connection: %w", err)
	}

	forward, err := sshtunnel.Listen(client, localPort, remotePort)
	if err != nil {
		client.Close()
		return TunnelInfo{}, err
	}
	handle := &tunnelHandle{forward: forward, client: client}

	opts := m.opts.Tunnel
	res, err := codeserver.Bootstrap(ctx, clientRunner{client: client, timeout: m.opts.CommandTimeout}, codeserver.Options{
		Port:        remotePort,
		Folder:      remotePath,
		Attempts:    opts.ReadyAttempts,
		Interval:    opts.ReadyInterval,
		LaunchGrace: opts.LaunchGrace,
	})
	if err != nil {
		handle.close()
		return TunnelInfo{}, err
	}

	verifyTimeout := opts.VerifyTimeout
	if verifyTimeout <= 0 {
		verifyTimeout = defaultVerifyTimeout
	}
	if err := sshtunnel.VerifyHTTP(ctx, codeserver.EditorURL(forward.LocalPort, ""), verifyTimeout); err != nil {
		handle.close()
		return TunnelInfo{}, fmt.Errorf("verify tunnel: %w", err)
	}

	handle.info = TunnelInfo{
		LocalPort:  forward.LocalPort,
		RemotePort: remotePort,
		RemotePath: remotePath,
		URL:        codeserver.EditorURL(forward.LocalPort, remotePath),
		Reused:     res.Reused,
		StartedAt:  forward.StartedAt,
	}
	s.mu.Lock()
	s.tunnel = handle
	s.mu.Unlock()

	m.emit(key, EventTunnelStarted, handle.info.URL)
	log.Printf("[tunnel] editor for %s at %s (reused=%t)", logutil.SanitizeForLog(s.label), handle.info.URL, res.Reused)
	return handle.info, nil
}

// StopTunnel closes key's local forward and tunnel connection. It is safe to
// call when no tunnel is open.
func (m *SSHManager) StopTunnel(key string) {
	unlock := m.lockKey(key)
	defer unlock()
	if s := m.get(key); s != nil {
		m.stopTunnel(s)
	}
}

// TunnelStatus returns key's tunnel, if one is open.
func (m *SSHManager) TunnelStatus(key string) (TunnelInfo, bool) {
	s := m.get(key)
	if s == nil {
		return TunnelInfo{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tunnel == nil {
		return TunnelInfo{}, false
	}
	return s.tunnel.info, true
}

func (m *SSHManager) stopTunnel(s *session) {
	s.mu.Lock()
	t := s.tunnel
	s.tunnel = nil
	s.mu.Unlock()
	if t == nil {
		return
	}
	if r := release("tunnel", t.close); r.Err != nil {
		log.Printf("[tunnel] close for %s: %v", logutil.SanitizeForLog(s.label), r.Err)
	}
	m.emit(s.key, EventTunnelStopped, t.info.URL)
}
