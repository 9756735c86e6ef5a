package sshmanager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/sshterminal"
)

const (
	defaultKeepaliveInterval = 30 * time.Second
	defaultCommandTimeout    = 30 * time.Second
	probeTimeout             = 5 * time.Second
)

// Options configures an SSHManager. Zero values take the defaults.
type Options struct {
	ConnectTimeout    time.Duration
	CommandTimeout    time.Duration
	KnownHostsPath    string
	KeepaliveInterval time.Duration
	RateLimit         RateLimitConfig
	Tunnel            TunnelOptions

	// OnHostKey receives the fingerprint of a host without a pinned key
	// after it connects successfully, so the caller can pin it.
	OnHostKey func(key, fingerprint string)
}

// session is everything the registry holds for one connected host.
type session struct {
	key         string
	label       string
	address     string
	info        ConnectionInfo
	client      *ssh.Client
	sftp        *sftp.Client
	connectedAt time.Time

	// mu guards shell and tunnel.
	mu     sync.Mutex
	shell  *sshterminal.Shell
	tunnel *tunnelHandle
}

func (s *session) currentShell() *sshterminal.Shell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shell
}

// SessionInfo is a read-only view of a registered session.
type SessionInfo struct {
	Key         string    `json:"key"`
	Label       string    `json:"label"`
	Address     string    `json:"address"`
	ConnectedAt time.Time `json:"connected_at"`
	ShellActive bool      `json:"shell_active"`
	TunnelPort  int       `json:"tunnel_port,omitempty"`
}

// ReleaseResult is the outcome of one teardown step.
type ReleaseResult struct {
	Step string
	Err  error
}

// SSHManager is the session registry. It maps host keys to live sessions,
// each holding a command channel, a transfer channel over the same
// connection, and optionally a shell and a code-server tunnel.
//
// The map is guarded by mu and network calls run outside it, so slow hosts
// never block other keys. Lifecycle changes on the same key are serialized
// by a per-key mutex.
type SSHManager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	locksMu  sync.Mutex
	keyLocks map[string]*keyLock

	opts    Options
	limiter *connectLimiter
	states  *stateTracker
	events  *eventLog

	keepaliveCtx    context.Context
	keepaliveCancel context.CancelFunc
	keepaliveWg     sync.WaitGroup
	closeOnce       sync.Once
}

// NewSSHManager creates a registry and starts its keepalive loop.
func NewSSHManager(opts Options) *SSHManager {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = defaultKeepaliveInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &SSHManager{
		sessions:        make(map[string]*session),
		keyLocks:        make(map[string]*keyLock),
		opts:            opts,
		limiter:         newConnectLimiter(opts.RateLimit),
		states:          newStateTracker(),
		events:          newEventLog(),
		keepaliveCtx:    ctx,
		keepaliveCancel: cancel,
	}
	m.keepaliveWg.Add(1)
	go m.keepaliveLoop()
	return m
}

// keyLock serializes lifecycle operations on one key. refs counts holders
// and waiters; the entry is dropped when it reaches zero.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (m *SSHManager) lockKey(key string) func() {
	m.locksMu.Lock()
	l, ok := m.keyLocks[key]
	if !ok {
		l = &keyLock{}
		m.keyLocks[key] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.keyLocks, key)
		}
		m.locksMu.Unlock()
	}
}

func (m *SSHManager) get(key string) *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[key]
}

// Connect opens a session for host. An existing session for the same key is
// fully disconnected first. On failure nothing is registered.
func (m *SSHManager) Connect(ctx context.Context, host HostRecord) error {
	if host.Key == "" {
		return errors.New("connect: host key is empty")
	}
	unlock := m.lockKey(host.Key)
	defer unlock()

	if err := m.limiter.allow(host.Key); err != nil {
		return fmt.Errorf("connect %s: %w", logutil.SanitizeForLog(host.DisplayName()), err)
	}

	if m.get(host.Key) != nil {
		log.Printf("[ssh] replacing existing session for %s", logutil.SanitizeForLog(host.DisplayName()))
		m.teardown(host.Key)
	}
	m.states.set(host.Key, StateConnecting)

	var firstSeen string
	info, err := BuildConnectionInfo(host, BuildOptions{
		Timeout:        m.opts.ConnectTimeout,
		KnownHostsPath: m.opts.KnownHostsPath,
		OnFirstUse:     func(fingerprint string) { firstSeen = fingerprint },
	})
	var s *session
	if err == nil {
		s, err = m.open(ctx, host, info)
	}
	if err != nil {
		m.limiter.recordFailure(host.Key)
		m.states.set(host.Key, StateFailed)
		m.emit(host.Key, EventConnectFailed, err.Error())
		log.Printf("[ssh] connect %s failed: %v", logutil.SanitizeForLog(host.DisplayName()), err)
		return err
	}

	if firstSeen != "" {
		// later dials for this session (tunnel) must see the same key
		pinned := host
		pinned.HostKeyFingerprint = firstSeen
		if info, err := BuildConnectionInfo(pinned, BuildOptions{
			Timeout:        m.opts.ConnectTimeout,
			KnownHostsPath: m.opts.KnownHostsPath,
		}); err == nil {
			s.info = info
		}
	}

	m.mu.Lock()
	m.sessions[host.Key] = s
	m.mu.Unlock()

	if firstSeen != "" && m.opts.OnHostKey != nil {
		m.opts.OnHostKey(host.Key, firstSeen)
	}
	m.limiter.recordSuccess(host.Key)
	m.states.set(host.Key, StateConnected)
	m.emit(host.Key, EventConnected, s.info.Addr)
	log.Printf("[ssh] connected to %s at %s", logutil.SanitizeForLog(host.DisplayName()), logutil.SanitizeForLog(s.info.Addr))
	return nil
}

// open dials host and opens both channels, releasing everything it opened
// when a later step fails.
func (m *SSHManager) open(ctx context.Context, host HostRecord, info ConnectionInfo) (*session, error) {
	client, err := dial(ctx, info)
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("open transfer channel to %s: %w", info.Addr, err)
	}

	if !probe(client) {
		sftpClient.Close()
		client.Close()
		return nil, fmt.Errorf("connect to %s: %w: connection not responding", info.Addr, ErrNotConnected)
	}

	return &session{
		key:         host.Key,
		label:       host.DisplayName(),
		address:     host.Address,
		info:        info,
		client:      client,
		sftp:        sftpClient,
		connectedAt: time.Now(),
	}, nil
}

// dial opens a TCP connection and runs the SSH handshake, honoring both the
// config timeout and ctx.
func dial(ctx context.Context, info ConnectionInfo) (*ssh.Client, error) {
	d := net.Dialer{Timeout: info.Config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", info.Addr)
	if err != nil {
		return nil, dialError(ctx, info.Addr, err)
	}

	if info.Config.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(info.Config.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(conn, info.Addr, info.Config)
	if err != nil {
		conn.Close()
		return nil, dialError(ctx, info.Addr, err)
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

func dialError(ctx context.Context, addr string, err error) error {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return fmt.Errorf("connect to %s: %w: %v", addr, ErrTimeout, err)
	case context.Canceled:
		return fmt.Errorf("connect to %s: %w", addr, context.Canceled)
	}
	return classifyConnectError(addr, err)
}

// probe sends a keepalive request and waits up to probeTimeout for the
// reply.
func probe(client *ssh.Client) bool {
	if client == nil {
		return false
	}
	done := make(chan error, 1)
	go func() {
		_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
		done <- err
	}()
	t := time.NewTimer(probeTimeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err == nil
	case <-t.C:
		return false
	}
}

// live returns the session for key if its connection answers a probe.
func (m *SSHManager) live(key string) (*session, error) {
	s := m.get(key)
	if s == nil || !probe(s.client) {
		return nil, ErrNotConnected
	}
	return s, nil
}

// IsConnected probes the command channel of key. It never reports a cached
// flag.
func (m *SSHManager) IsConnected(key string) bool {
	s := m.get(key)
	return s != nil && probe(s.client)
}

// Disconnect releases every handle of key's session. It never fails: the
// result of each step is returned for inspection and logging only.
func (m *SSHManager) Disconnect(key string) []ReleaseResult {
	unlock := m.lockKey(key)
	defer unlock()
	return m.teardown(key)
}

// teardown removes key from the map and releases its handles in order:
// shell, transfer, command, tunnel. Callers hold the key lock.
func (m *SSHManager) teardown(key string) []ReleaseResult {
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	shell, tunnel := s.shell, s.tunnel
	s.shell, s.tunnel = nil, nil
	s.mu.Unlock()

	results := []ReleaseResult{
		release("shell", func() error {
			if shell == nil {
				return nil
			}
			return shell.Close()
		}),
		release("transfer", func() error {
			return ignoreClosed(s.sftp.Close())
		}),
		release("command", func() error {
			return ignoreClosed(s.client.Close())
		}),
		release("tunnel", func() error {
			if tunnel == nil {
				return nil
			}
			return tunnel.close()
		}),
	}

	for _, r := range results {
		if r.Err != nil {
			log.Printf("[ssh] release %s for %s: %v", r.Step, logutil.SanitizeForLog(s.label), r.Err)
		}
	}
	m.states.set(key, StateDisconnected)
	m.emit(key, EventDisconnected, s.info.Addr)
	log.Printf("[ssh] disconnected %s", logutil.SanitizeForLog(s.label))
	return results
}

// release runs one teardown step, converting a panic into an error.
func release(step string, fn func() error) (r ReleaseResult) {
	r.Step = step
	defer func() {
		if p := recover(); p != nil {
			r.Err = fmt.Errorf("panic: %v", p)
		}
	}()
	r.Err = fn()
	return r
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
		return nil
	}
	return err
}

// Keys returns the keys of all registered sessions, sorted.
func (m *SSHManager) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Session returns a snapshot of key's session.
func (m *SSHManager) Session(key string) (SessionInfo, bool) {
	s := m.get(key)
	if s == nil {
		return SessionInfo{}, false
	}
	info := SessionInfo{
		Key:         s.key,
		Label:       s.label,
		Address:     s.address,
		ConnectedAt: s.connectedAt,
	}
	s.mu.Lock()
	info.ShellActive = s.shell != nil
	if s.tunnel != nil {
		info.TunnelPort = s.tunnel.info.LocalPort
	}
	s.mu.Unlock()
	return info, true
}

// CloseAll stops the keepalive loop and disconnects every session.
func (m *SSHManager) CloseAll() {
	m.closeOnce.Do(func() {
		m.keepaliveCancel()
		m.keepaliveWg.Wait()
	})
	keys := m.Keys()
	for _, key := range keys {
		m.Disconnect(key)
	}
	if len(keys) > 0 {
		log.Printf("[ssh] closed all %d session(s)", len(keys))
	}
}

// TestConnection dials host without registering it and runs hostname.
func (m *SSHManager) TestConnection(ctx context.Context, host HostRecord) (bool, string) {
	info, err := BuildConnectionInfo(host, BuildOptions{
		Timeout:        m.opts.ConnectTimeout,
		KnownHostsPath: m.opts.KnownHostsPath,
	})
	if err != nil {
		return false, err.Error()
	}
	client, err := dial(ctx, info)
	if err != nil {
		return false, err.Error()
	}
	defer client.Close()

	out, err := runCommand(ctx, client, "hostname", m.opts.CommandTimeout)
	if err != nil {
		return false, err.Error()
	}
	return true, "Connected! Hostname: " + strings.TrimSpace(out)
}

func (m *SSHManager) keepaliveLoop() {
	defer m.keepaliveWg.Done()
	ticker := time.NewTicker(m.opts.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.keepaliveCtx.Done():
			return
		case <-ticker.C:
			m.checkConnections()
		}
	}
}

// checkConnections disconnects sessions whose connection stopped answering.
func (m *SSHManager) checkConnections() {
	for _, key := range m.Keys() {
		s := m.get(key)
		if s == nil || probe(s.client) {
			continue
		}
		log.Printf("[ssh] keepalive failed for %s, disconnecting", logutil.SanitizeForLog(s.label))
		m.emit(key, EventHealthCheckFailed, "keepalive request failed")

		unlock := m.lockKey(key)
		if m.get(key) == s {
			m.teardown(key)
		}
		unlock()
	}
}
