// Package sshtest runs in-process SSH servers for tests. A Server accepts
// password and public key auth and serves exec requests, PTY shells that
// echo their input, the sftp subsystem and direct-tcpip forwards.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ExecFunc handles one exec request and returns the exit status.
type ExecFunc func(command string, stdout, stderr io.Writer) int

// Options configures a Server. Zero values disable the matching auth method.
type Options struct {
	Password      string
	AuthorizedKey ssh.PublicKey
	Exec          ExecFunc
}

// Server is a running test SSH server.
type Server struct {
	Addr    string
	HostKey ssh.PublicKey

	listener net.Listener
	opts     Options

	mu       sync.Mutex
	conns    []net.Conn
	accepted int
	commands []string
	shells   int
	pty      PTYRequest
}

// PTYRequest is the most recent pty-req or window-change seen by a Server.
type PTYRequest struct {
	Term string
	Cols uint32
	Rows uint32
}

// Start launches a server on 127.0.0.1 and registers its shutdown with t.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("create host signer: %v", err)
	}

	config := &ssh.ServerConfig{}
	if opts.Password != "" {
		config.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if string(password) == opts.Password {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("password rejected for %q", conn.User())
		}
	}
	if opts.AuthorizedKey != nil {
		want := ssh.FingerprintSHA256(opts.AuthorizedKey)
		config.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if ssh.FingerprintSHA256(key) == want {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		}
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &Server{
		Addr:     listener.Addr().String(),
		HostKey:  hostSigner.PublicKey(),
		listener: listener,
		opts:     opts,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.accepted++
			s.mu.Unlock()
			go s.handleConn(conn, config)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
		s.DropConnections()
	})
	return s
}

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr)
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.Addr)
	p, _ := strconv.Atoi(port)
	return p
}

// Accepted returns how many TCP connections the server has accepted.
func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Commands returns every exec command received so far, in order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// PTY returns the last terminal request.
func (s *Server) PTY() PTYRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pty
}

// Shells returns how many shell requests were served.
func (s *Server) Shells() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shells
}

// DropConnections closes every accepted TCP connection, simulating a
// network failure.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (s *Server) handleConn(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChan := range chans {
		switch newChan.ChannelType() {
		case "session":
			ch, requests, err := newChan.Accept()
			if err != nil {
				continue
			}
			go s.handleSession(ch, requests)
		case "direct-tcpip":
			go handleDirectTCPIP(newChan)
		default:
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
		}
	}
}

func (s *Server) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "pty-req":
			var payload struct {
				Term          string
				Cols, Rows    uint32
				Width, Height uint32
				Modes         string
			}
			if err := ssh.Unmarshal(req.Payload, &payload); err == nil {
				s.mu.Lock()
				s.pty = PTYRequest{Term: payload.Term, Cols: payload.Cols, Rows: payload.Rows}
				s.mu.Unlock()
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "window-change":
			if len(req.Payload) >= 8 {
				s.mu.Lock()
				s.pty.Cols = binary.BigEndian.Uint32(req.Payload[0:4])
				s.pty.Rows = binary.BigEndian.Uint32(req.Payload[4:8])
				s.mu.Unlock()
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "env":
			if req.WantReply {
				req.Reply(true, nil)
			}
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()
			go s.runExec(ch, payload.Command)
		case "shell":
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.mu.Lock()
			s.shells++
			s.mu.Unlock()
			go echoShell(ch)
		case "subsystem":
			var payload struct{ Name string }
			ssh.Unmarshal(req.Payload, &payload)
			if payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			go serveSFTP(ch)
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *Server) runExec(ch ssh.Channel, command string) {
	defer ch.Close()
	exec := s.opts.Exec
	if exec == nil {
		exec = DefaultExec
	}
	status := exec(command, ch, ch.Stderr())
	ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}

func echoShell(ch ssh.Channel) {
	defer ch.Close()
	buf := make([]byte, 4096)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			if _, werr := ch.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func serveSFTP(ch ssh.Channel) {
	defer ch.Close()
	server, err := sftp.NewServer(ch)
	if err != nil {
		return
	}
	server.Serve()
}

func handleDirectTCPIP(newChan ssh.NewChannel) {
	var target struct {
		Host       string
		Port       uint32
		OriginHost string
		OriginPort uint32
	}
	if err := ssh.Unmarshal(newChan.ExtraData(), &target); err != nil {
		newChan.Reject(ssh.ConnectionFailed, "bad direct-tcpip payload")
		return
	}
	conn, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
	if err != nil {
		newChan.Reject(ssh.ConnectionFailed, err.Error())
		return
	}
	ch, reqs, err := newChan.Accept()
	if err != nil {
		conn.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		io.Copy(ch, conn)
		ch.CloseWrite()
	}()
	go func() {
		defer wg.Done()
		io.Copy(conn, ch)
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()
	wg.Wait()
	ch.Close()
	conn.Close()
}

// DefaultExec answers "echo ...", "hostname" and "true"; everything else
// exits 127 with a message on stderr.
func DefaultExec(command string, stdout, stderr io.Writer) int {
	switch {
	case command == "hostname":
		fmt.Fprintln(stdout, "test-host")
		return 0
	case command == "true":
		return 0
	case strings.HasPrefix(command, "echo "):
		fmt.Fprintln(stdout, strings.Trim(strings.TrimPrefix(command, "echo "), "'\""))
		return 0
	}
	fmt.Fprintf(stderr, "sh: %s: command not found\n", command)
	return 127
}

// Canned returns an ExecFunc that prints fixed stdout for exact commands and
// falls back to DefaultExec.
func Canned(responses map[string]string) ExecFunc {
	return func(command string, stdout, stderr io.Writer) int {
		if out, ok := responses[command]; ok {
			io.WriteString(stdout, out)
			return 0
		}
		return DefaultExec(command, stdout, stderr)
	}
}

// ClientKey generates an ED25519 client key and returns its public half and
// the PEM private key, encrypted when passphrase is non-empty.
func ClientKey(t testing.TB, passphrase string) (ssh.PublicKey, []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}
	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("marshal client key: %v", err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("convert client public key: %v", err)
	}
	return sshPub, pem.EncodeToMemory(block)
}
