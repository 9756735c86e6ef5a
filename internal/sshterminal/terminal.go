package sshterminal

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"golang.org/x/crypto/ssh"
)

// ShellOptions sets the PTY geometry and receive buffer.
type ShellOptions struct {
	Term       string
	Cols       int
	Rows       int
	BufferSize int
}

// DefaultShellOptions returns an xterm-256color 120x30 terminal with a 64 KiB
// receive buffer.
func DefaultShellOptions() ShellOptions {
	return ShellOptions{
		Term:       "xterm-256color",
		Cols:       120,
		Rows:       30,
		BufferSize: 65536,
	}
}

// Shell is a running interactive shell.
type Shell struct {
	session *ssh.Session
	stdin   io.WriteCloser

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// StartShell opens a session on client, requests a PTY, starts the login
// shell and begins forwarding decoded output to onData.
func StartShell(client *ssh.Client, opts ShellOptions, onData func(string)) (*Shell, error) {
	if onData == nil {
		return nil, errors.New("start shell: data sink is nil")
	}
	defaults := DefaultShellOptions()
	if opts.Term == "" {
		opts.Term = defaults.Term
	}
	if opts.Cols <= 0 || opts.Rows <= 0 {
		opts.Cols, opts.Rows = defaults.Cols, defaults.Rows
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(opts.Term, opts.Rows, opts.Cols, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &Shell{
		session: session,
		stdin:   stdin,
		done:    make(chan struct{}),
	}
	go s.relay(stdout, opts.BufferSize, onData)
	return s, nil
}

// relay is the only reader of the remote output.
func (s *Shell) relay(stdout io.Reader, bufSize int, onData func(string)) {
	defer close(s.done)
	var dec Decoder
	buf := make([]byte, bufSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if text := dec.Decode(buf[:n]); text != "" {
				onData(text)
			}
		}
		if err != nil {
			if text := dec.Flush(); text != "" {
				onData(text)
			}
			if err != io.EOF {
				log.Printf("[shell] read error: %v", err)
			}
			return
		}
	}
}

// Write sends raw text, including control sequences, to the PTY input.
func (s *Shell) Write(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := io.WriteString(s.stdin, text); err != nil {
		return fmt.Errorf("write to shell: %w", err)
	}
	return nil
}

// Resize changes the PTY dimensions.
func (s *Shell) Resize(cols, rows int) error {
	if err := ValidateSize(cols, rows); err != nil {
		return err
	}
	return s.session.WindowChange(rows, cols)
}

// Done is closed once the remote output has ended.
func (s *Shell) Done() <-chan struct{} {
	return s.done
}

// Close ends the shell. It is safe to call more than once.
func (s *Shell) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		s.stdin.Close()
		s.writeMu.Unlock()
		err = s.session.Close()
		if errors.Is(err, io.EOF) {
			err = nil
		}
	})
	return err
}
