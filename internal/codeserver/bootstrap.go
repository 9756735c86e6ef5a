package codeserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var (
	// ErrServiceMissing means no code-server binary was found on the host.
	ErrServiceMissing = errors.New("code-server is not installed on the remote host")

	// ErrStartupFailure means code-server exited or never became ready.
	ErrStartupFailure = errors.New("code-server failed to start")
)

// StartupError carries the remote log output explaining a failed start.
type StartupError struct {
	Port    int
	Reason  string
	LogTail string
}

func (e *StartupError) Error() string {
	msg := fmt.Sprintf("code-server on port %d: %s", e.Port, e.Reason)
	if e.LogTail != "" {
		msg += "\n--- log ---\n" + e.LogTail
	}
	return msg
}

func (e *StartupError) Unwrap() error {
	return ErrStartupFailure
}

// Runner executes one remote command and returns its output.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// Options for Bootstrap. Zero durations and counts take the defaults.
type Options struct {
	Port        int
	Folder      string
	Attempts    int
	Interval    time.Duration
	LaunchGrace time.Duration
}

const (
	defaultAttempts    = 30
	defaultInterval    = time.Second
	defaultLaunchGrace = 2 * time.Second
)

// Result describes the instance Bootstrap left running.
type Result struct {
	Binary string
	Reused bool
	PID    string
}

// Bootstrap makes sure a code-server instance answers on opts.Port on the
// remote host, reusing one that is already running.
func Bootstrap(ctx context.Context, r Runner, opts Options) (Result, error) {
	if opts.Port <= 0 {
		return Result{}, fmt.Errorf("bootstrap: invalid port %d", opts.Port)
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.LaunchGrace <= 0 {
		opts.LaunchGrace = defaultLaunchGrace
	}

	binary, err := Discover(ctx, r)
	if err != nil {
		return Result{}, err
	}
	if err := EnsureConfig(ctx, r); err != nil {
		return Result{}, err
	}

	if Probe(ctx, r, opts.Port) {
		log.Printf("[tunnel] code-server already answering on port %d, reusing it", opts.Port)
		return Result{Binary: binary, Reused: true}, nil
	}

	if _, err := r.Run(ctx, killCommand(opts.Port)); err != nil {
		return Result{}, fmt.Errorf("stop stale code-server: %w", err)
	}

	out, err := r.Run(ctx, launchCommand(binary, opts.Port, opts.Folder))
	if err != nil {
		return Result{}, fmt.Errorf("launch code-server: %w", err)
	}
	pid := firstLine(out)
	log.Printf("[tunnel] launched code-server pid=%s port=%d", pid, opts.Port)

	if err := sleep(ctx, opts.LaunchGrace); err != nil {
		return Result{}, err
	}
	if !isNumeric(pid) {
		return Result{}, &StartupError{Port: opts.Port, Reason: "launch did not report a pid: " + pid, LogTail: readLog(ctx, r, logCommand(opts.Port))}
	}
	state, err := r.Run(ctx, pidRunningCommand(pid))
	if err != nil {
		return Result{}, fmt.Errorf("check code-server pid: %w", err)
	}
	if firstLine(state) != "running" {
		return Result{}, &StartupError{Port: opts.Port, Reason: "process exited right after launch", LogTail: readLog(ctx, r, logCommand(opts.Port))}
	}

	if err := waitReady(ctx, r, opts); err != nil {
		return Result{}, err
	}
	return Result{Binary: binary, PID: pid}, nil
}

// Discover returns the path of the code-server binary.
func Discover(ctx context.Context, r Runner) (string, error) {
	out, err := r.Run(ctx, discoverCommand())
	if err != nil {
		return "", fmt.Errorf("discover code-server: %w", err)
	}
	path := firstLine(out)
	if path == "" || path == "not found" || !strings.HasPrefix(path, "/") {
		return "", ErrServiceMissing
	}
	return path, nil
}

// EnsureConfig creates the persistent directories and writes the default
// settings file unless one already exists.
func EnsureConfig(ctx context.Context, r Runner) error {
	if _, err := r.Run(ctx, ensureDirsCommand()); err != nil {
		return fmt.Errorf("create code-server directories: %w", err)
	}
	out, err := r.Run(ctx, settingsExistsCommand())
	if err != nil {
		return fmt.Errorf("check code-server settings: %w", err)
	}
	if firstLine(out) == "exists" {
		return nil
	}
	cmd, err := writeSettingsCommand()
	if err != nil {
		return err
	}
	if _, err := r.Run(ctx, cmd); err != nil {
		return fmt.Errorf("write code-server settings: %w", err)
	}
	return nil
}

// Probe reports whether something answers HTTP on port with 200, 302 or 304.
func Probe(ctx context.Context, r Runner, port int) bool {
	out, err := r.Run(ctx, probeCommand(port))
	if err != nil {
		return false
	}
	switch firstLine(out) {
	case "200", "302", "304":
		return true
	}
	return false
}

func waitReady(ctx context.Context, r Runner, opts Options) error {
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		if err := sleep(ctx, opts.Interval); err != nil {
			return err
		}
		alive, err := r.Run(ctx, aliveCommand(opts.Port))
		if err == nil && firstLine(alive) == "alive" && Probe(ctx, r, opts.Port) {
			log.Printf("[tunnel] code-server ready on port %d after %d attempt(s)", opts.Port, attempt)
			return nil
		}
	}
	return &StartupError{
		Port:    opts.Port,
		Reason:  fmt.Sprintf("not ready after %d attempts", opts.Attempts),
		LogTail: readLog(ctx, r, logTailCommand(opts.Port)),
	}
}

func readLog(ctx context.Context, r Runner, cmd string) string {
	out, err := r.Run(ctx, cmd)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
