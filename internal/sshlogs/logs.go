package sshlogs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/remotecmd"
)

// Standard log file paths on a Debian or Ubuntu host.
const (
	LogPathSyslog = "/var/log/syslog"
	LogPathAuth   = "/var/log/auth.log"
	LogPathKernel = "/var/log/kern.log"
	LogPathDpkg   = "/var/log/dpkg.log"
	LogPathNginx  = "/var/log/nginx/error.log"
)

// LogType is a named log stream.
type LogType string

const (
	LogTypeSystem LogType = "system"
	LogTypeAuth   LogType = "auth"
	LogTypeKernel LogType = "kernel"
	LogTypeDpkg   LogType = "dpkg"
	LogTypeNginx  LogType = "nginx"
)

// DefaultLogPaths maps each LogType to its file.
var DefaultLogPaths = map[LogType]string{
	LogTypeSystem: LogPathSyslog,
	LogTypeAuth:   LogPathAuth,
	LogTypeKernel: LogPathKernel,
	LogTypeDpkg:   LogPathDpkg,
	LogTypeNginx:  LogPathNginx,
}

// DefaultTail is the number of lines sent before following.
const DefaultTail = 100

// MaxTail caps the initial backlog.
const MaxTail = 10000

// AllLogTypes returns the supported types in display order.
func AllLogTypes() []LogType {
	return []LogType{LogTypeSystem, LogTypeAuth, LogTypeKernel, LogTypeDpkg, LogTypeNginx}
}

// ResolveLogPath returns the path for logType, or false when it is unknown.
func ResolveLogPath(logType LogType) (string, bool) {
	p, ok := DefaultLogPaths[logType]
	return p, ok
}

// ValidatePath accepts absolute paths without parent references.
func ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("log path %q is not absolute", path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return fmt.Errorf("log path %q contains ..", path)
		}
	}
	return nil
}

// TailCommand builds the tail invocation. Follow mode uses -F so rotated
// files are picked up by name.
func TailCommand(path string, tail int, follow bool) string {
	if tail < 0 {
		tail = 0
	}
	if tail > MaxTail {
		tail = MaxTail
	}
	cmd := fmt.Sprintf("tail -n %d", tail)
	if follow {
		cmd += " -F"
	}
	return cmd + " " + remotecmd.Quote(path)
}

// StreamLogs runs tail on client and sends each line to the returned
// channel. The channel closes when ctx is canceled, the session ends, or
// the file is exhausted in non-follow mode.
func StreamLogs(ctx context.Context, client *ssh.Client, path string, tail int, follow bool) (<-chan string, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := session.Start(TailCommand(path, tail, follow)); err != nil {
		session.Close()
		return nil, fmt.Errorf("start tail: %w", err)
	}

	ch := make(chan string, 100)
	stop := context.AfterFunc(ctx, func() { session.Close() })

	go func() {
		defer close(ch)
		defer session.Close()
		defer stop()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case ch <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			log.Printf("[logs] read %s: %v", logutil.SanitizeForLog(path), err)
		}
	}()
	return ch, nil
}

// AvailableLogFiles returns the default log paths that exist on the host.
func AvailableLogFiles(client *ssh.Client) ([]string, error) {
	var checks []string
	for _, t := range AllLogTypes() {
		p := remotecmd.Quote(DefaultLogPaths[t])
		checks = append(checks, fmt.Sprintf("[ -f %s ] && echo %s", p, p))
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh session: %w", err)
	}
	defer session.Close()

	out, err := session.Output(strings.Join(checks, "; "))
	if err != nil {
		// the last test failing makes the compound command exit non-zero
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("check log files: %w", err)
		}
	}

	found := []string{}
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			found = append(found, line)
		}
	}
	return found, nil
}
