// Package remotefiles lists and manipulates remote directories through
// plain shell commands run on a host's command channel.
package remotefiles

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pandasdroid/vps-management/internal/remotecmd"
)

// ErrParse marks an ls line that could not be turned into an Entry. List
// drops such lines.
var ErrParse = errors.New("unparseable ls line")

// Executor runs a command on a registered host.
type Executor interface {
	Execute(ctx context.Context, key, command string) (string, error)
}

// Entry is one row of a directory listing.
type Entry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	IsSymlink   bool   `json:"is_symlink"`
	Size        int64  `json:"size"`
	Permissions string `json:"permissions"`
	Modified    string `json:"modified"`
}

// ListCommand is the command List runs for path.
func ListCommand(path string) string {
	return fmt.Sprintf("ls -la %s 2>/dev/null | tail -n +2", remotecmd.Quote(path))
}

// List returns the entries of the remote directory path. Directories other
// than "/" start with a synthesized ".." entry pointing at the parent. An
// unreadable directory yields just that entry.
func List(ctx context.Context, exec Executor, key, path string) ([]Entry, error) {
	out, err := exec.Execute(ctx, key, ListCommand(path))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, err)
	}

	var entries []Entry
	if path != "/" {
		entries = append(entries, Entry{Name: "..", Path: ParentPath(path), IsDirectory: true})
	}
	for _, line := range strings.Split(out, "\n") {
		e, err := ParseLsLine(line, path)
		if err != nil || e.Name == "." || e.Name == ".." {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ParseLsLine parses one line of `ls -la` output for a directory at base.
func ParseLsLine(line, base string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) < 9 {
		return Entry{}, fmt.Errorf("%w: %q", ErrParse, line)
	}

	perms := fields[0]
	size, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		size = 0
	}
	name := strings.Join(fields[8:], " ")
	if i := strings.Index(name, " -> "); i > 0 {
		name = name[:i]
	}

	return Entry{
		Name:        name,
		Path:        JoinPath(base, name),
		IsDirectory: strings.HasPrefix(perms, "d"),
		IsSymlink:   strings.HasPrefix(perms, "l"),
		Size:        size,
		Permissions: perms,
		Modified:    strings.Join(fields[5:8], " "),
	}, nil
}

// JoinPath appends name to a remote directory path.
func JoinPath(base, name string) string {
	if base == "/" {
		return "/" + name
	}
	return base + "/" + name
}

// ParentPath returns the parent of a remote path. The parent of "/" is "/".
func ParentPath(path string) string {
	if path == "/" {
		return "/"
	}
	trimmed := strings.TrimRight(path, "/")
	i := strings.LastIndex(trimmed, "/")
	if i <= 0 {
		return "/"
	}
	return trimmed[:i]
}

// Delete removes path, recursively when it is a directory.
func Delete(ctx context.Context, exec Executor, key, path string, isDir bool) error {
	if path == "" || path == "/" {
		return fmt.Errorf("delete: refusing to remove %q", path)
	}
	cmd := "rm -f " + remotecmd.Quote(path)
	if isDir {
		cmd = "rm -rf " + remotecmd.Quote(path)
	}
	return run(ctx, exec, key, "delete", cmd)
}

// Mkdir creates path and any missing parents.
func Mkdir(ctx context.Context, exec Executor, key, path string) error {
	return run(ctx, exec, key, "mkdir", "mkdir -p "+remotecmd.Quote(path))
}

// Rename moves oldPath to newPath.
func Rename(ctx context.Context, exec Executor, key, oldPath, newPath string) error {
	return run(ctx, exec, key, "rename", fmt.Sprintf("mv %s %s", remotecmd.Quote(oldPath), remotecmd.Quote(newPath)))
}

// run executes a mutation. The commands print nothing on success, so any
// output is treated as the error message.
func run(ctx context.Context, exec Executor, key, op, cmd string) error {
	out, err := exec.Execute(ctx, key, cmd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if msg := strings.TrimSpace(out); msg != "" {
		return fmt.Errorf("%s: %s", op, msg)
	}
	return nil
}

// ChangeDirCommand is the shell input that moves an interactive shell into
// path.
func ChangeDirCommand(path string) string {
	return "cd " + remotecmd.Quote(path) + "\n"
}
