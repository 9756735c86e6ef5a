// Package remotestats gathers a point-in-time system snapshot from a remote
// host by running a fixed battery of shell commands.
package remotestats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pandasdroid/vps-management/internal/sshmanager"
)

// Executor runs commands on a registered host.
type Executor interface {
	IsConnected(key string) bool
	Execute(ctx context.Context, key, command string) (string, error)
}

const notAvailable = "N/A"

// Snapshot is one immutable reading. Fields whose command failed keep their
// defaults: "N/A" for text and 0 for numbers.
type Snapshot struct {
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Kernel        string    `json:"kernel"`
	Uptime        string    `json:"uptime"`
	IPAddress     string    `json:"ip_address"`
	CPUCores      int       `json:"cpu_cores"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryUsed    int64     `json:"memory_used"`
	MemoryTotal   int64     `json:"memory_total"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskUsed      int64     `json:"disk_used"`
	DiskTotal     int64     `json:"disk_total"`
	DiskPercent   float64   `json:"disk_percent"`
	CollectedAt   time.Time `json:"collected_at"`
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Hostname:  notAvailable,
		OS:        notAvailable,
		Kernel:    notAvailable,
		Uptime:    notAvailable,
		IPAddress: notAvailable,
	}
}

// The battery, in collection order.
const (
	cmdHostname = "hostname"
	cmdOS       = `cat /etc/os-release 2>/dev/null | grep PRETTY_NAME | cut -d= -f2 | tr -d '"'`
	cmdKernel   = "uname -r"
	cmdUptime   = "uptime -p 2>/dev/null || uptime"
	cmdIP       = "hostname -I | awk '{print $1}'"
	cmdCores    = "nproc"
	cmdCPU      = "top -bn1 | grep 'Cpu(s)' | awk '{print $2}'"
	cmdMemory   = "free -b | awk 'NR==2{print $3, $2}'"
	cmdDisk     = "df -B1 / | awk 'NR==2{print $3, $2}'"
)

// Commands lists the battery in order.
var Commands = []string{cmdHostname, cmdOS, cmdKernel, cmdUptime, cmdIP, cmdCores, cmdCPU, cmdMemory, cmdDisk}

// Collect runs the battery against key. Each command is independent: a
// failure only leaves its own fields at their defaults. The only error is
// sshmanager.ErrNotConnected, checked before anything runs.
func Collect(ctx context.Context, exec Executor, key string) (Snapshot, error) {
	if !exec.IsConnected(key) {
		return Snapshot{}, fmt.Errorf("collect stats: %w", sshmanager.ErrNotConnected)
	}

	s := emptySnapshot()
	run := func(cmd string) (string, bool) {
		out, err := exec.Execute(ctx, key, cmd)
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(out), true
	}

	if out, ok := run(cmdHostname); ok && out != "" {
		s.Hostname = out
	}
	if out, ok := run(cmdOS); ok {
		if out == "" {
			out = "Unknown"
		}
		s.OS = out
	}
	if out, ok := run(cmdKernel); ok && out != "" {
		s.Kernel = out
	}
	if out, ok := run(cmdUptime); ok && out != "" {
		s.Uptime = out
	}
	if out, ok := run(cmdIP); ok && out != "" {
		s.IPAddress = out
	}
	if out, ok := run(cmdCores); ok {
		if n, err := strconv.Atoi(out); err == nil {
			s.CPUCores = n
		}
	}
	if out, ok := run(cmdCPU); ok {
		s.CPUPercent = ParseCPU(out)
	}
	if out, ok := run(cmdMemory); ok {
		s.MemoryUsed, s.MemoryTotal, s.MemoryPercent = ParseUsage(out)
	}
	if out, ok := run(cmdDisk); ok {
		s.DiskUsed, s.DiskTotal, s.DiskPercent = ParseUsage(out)
	}
	s.CollectedAt = time.Now()
	return s, nil
}

// ParseCPU reads the user CPU figure from top, accepting a decimal comma.
func ParseCPU(out string) float64 {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(out), ",", "."), 64)
	if err != nil {
		return 0
	}
	return v
}

// ParseUsage reads a "used total" pair. The percentage is only computed when
// total is positive.
func ParseUsage(out string) (used, total int64, percent float64) {
	fields := strings.Fields(out)
	if len(fields) < 2 {
		return 0, 0, 0
	}
	if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
		used = v
	}
	if v, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
		total = v
	}
	if total > 0 {
		percent = float64(used) / float64(total) * 100
	}
	return used, total, percent
}
