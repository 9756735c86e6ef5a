package sshmanager

import (
	"context"

	"github.com/pandasdroid/vps-management/internal/sshlogs"
)

// StreamLog tails path on key's host over the command channel.
func (m *SSHManager) StreamLog(ctx context.Context, key, path string, tail int, follow bool) (<-chan string, error) {
	s, err := m.live(key)
	if err != nil {
		return nil, err
	}
	return sshlogs.StreamLogs(ctx, s.client, path, tail, follow)
}

// LogFiles lists the standard log files present on key's host.
func (m *SSHManager) LogFiles(key string) ([]string, error) {
	s, err := m.live(key)
	if err != nil {
		return nil, err
	}
	return sshlogs.AvailableLogFiles(s.client)
}
