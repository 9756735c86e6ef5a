package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8000"`

	// Browser origins allowed to open the terminal websocket, host[:port]
	// patterns as accepted by coder/websocket.
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"localhost,localhost:*,127.0.0.1,127.0.0.1:*"`

	// SSH session settings
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"30s"`
	KnownHostsPath string        `envconfig:"KNOWN_HOSTS_PATH" default:""`

	// Stats poller, cron spec understood by robfig/cron
	StatsSchedule string `envconfig:"STATS_SCHEDULE" default:"@every 5s"`

	// Remote editor tunnel
	TunnelReadyAttempts int           `envconfig:"TUNNEL_READY_ATTEMPTS" default:"30"`
	TunnelReadyInterval time.Duration `envconfig:"TUNNEL_READY_INTERVAL" default:"1s"`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	TerminalMaxInput   int `envconfig:"TERMINAL_MAX_INPUT" default:"65536"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("VPSM", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	Cfg.applyDerived()
}

// applyDerived fills paths that default to locations under DataPath.
func (s *Settings) applyDerived() {
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "vps-management.db")
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "vps-management.log")
	}
}
