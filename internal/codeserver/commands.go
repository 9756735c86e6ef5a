package codeserver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pandasdroid/vps-management/internal/remotecmd"
)

const (
	dataDir      = "~/.code-server/data"
	extDir       = "~/.code-server/extensions"
	settingsPath = "~/.code-server/data/User/settings.json"
)

// candidatePaths are checked in order before falling back to PATH.
var candidatePaths = []string{
	"/usr/bin/code-server",
	"/usr/local/bin/code-server",
	"/snap/bin/code-server",
	"$HOME/.local/bin/code-server",
}

// DefaultSettings is written on first run only.
var DefaultSettings = map[string]any{
	"workbench.startupEditor": "none",
	"window.restoreWindows":   "all",
	"workbench.colorTheme":    "Default Dark Modern",
	"editor.fontSize":         14,
	"editor.wordWrap":         "on",
	"files.autoSave":          "afterDelay",
	"files.autoSaveDelay":     1000,
}

func discoverCommand() string {
	cmd := "for p in"
	for _, p := range candidatePaths {
		cmd += " " + p
	}
	cmd += `; do if [ -x "$p" ]; then echo "$p"; exit 0; fi; done; which code-server 2>/dev/null || echo 'not found'`
	return cmd
}

func ensureDirsCommand() string {
	return fmt.Sprintf("mkdir -p %s/User %s", dataDir, extDir)
}

func settingsExistsCommand() string {
	return fmt.Sprintf("test -f %s && echo exists || echo missing", settingsPath)
}

func writeSettingsCommand() (string, error) {
	data, err := json.MarshalIndent(DefaultSettings, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal default settings: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return fmt.Sprintf("echo %s | base64 -d > %s", remotecmd.Quote(encoded), settingsPath), nil
}

func probeCommand(port int) string {
	return fmt.Sprintf("curl -s -o /dev/null -w '%%{http_code}' http://127.0.0.1:%d/ 2>/dev/null || echo '000'", port)
}

// portPattern matches code-server processes bound to port, and not to a
// longer port sharing its digits. The bracket keeps the pattern from
// matching the shell that runs pkill or pgrep.
func portPattern(port int) string {
	return remotecmd.Quote(fmt.Sprintf("[c]ode-server.*--port %d( |$)", port))
}

func killCommand(port int) string {
	return fmt.Sprintf("pkill -f %s 2>/dev/null; sleep 1", portPattern(port))
}

func aliveCommand(port int) string {
	return fmt.Sprintf("pgrep -f %s > /dev/null && echo alive || echo dead", portPattern(port))
}

// LogPath is the remote file code-server output goes to.
func LogPath(port int) string {
	return fmt.Sprintf("/tmp/code-server-%d.log", port)
}

func launchCommand(binary string, port int, folder string) string {
	return fmt.Sprintf("nohup %s --port %d --auth none --bind-addr 127.0.0.1:%d --user-data-dir %s --extensions-dir %s %s < /dev/null > %s 2>&1 & echo $!",
		remotecmd.Quote(binary), port, port, dataDir, extDir, remotecmd.Quote(folder), LogPath(port))
}

func pidRunningCommand(pid string) string {
	return fmt.Sprintf("ps -p %s > /dev/null 2>&1 && echo running || echo stopped", pid)
}

func logCommand(port int) string {
	return fmt.Sprintf("cat %s 2>/dev/null", LogPath(port))
}

func logTailCommand(port int) string {
	return fmt.Sprintf("tail -30 %s 2>/dev/null", LogPath(port))
}
