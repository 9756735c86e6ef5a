package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/coder/websocket"

	"github.com/pandasdroid/vps-management/internal/config"
	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/remotefiles"
	"github.com/pandasdroid/vps-management/internal/sshterminal"
)

const defaultTerminalMaxInput = 65536

type termMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

var defaultOrigins = []string{"localhost", "localhost:*", "127.0.0.1", "127.0.0.1:*"}

func terminalOrigins() []string {
	if len(config.Cfg.AllowedOrigins) > 0 {
		return config.Cfg.AllowedOrigins
	}
	return defaultOrigins
}

func terminalMaxInput() int {
	if n := config.Cfg.TerminalMaxInput; n > 0 {
		return n
	}
	return defaultTerminalMaxInput
}

// TerminalWS bridges a websocket to the host's interactive shell.
//
// Binary messages are raw keyboard input. Text messages are JSON:
// {"type":"input","data":"..."} or {"type":"resize","cols":N,"rows":N}.
// Shell output is sent as text messages. Opening a terminal replaces any
// shell already running for the host.
func TerminalWS(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: terminalOrigins(),
	})
	if err != nil {
		log.Printf("[api] accept terminal websocket: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1024 * 1024)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	onData := func(text string) {
		if err := conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
			cancel()
		}
	}
	if err := SSHMgr.StartShell(ctx, h.ID, onData); err != nil {
		log.Printf("[api] start shell for %s: %v", logutil.SanitizeForLog(displayName(h)), err)
		conn.Close(4503, "Not connected")
		return
	}
	done, ok := SSHMgr.ShellDone(h.ID)
	if !ok {
		conn.Close(4500, "Shell unavailable")
		return
	}
	defer func() {
		// a newer terminal may have replaced this shell
		if current, ok := SSHMgr.ShellDone(h.ID); ok && current == done {
			SSHMgr.StopShell(h.ID)
		}
	}()

	go func() {
		select {
		case <-done:
			conn.Close(websocket.StatusNormalClosure, "Shell exited")
			cancel()
		case <-ctx.Done():
		}
	}()

	limiter := sshterminal.NewRateLimiter(sshterminal.MessageRateLimit, sshterminal.MessageRateBurst)
	maxInput := terminalMaxInput()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if !limiter.Allow() {
			continue
		}
		if len(data) > maxInput {
			log.Printf("[shell] dropped %d byte input for %s (limit %d)", len(data), logutil.SanitizeForLog(h.ID), maxInput)
			continue
		}

		if msgType == websocket.MessageBinary {
			if err := SSHMgr.WriteToShell(h.ID, string(data)); err != nil {
				return
			}
			continue
		}

		var msg termMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "input":
			if err := SSHMgr.WriteToShell(h.ID, msg.Data); err != nil {
				return
			}
		case "resize":
			if err := SSHMgr.ResizeShell(h.ID, msg.Cols, msg.Rows); err != nil {
				log.Printf("[shell] resize %s: %v", logutil.SanitizeForLog(h.ID), err)
			}
		}
	}
}

// TerminalChangeDir moves the running shell into a directory, for opening a
// terminal at a location picked in the file browser.
func TerminalChangeDir(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	var req pathRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if _, running := SSHMgr.ShellDone(h.ID); !running {
		writeResult(w, http.StatusConflict, false, "No shell is running")
		return
	}
	if err := SSHMgr.WriteToShell(h.ID, remotefiles.ChangeDirCommand(req.Path)); err != nil {
		writeResult(w, errorStatus(err), false, err.Error())
		return
	}
	writeResult(w, http.StatusOK, true, "Changed directory")
}
