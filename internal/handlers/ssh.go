package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/remotecmd"
	"github.com/pandasdroid/vps-management/internal/sshmanager"
)

const (
	maxExecTimeout = 10 * time.Minute
	powerTimeout   = 15 * time.Second
)

// TestHost dials the stored host without registering a session and runs
// hostname.
func TestHost(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	rec, err := Hosts.Record(h.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	start := time.Now()
	success, message := SSHMgr.TestConnection(r.Context(), rec)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    success,
		"message":    message,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// ConnectHost opens a session, replacing any existing one for the host.
func ConnectHost(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	rec, err := Hosts.Record(h.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := SSHMgr.Connect(r.Context(), rec); err != nil {
		writeResult(w, errorStatus(err), false, err.Error())
		return
	}
	writeResult(w, http.StatusOK, true, fmt.Sprintf("Connected to %s", rec.DisplayName()))
}

func DisconnectHost(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	results := SSHMgr.Disconnect(h.ID)
	if Stats != nil {
		Stats.Forget(h.ID)
	}

	steps := make([]map[string]string, 0, len(results))
	for _, res := range results {
		step := map[string]string{"step": res.Step, "status": "ok"}
		if res.Err != nil {
			step["status"] = res.Err.Error()
		}
		steps = append(steps, step)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Disconnected from %s", displayName(h)),
		"steps":   steps,
	})
}

// GetHostStatus reports the live connection check together with the state
// history and recent events for the host.
func GetHostStatus(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	resp := map[string]interface{}{
		"connected":   SSHMgr.IsConnected(h.ID),
		"state":       SSHMgr.GetConnectionState(h.ID),
		"transitions": SSHMgr.GetStateTransitions(h.ID),
		"events":      SSHMgr.GetEvents(h.ID),
	}
	if info, ok := SSHMgr.Session(h.ID); ok {
		resp["session"] = info
	}
	if t, ok := SSHMgr.TunnelStatus(h.ID); ok {
		resp["tunnel"] = t
	}
	writeJSON(w, http.StatusOK, resp)
}

type execRequest struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ExecCommand runs one command and returns its output. A non-zero exit
// status still counts as success.
func ExecCommand(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	var req execRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	SSHMgr.LogEvent(h.ID, sshmanager.EventCommand, logutil.Truncate(req.Command, 200))

	var out string
	var err error
	if req.TimeoutSeconds > 0 {
		timeout := time.Duration(req.TimeoutSeconds) * time.Second
		if timeout > maxExecTimeout {
			timeout = maxExecTimeout
		}
		out, err = SSHMgr.ExecuteWithTimeout(r.Context(), h.ID, req.Command, timeout)
	} else {
		out, err = SSHMgr.Execute(r.Context(), h.ID, req.Command)
	}
	if err != nil {
		writeResult(w, errorStatus(err), false, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"output":  out,
	})
}

type powerRequest struct {
	Password string `json:"password"`
}

// PowerAction reboots or shuts down the host through sudo, then drops the
// session. The sudo password defaults to the stored login password.
func PowerAction(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	action := chi.URLParam(r, "action")

	var req powerRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.Password == "" {
		rec, err := Hosts.Record(h.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		req.Password = rec.Password
	}

	var cmd string
	switch action {
	case "reboot":
		cmd = remotecmd.Reboot(req.Password)
	case "shutdown":
		cmd = remotecmd.Shutdown(req.Password)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown power action: %s", action))
		return
	}

	SSHMgr.LogEvent(h.ID, sshmanager.EventCommand, "power "+action)
	out, err := SSHMgr.ExecuteWithTimeout(r.Context(), h.ID, cmd, powerTimeout)
	if err != nil && !errors.Is(err, sshmanager.ErrTimeout) {
		writeResult(w, errorStatus(err), false, fmt.Sprintf("%s failed: %v", action, err))
		return
	}
	if remotecmd.PasswordRejected(out) {
		writeResult(w, http.StatusForbidden, false, fmt.Sprintf("%s failed: incorrect password", action))
		return
	}

	SSHMgr.Disconnect(h.ID)
	if Stats != nil {
		Stats.Forget(h.ID)
	}
	log.Printf("[api] %s sent to %s", action, logutil.SanitizeForLog(displayName(h)))
	writeResult(w, http.StatusOK, true, fmt.Sprintf("%s command sent", strings.ToUpper(action[:1])+action[1:]))
}
