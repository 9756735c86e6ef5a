package handlers

import (
	"fmt"
	"net/http"
)

type tunnelRequest struct {
	Path string `json:"path"`
}

// StartTunnel forwards a local port to code-server on the host, starting
// code-server there when it is not already running.
func StartTunnel(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	var req tunnelRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if req.Path == "" {
		req.Path = "/root"
	}

	info, err := SSHMgr.StartTunnel(r.Context(), h.ID, req.Path)
	if err != nil {
		writeResult(w, errorStatus(err), false, err.Error())
		return
	}
	msg := fmt.Sprintf("Editor started on port %d", info.LocalPort)
	if info.Reused {
		msg = fmt.Sprintf("Connected to running editor on port %d", info.LocalPort)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": msg,
		"tunnel":  info,
	})
}

// StopTunnel closes the local forward. The remote code-server keeps running.
func StopTunnel(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	SSHMgr.StopTunnel(h.ID)
	writeResult(w, http.StatusOK, true, "Tunnel stopped")
}

func GetTunnelStatus(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	info, active := SSHMgr.TunnelStatus(h.ID)
	resp := map[string]interface{}{"active": active}
	if active {
		resp["tunnel"] = info
	}
	writeJSON(w, http.StatusOK, resp)
}
