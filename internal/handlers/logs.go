package handlers

import (
	"fmt"
	"log"
	"net/http"

	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/sshlogs"
)

// StreamRemoteLogs tails a log file on the host as server-sent events.
//
// Query parameters:
//
//	log_type - system (default), auth, kernel, dpkg or nginx
//	path     - absolute file path, overrides log_type
//	tail     - lines of backlog (default 100)
//	follow   - "false" to stop at the end of the file
func StreamRemoteLogs(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}

	tail := queryInt(r, "tail", sshlogs.DefaultTail)
	follow := r.URL.Query().Get("follow") != "false"

	logPath := r.URL.Query().Get("path")
	if logPath == "" {
		logType := sshlogs.LogType(r.URL.Query().Get("log_type"))
		if logType == "" {
			logType = sshlogs.LogTypeSystem
		}
		var known bool
		if logPath, known = sshlogs.ResolveLogPath(logType); !known {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown log type: %s", logType))
			return
		}
	}
	if err := sshlogs.ValidatePath(logPath); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	ch, err := SSHMgr.StreamLog(r.Context(), h.ID, logPath, tail, follow)
	if err != nil {
		log.Printf("[api] stream %s on %s: %v", logutil.SanitizeForLog(logPath), logutil.SanitizeForLog(displayName(h)), err)
		writeError(w, errorStatus(err), fmt.Sprintf("Failed to stream logs: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", line)
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

// ListRemoteLogFiles reports which standard log files exist on the host.
func ListRemoteLogFiles(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	files, err := SSHMgr.LogFiles(h.ID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
}
