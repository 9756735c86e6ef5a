package handlers

import (
	"net/http"
)

// GetStats returns the latest polled snapshot, collecting one on demand
// when none is cached or refresh=true is passed.
func GetStats(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	if Stats == nil {
		writeError(w, http.StatusServiceUnavailable, "Stats poller not initialized")
		return
	}

	if r.URL.Query().Get("refresh") != "true" {
		if snap, ok := Stats.Latest(h.ID); ok {
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}
	snap, err := Stats.Refresh(r.Context(), h.ID)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
