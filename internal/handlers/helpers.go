package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pandasdroid/vps-management/internal/codeserver"
	"github.com/pandasdroid/vps-management/internal/database"
	"github.com/pandasdroid/vps-management/internal/hoststore"
	"github.com/pandasdroid/vps-management/internal/sshmanager"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeResult answers a mutation.
func writeResult(w http.ResponseWriter, status int, success bool, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": success,
		"message": message,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return false
	}
	return true
}

// loadHost resolves the {id} URL parameter, writing 404 when it is unknown.
func loadHost(w http.ResponseWriter, r *http.Request) (database.Host, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Invalid host ID")
		return database.Host{}, false
	}
	if Hosts == nil || SSHMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Server not initialized")
		return database.Host{}, false
	}
	h, err := Hosts.Get(id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return database.Host{}, false
	}
	return h, true
}

// errorStatus maps domain errors to HTTP status codes.
func errorStatus(err error) int {
	var startup *codeserver.StartupError
	switch {
	case errors.Is(err, hoststore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, sshmanager.ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, sshmanager.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, sshmanager.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, sshmanager.ErrAuthFailure), errors.Is(err, sshmanager.ErrHostKeyMismatch):
		return http.StatusBadGateway
	case errors.Is(err, codeserver.ErrServiceMissing):
		return http.StatusFailedDependency
	case errors.As(err, &startup):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
