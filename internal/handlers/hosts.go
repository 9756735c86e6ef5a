package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pandasdroid/vps-management/internal/database"
	"github.com/pandasdroid/vps-management/internal/hoststore"
	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/sshmanager"
)

const maxImportBody = 10 << 20

type hostView struct {
	database.Host
	State sshmanager.ConnectionState `json:"state"`
}

func viewOf(h database.Host) hostView {
	return hostView{Host: h, State: SSHMgr.GetConnectionState(h.ID)}
}

func ListHosts(w http.ResponseWriter, r *http.Request) {
	if Hosts == nil || SSHMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Server not initialized")
		return
	}
	hosts, err := Hosts.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]hostView, 0, len(hosts))
	for _, h := range hosts {
		views = append(views, viewOf(h))
	}
	writeJSON(w, http.StatusOK, views)
}

func GetHost(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(h))
}

func CreateHost(w http.ResponseWriter, r *http.Request) {
	if Hosts == nil || SSHMgr == nil {
		writeError(w, http.StatusServiceUnavailable, "Server not initialized")
		return
	}
	var in hoststore.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	h, err := Hosts.Create(in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(h))
}

// UpdateHost edits a profile. Empty secret fields keep the stored values;
// the change applies on the next connect.
func UpdateHost(w http.ResponseWriter, r *http.Request) {
	if _, ok := loadHost(w, r); !ok {
		return
	}
	var in hoststore.Input
	if !decodeJSON(w, r, &in) {
		return
	}
	h, err := Hosts.Update(chi.URLParam(r, "id"), in)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, hoststore.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(h))
}

// DeleteHost disconnects the host and removes its profile, cached stats and
// audit history.
func DeleteHost(w http.ResponseWriter, r *http.Request) {
	h, ok := loadHost(w, r)
	if !ok {
		return
	}
	SSHMgr.Disconnect(h.ID)
	if Stats != nil {
		Stats.Forget(h.ID)
	}
	if err := Hosts.Delete(h.ID); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if Auditor != nil {
		if err := Auditor.DeleteHost(h.ID); err != nil {
			log.Printf("[api] delete audit history for %s: %v", logutil.SanitizeForLog(h.ID), err)
		}
	}
	writeResult(w, http.StatusOK, true, fmt.Sprintf("Deleted %s", displayName(h)))
}

// ExportHosts downloads every profile with plaintext credentials.
//
// Query parameters:
//
//	format - json (default) or yaml
func ExportHosts(w http.ResponseWriter, r *http.Request) {
	if Hosts == nil {
		writeError(w, http.StatusServiceUnavailable, "Server not initialized")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	data, err := Hosts.Export(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	contentType := "application/json"
	ext := "json"
	if format != "json" {
		contentType = "application/yaml"
		ext = "yaml"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="hosts.%s"`, ext))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportHosts creates a profile for every host in the uploaded document.
// The format comes from the format query parameter, then the Content-Type.
func ImportHosts(w http.ResponseWriter, r *http.Request) {
	if Hosts == nil {
		writeError(w, http.StatusServiceUnavailable, "Server not initialized")
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Read body: %v", err))
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
		if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
			format = "yaml"
		}
	}
	n, err := Hosts.Import(data, format)
	if err != nil {
		writeResult(w, http.StatusBadRequest, false, err.Error())
		return
	}
	writeResult(w, http.StatusOK, true, fmt.Sprintf("Imported %d hosts", n))
}

func displayName(h database.Host) string {
	if h.Name != "" {
		return h.Name
	}
	return h.Address
}
