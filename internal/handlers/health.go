package handlers

import (
	"net/http"

	"github.com/pandasdroid/vps-management/internal/database"
	"github.com/pandasdroid/vps-management/internal/logging"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	sessions := 0
	if SSHMgr != nil {
		sessions = len(SSHMgr.Keys())
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"database": dbStatus,
		"sessions": sessions,
	})
}

// GetServerLogs returns the tail of this server's own log file.
func GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := queryInt(r, "lines", 200)
	if lines <= 0 {
		lines = 200
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}
