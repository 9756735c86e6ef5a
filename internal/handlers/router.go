package handlers

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pandasdroid/vps-management/internal/hoststore"
	"github.com/pandasdroid/vps-management/internal/remotestats"
	"github.com/pandasdroid/vps-management/internal/sshaudit"
	"github.com/pandasdroid/vps-management/internal/sshmanager"
)

// Set from main.go during init.
var (
	SSHMgr  *sshmanager.SSHManager
	Hosts   *hoststore.Store
	Stats   *remotestats.Poller
	Auditor *sshaudit.Auditor
)

// NewRouter builds the HTTP API.
func NewRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/logs", GetServerLogs)
		r.Get("/audit", GetAuditLogs)

		r.Get("/hosts", ListHosts)
		r.Post("/hosts", CreateHost)
		r.Get("/hosts/export", ExportHosts)
		r.Post("/hosts/import", ImportHosts)

		r.Route("/hosts/{id}", func(r chi.Router) {
			r.Get("/", GetHost)
			r.Put("/", UpdateHost)
			r.Delete("/", DeleteHost)

			r.Post("/test", TestHost)
			r.Post("/connect", ConnectHost)
			r.Post("/disconnect", DisconnectHost)
			r.Get("/status", GetHostStatus)
			r.Post("/exec", ExecCommand)
			r.Post("/power/{action}", PowerAction)
			r.Get("/stats", GetStats)
			r.Get("/audit", GetAuditLogs)

			r.Get("/logs", StreamRemoteLogs)
			r.Get("/logs/files", ListRemoteLogFiles)

			r.Get("/files", ListFiles)
			r.Get("/files/read", ReadFile)
			r.Put("/files/write", WriteFile)
			r.Get("/files/download", DownloadFile)
			r.Post("/files/upload", UploadFile)
			r.Get("/files/attributes", GetFileAttributes)
			r.Post("/files/delete", DeleteFile)
			r.Post("/files/mkdir", MakeDirectory)
			r.Post("/files/rename", RenameFile)
			r.Post("/files/chmod", ChangeMode)

			r.Get("/terminal", TerminalWS)
			r.Post("/terminal/cd", TerminalChangeDir)

			r.Get("/tunnel", GetTunnelStatus)
			r.Post("/tunnel", StartTunnel)
			r.Delete("/tunnel", StopTunnel)
		})
	})
	return r
}
