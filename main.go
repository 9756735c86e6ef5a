package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pandasdroid/vps-management/internal/config"
	"github.com/pandasdroid/vps-management/internal/crypto"
	"github.com/pandasdroid/vps-management/internal/database"
	"github.com/pandasdroid/vps-management/internal/handlers"
	"github.com/pandasdroid/vps-management/internal/hoststore"
	"github.com/pandasdroid/vps-management/internal/logging"
	"github.com/pandasdroid/vps-management/internal/remotestats"
	"github.com/pandasdroid/vps-management/internal/sshaudit"
	"github.com/pandasdroid/vps-management/internal/sshmanager"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--export-hosts":
			runCLICommand("export-hosts")
			return
		case "--import-hosts":
			runCLICommand("import-hosts")
			return
		}
	}

	config.Load()
	logging.Init()
	defer logging.Close()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	box, err := crypto.LoadOrCreate(database.DB)
	if err != nil {
		log.Fatalf("Credential key init: %v", err)
	}
	store := hoststore.New(database.DB, box)
	handlers.Hosts = store

	sshMgr := sshmanager.NewSSHManager(sshmanager.Options{
		ConnectTimeout: config.Cfg.ConnectTimeout,
		CommandTimeout: config.Cfg.CommandTimeout,
		KnownHostsPath: config.Cfg.KnownHostsPath,
		RateLimit:      sshmanager.DefaultRateLimitConfig(),
		Tunnel: sshmanager.TunnelOptions{
			ReadyAttempts: config.Cfg.TunnelReadyAttempts,
			ReadyInterval: config.Cfg.TunnelReadyInterval,
		},
		OnHostKey: func(key, fingerprint string) {
			if err := store.SetFingerprint(key, fingerprint); err != nil {
				log.Printf("[hosts] pin host key for %s: %v", key, err)
			}
		},
	})
	handlers.SSHMgr = sshMgr
	log.Printf("SSH manager initialized (connect timeout %s, command timeout %s)", config.Cfg.ConnectTimeout, config.Cfg.CommandTimeout)

	auditor := sshaudit.NewAuditor(database.DB, config.Cfg.AuditRetentionDays)
	auditor.Attach(sshMgr)
	handlers.Auditor = auditor

	poller, err := remotestats.NewPoller(sshMgr, sshMgr.Keys, config.Cfg.StatsSchedule)
	if err != nil {
		log.Fatalf("Stats poller: %v", err)
	}
	poller.Start()
	handlers.Stats = poller

	jobs, err := startMaintenanceJobs(auditor)
	if err != nil {
		log.Fatalf("Maintenance jobs: %v", err)
	}

	r := handlers.NewRouter()

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	<-jobs.Stop().Done()
	poller.Stop()
	sshMgr.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	file := fs.String("file", "", "Path of the hosts document")
	format := fs.String("format", "", "json or yaml (default: from the file extension)")
	fs.Parse(os.Args[2:])

	if *file == "" {
		fmt.Fprintf(os.Stderr, "Usage: vps-management --%s --file <path> [--format json|yaml]\n", command)
		os.Exit(1)
	}
	if *format == "" {
		*format = strings.TrimPrefix(filepath.Ext(*file), ".")
	}

	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	box, err := crypto.LoadOrCreate(database.DB)
	if err != nil {
		log.Fatalf("Credential key init: %v", err)
	}
	store := hoststore.New(database.DB, box)

	switch command {
	case "export-hosts":
		data, err := store.Export(*format)
		if err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		if err := os.WriteFile(*file, data, 0600); err != nil {
			log.Fatalf("Write %s: %v", *file, err)
		}
		fmt.Printf("Hosts exported to '%s'.\n", *file)

	case "import-hosts":
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("Read %s: %v", *file, err)
		}
		n, err := store.Import(data, *format)
		if err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		fmt.Printf("Imported %d hosts from '%s'.\n", n, *file)
	}
}
