package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"drydock/internal/api"
	"drydock/internal/config"
	"drydock/internal/db"
	"drydock/internal/db/repositories"
	"drydock/internal/logging"
	"drydock/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the drydock workspace server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	repos := repositories.New(database)

	backend, err := services.NewSandboxBackendFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("initialize sandbox backend: %w", err)
	}

	sessions := services.NewSessionManager(backend, repos.SandboxAssignments)
	sessions.SetDefaultOptions(services.SessionOptions{
		Image:    cfg.Sandbox.Image,
		Workdir:  cfg.Sandbox.Workdir,
		MemoryMB: cfg.Sandbox.MemoryMB,
		CPUs:     cfg.Sandbox.CPUs,
	})
	defer sessions.ShutdownAll()

	backups := services.NewBackupService(repos.Backups)
	if cfg.Backup.MaxFiles > 0 {
		backups.MaxFiles = cfg.Backup.MaxFiles
	}
	if cfg.Backup.MaxBytes > 0 {
		backups.MaxBytes = cfg.Backup.MaxBytes
	}

	syncService := services.NewWorkspaceSyncService(sessions, backups, backend, nil, cfg.Sandbox.Enabled)

	scheduler := services.NewBackupScheduler(syncService, backups, cfg.Backup.Interval)
	scheduler.Run()
	defer scheduler.ShutdownAll()

	watcher := services.NewWatcherService(cfg.Watcher.Debounce)
	defer watcher.ShutdownAll()

	apiServer := api.New(cfg, database, syncService, backups, scheduler, watcher, sessions)

	// Cancel the server context on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info("received %s, shutting down", sig)
		cancel()
	}()

	return apiServer.Start(ctx)
}
