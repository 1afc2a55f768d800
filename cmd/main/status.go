package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"drydock/internal/config"
	"drydock/internal/db"
	"drydock/internal/db/repositories"
	"drydock/internal/services"
)

var statusCmd = &cobra.Command{
	Use:   "status <owner-id>",
	Short: "Show sandbox and backup status for an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(args[0])
	},
}

// buildWorkspaceServices wires the service stack for one-shot CLI commands.
// The caller must Close the returned database.
func buildWorkspaceServices() (*services.WorkspaceSyncService, *services.BackupService, db.Database, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("run migrations: %w", err)
	}

	repos := repositories.New(database)

	backend, err := services.NewSandboxBackendFromConfig(cfg)
	if err != nil {
		database.Close()
		return nil, nil, nil, fmt.Errorf("initialize sandbox backend: %w", err)
	}

	sessions := services.NewSessionManager(backend, repos.SandboxAssignments)
	sessions.SetDefaultOptions(services.SessionOptions{
		Image:    cfg.Sandbox.Image,
		Workdir:  cfg.Sandbox.Workdir,
		MemoryMB: cfg.Sandbox.MemoryMB,
		CPUs:     cfg.Sandbox.CPUs,
	})

	backups := services.NewBackupService(repos.Backups)
	syncService := services.NewWorkspaceSyncService(sessions, backups, backend, nil, cfg.Sandbox.Enabled)
	return syncService, backups, database, nil
}

func runStatus(ownerID string) error {
	syncService, _, database, err := buildWorkspaceServices()
	if err != nil {
		return err
	}
	defer database.Close()

	status, err := syncService.Status(context.Background(), ownerID)
	if err != nil {
		return err
	}

	fmt.Printf("Owner:   %s\n", ownerID)
	fmt.Printf("Sandbox: %s\n", status.State)
	if status.SessionID != "" {
		fmt.Printf("Session: %s\n", status.SessionID)
	}
	if status.Backup != nil {
		fmt.Printf("Backup:  %d files, %d bytes, updated %s\n",
			status.Backup.FileCount, status.Backup.TotalSize,
			status.Backup.UpdatedAt.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Backup:  none")
	}
	return nil
}
