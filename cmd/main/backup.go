package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup <owner-id>",
	Short: "Take an immediate backup of an owner's sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBackup(args[0])
	},
}

func runBackup(ownerID string) error {
	syncService, backups, database, err := buildWorkspaceServices()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	files, err := syncService.SnapshotSandbox(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("snapshot sandbox: %w", err)
	}
	if err := backups.Write(ctx, ownerID, files); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	fmt.Printf("Backed up %d files for %s\n", len(files), ownerID)
	return nil
}
