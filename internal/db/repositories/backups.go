package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"drydock/pkg/models"
)

// BackupRepo persists workspace backups. The file list is stored as a JSON
// payload; file_count and total_size are stored redundantly so metadata
// queries never parse the payload.
type BackupRepo struct {
	db *sql.DB
}

func NewBackupRepo(db *sql.DB) *BackupRepo {
	return &BackupRepo{db: db}
}

// Write replaces the owner's backup wholesale. The original created_at is
// preserved when a row already exists; an empty file list is a valid backup
// and is distinct from no backup at all.
func (r *BackupRepo) Write(ctx context.Context, ownerID string, files []models.BackupFile) error {
	if files == nil {
		files = []models.BackupFile{}
	}

	payload, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("marshal backup files: %w", err)
	}

	var totalSize int64
	for _, f := range files {
		totalSize += int64(len(f.Content))
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workspace_backups (owner_id, files, file_count, total_size, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			files = excluded.files,
			file_count = excluded.file_count,
			total_size = excluded.total_size,
			updated_at = excluded.updated_at`,
		ownerID, string(payload), len(files), totalSize, now, now)
	if err != nil {
		return fmt.Errorf("write backup for %s: %w", ownerID, err)
	}

	return nil
}

// Read returns the owner's backup with its full file list, or nil if no
// backup exists.
func (r *BackupRepo) Read(ctx context.Context, ownerID string) (*models.WorkspaceBackup, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT owner_id, files, file_count, total_size, created_at, updated_at
		FROM workspace_backups WHERE owner_id = ?`, ownerID)

	var backup models.WorkspaceBackup
	var payload string
	err := row.Scan(&backup.OwnerID, &payload, &backup.FileCount, &backup.TotalSize, &backup.CreatedAt, &backup.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup for %s: %w", ownerID, err)
	}

	if err := json.Unmarshal([]byte(payload), &backup.Files); err != nil {
		return nil, fmt.Errorf("unmarshal backup files for %s: %w", ownerID, err)
	}
	if backup.Files == nil {
		backup.Files = []models.BackupFile{}
	}

	return &backup, nil
}

// ReadInfo returns backup metadata without touching the file payload, or nil
// if no backup exists.
func (r *BackupRepo) ReadInfo(ctx context.Context, ownerID string) (*models.BackupInfo, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT owner_id, file_count, total_size, created_at, updated_at
		FROM workspace_backups WHERE owner_id = ?`, ownerID)

	var info models.BackupInfo
	err := row.Scan(&info.OwnerID, &info.FileCount, &info.TotalSize, &info.CreatedAt, &info.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup info for %s: %w", ownerID, err)
	}

	return &info, nil
}

// Delete removes the owner's backup. Deleting a missing backup is not an
// error; the returned bool reports whether a row existed.
func (r *BackupRepo) Delete(ctx context.Context, ownerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workspace_backups WHERE owner_id = ?`, ownerID)
	if err != nil {
		return false, fmt.Errorf("delete backup for %s: %w", ownerID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
