package models

import (
	"time"
)

// BackupFile is a single file captured in a workspace backup. Content is the
// full payload, not a diff.
type BackupFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WorkspaceBackup is the durable mirror of an owner's sandbox filesystem.
// One backup exists per owner at most.
type WorkspaceBackup struct {
	OwnerID   string       `json:"owner_id" db:"owner_id"`
	Files     []BackupFile `json:"files"`
	FileCount int          `json:"file_count" db:"file_count"`
	TotalSize int64        `json:"total_size" db:"total_size"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// BackupInfo is the metadata-only view of a backup. Reading it never
// deserializes file contents.
type BackupInfo struct {
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	FileCount int       `json:"file_count" db:"file_count"`
	TotalSize int64     `json:"total_size" db:"total_size"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BackupTreeEntry is one node of a backup rendered as a file tree.
// Directories are inferred from file paths and carry no size.
type BackupTreeEntry struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	IsDirectory bool   `json:"is_directory"`
}

// SandboxAssignment maps an owner to the provider-issued session id last
// known to be theirs. The row is deleted when the session is invalidated.
type SandboxAssignment struct {
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	SessionID string    `json:"session_id" db:"session_id"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
