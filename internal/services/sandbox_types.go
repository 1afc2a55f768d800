package services

import (
	"time"
)

// Session represents a live remote sandbox bound to an owner. The ID is
// issued by the provider and is the only handle needed to re-attach.
type Session struct {
	ID         string            // Provider-issued session id
	OwnerID    string            // Owner this sandbox belongs to
	Image      string            // Container image
	Workdir    string            // Working directory inside the sandbox
	Env        map[string]string // Environment variables
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// SessionOptions configures a new sandbox session
type SessionOptions struct {
	OwnerID  string
	Image    string            // Container image (default from backend config)
	Workdir  string            // Working directory (default: "/workspace")
	Env      map[string]string // Environment variables
	MemoryMB int
	CPUs     int
}

// ExecRequest defines a command to execute in a sandbox
type ExecRequest struct {
	Cmd            []string          // Command and arguments
	Cwd            string            // Working directory (default: session workdir)
	Env            map[string]string // Additional environment variables
	TimeoutSeconds int               // Execution timeout (0 = backend default)
}

// ExecResult contains the result of a completed execution
type ExecResult struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	Truncated bool
}

// FileEntry represents a file or directory in the sandbox filesystem,
// relative to the workspace root.
type FileEntry struct {
	Path  string
	IsDir bool
	Size  int64
}

// SeedFile is a file written into a freshly created sandbox during
// restoration from backup.
type SeedFile struct {
	Path    string
	Content string
}
