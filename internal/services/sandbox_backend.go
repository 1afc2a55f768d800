package services

import (
	"context"
)

// SandboxBackend abstracts the sandbox provider. Implementations include
// MachinesBackend (remote ephemeral machines API) and DockerBackend (local
// development). Any method may fail because the provider paused or expired
// the session; callers classify that through IsUnavailableSessionError.
type SandboxBackend interface {
	// Session lifecycle
	CreateSession(ctx context.Context, opts SessionOptions) (*Session, error)
	// AttachSession re-binds to a previously issued session id, e.g. after
	// a process restart. Returns an unavailable-session error when the
	// provider no longer has a live session under that id.
	AttachSession(ctx context.Context, sessionID string) (*Session, error)
	DestroySession(ctx context.Context, sessionID string) error

	// Execution
	Exec(ctx context.Context, sessionID string, req ExecRequest) (*ExecResult, error)

	// Filesystem operations, paths relative to the session workdir
	WriteFile(ctx context.Context, sessionID, path string, content []byte) error
	ReadFile(ctx context.Context, sessionID, path string) ([]byte, error)
	DeleteFile(ctx context.Context, sessionID, path string) error
	MakeDir(ctx context.Context, sessionID, path string) error
	ListTree(ctx context.Context, sessionID string) ([]FileEntry, error)

	// Health check
	Ping(ctx context.Context) error
}
