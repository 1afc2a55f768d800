package services

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"drydock/internal/logging"
	"drydock/pkg/models"
)

// WorkspaceSyncService moves files between local disk, the remote sandbox,
// and the backup store. Every sandbox-touching operation goes through
// withSession, the single place that implements the
// invalidate/recreate/restore/retry-once policy.
//
// The service provides no per-owner ordering for its operations; callers
// that must not interleave two bulk operations against the same owner
// serialize at the call site.
type WorkspaceSyncService struct {
	sessions *SessionManager
	backups  *BackupService
	backend  SandboxBackend
	fs       afero.Fs
	enabled  bool
}

// SyncResult reports per-file outcomes of a bulk operation. Errored counts
// files that failed without aborting the walk.
type SyncResult struct {
	Uploaded   int `json:"uploaded"`
	Downloaded int `json:"downloaded"`
	Errored    int `json:"errored"`
}

// SandboxState is the coarse condition reported by Status.
type SandboxState string

const (
	SandboxStateDisabled    SandboxState = "disabled"
	SandboxStateNone        SandboxState = "none"
	SandboxStateLive        SandboxState = "live"
	SandboxStateUnavailable SandboxState = "unavailable"
)

// SandboxStatus distinguishes "feature not enabled", "enabled but no
// session yet", "session live", and "session unavailable but a backup
// exists to recover from".
type SandboxStatus struct {
	State           SandboxState       `json:"state"`
	SessionID       string             `json:"session_id,omitempty"`
	BackupAvailable bool               `json:"backup_available"`
	Backup          *models.BackupInfo `json:"backup,omitempty"`
}

func NewWorkspaceSyncService(sessions *SessionManager, backups *BackupService, backend SandboxBackend, fs afero.Fs, enabled bool) *WorkspaceSyncService {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &WorkspaceSyncService{
		sessions: sessions,
		backups:  backups,
		backend:  backend,
		fs:       fs,
		enabled:  enabled,
	}
}

// withSession resolves the owner's session and runs op against it. When op
// fails with an unavailable-session error the session is discarded, the
// persisted id cleared, a fresh session created and seeded from the latest
// backup, and op retried exactly once. Any failure on the retry is
// terminal. Errors of any other kind are returned as-is.
func (s *WorkspaceSyncService) withSession(ctx context.Context, ownerID string, op func(ctx context.Context, session *Session) error) error {
	if !s.enabled {
		return ErrSandboxDisabled
	}

	session, err := s.resolveSession(ctx, ownerID)
	if err != nil {
		return err
	}

	err = op(ctx, session)
	if err == nil || !IsUnavailableSessionError(err) {
		return err
	}

	logging.Info("session %s for %s unavailable, recreating from backup: %v", session.ID, ownerID, err)

	if err := s.sessions.Invalidate(ctx, ownerID); err != nil {
		return err
	}

	session, err = s.resolveSession(ctx, ownerID)
	if err != nil {
		return err
	}

	return op(ctx, session)
}

// resolveSession returns the cached session when present; otherwise it
// loads the owner's backup and gets-or-creates a session seeded with it, so
// a recreated sandbox always starts from the last durable state.
func (s *WorkspaceSyncService) resolveSession(ctx context.Context, ownerID string) (*Session, error) {
	if cached := s.sessions.CachedSession(ownerID); cached != nil {
		return cached, nil
	}

	var seed []SeedFile
	backup, err := s.backups.Read(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if backup != nil {
		seed = make([]SeedFile, 0, len(backup.Files))
		for _, f := range backup.Files {
			seed = append(seed, SeedFile{Path: f.Path, Content: f.Content})
		}
	}

	session, _, err := s.sessions.GetOrCreateSession(ctx, ownerID, seed)
	return session, err
}

// ListFiles lists the sandbox workspace recursively, skipping hidden and
// dependency directories. A listing interrupted by an unavailable session
// is redone from scratch on the recreated session.
func (s *WorkspaceSyncService) ListFiles(ctx context.Context, ownerID string) ([]FileEntry, error) {
	var entries []FileEntry
	err := s.withSession(ctx, ownerID, func(ctx context.Context, session *Session) error {
		raw, err := s.backend.ListTree(ctx, session.ID)
		if err != nil {
			return err
		}

		entries = entries[:0] // discard partial results from a failed attempt
		for _, e := range raw {
			if skipSyncPath(e.Path) {
				continue
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadFile reads one file from the sandbox workspace.
func (s *WorkspaceSyncService) ReadFile(ctx context.Context, ownerID, filePath string) ([]byte, error) {
	var content []byte
	err := s.withSession(ctx, ownerID, func(ctx context.Context, session *Session) error {
		var err error
		content, err = s.backend.ReadFile(ctx, session.ID, filePath)
		return err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// WriteFile writes one file into the sandbox workspace.
func (s *WorkspaceSyncService) WriteFile(ctx context.Context, ownerID, filePath string, content []byte) error {
	return s.withSession(ctx, ownerID, func(ctx context.Context, session *Session) error {
		return s.backend.WriteFile(ctx, session.ID, filePath, content)
	})
}

// DeleteFile deletes one file or directory from the sandbox workspace.
func (s *WorkspaceSyncService) DeleteFile(ctx context.Context, ownerID, filePath string) error {
	return s.withSession(ctx, ownerID, func(ctx context.Context, session *Session) error {
		return s.backend.DeleteFile(ctx, session.ID, filePath)
	})
}

// Exec runs a command in the sandbox.
func (s *WorkspaceSyncService) Exec(ctx context.Context, ownerID string, req ExecRequest) (*ExecResult, error) {
	var result *ExecResult
	err := s.withSession(ctx, ownerID, func(ctx context.Context, session *Session) error {
		var err error
		result, err = s.backend.Exec(ctx, session.ID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UploadFolder recursively uploads localRoot into the sandbox workspace.
// Hidden entries and node_modules are skipped. Per-file failures are
// counted and the walk continues; only an unavailable session aborts the
// attempt, and the retry restarts the walk with fresh counts.
func (s *WorkspaceSyncService) UploadFolder(ctx context.Context, ownerID, localRoot string) (*SyncResult, error) {
	info, err := s.fs.Stat(localRoot)
	if err != nil {
		return nil, fmt.Errorf("upload root %s: %w", localRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("upload root %s is not a directory", localRoot)
	}

	result := &SyncResult{}
	err = s.withSession(ctx, ownerID, func(ctx context.Context, session *Session) error {
		*result = SyncResult{} // a retried attempt starts its counts over
		return s.uploadDir(ctx, session, localRoot, "", result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *WorkspaceSyncService) uploadDir(ctx context.Context, session *Session, localDir, remoteDir string, result *SyncResult) error {
	entries, err := afero.ReadDir(s.fs, localDir)
	if err != nil {
		// An unreadable subtree counts as one failed entry; the rest of
		// the walk continues.
		logging.Error("read dir %s: %v", localDir, err)
		result.Errored++
		return nil
	}

	for _, entry := range entries {
		if skipSyncName(entry.Name()) {
			continue
		}

		localPath := localDir + string(os.PathSeparator) + entry.Name()
		remotePath := path.Join(remoteDir, entry.Name())

		if entry.IsDir() {
			if err := s.backend.MakeDir(ctx, session.ID, remotePath); err != nil {
				if IsUnavailableSessionError(err) {
					return err
				}
				logging.Error("create sandbox dir %s: %v", remotePath, err)
				result.Errored++
				continue
			}
			if err := s.uploadDir(ctx, session, localPath, remotePath, result); err != nil {
				return err
			}
			continue
		}

		content, err := afero.ReadFile(s.fs, localPath)
		if err != nil {
			logging.Error("read local file %s: %v", localPath, err)
			result.Errored++
			continue
		}

		if err := s.backend.WriteFile(ctx, session.ID, remotePath, content); err != nil {
			if IsUnavailableSessionError(err) {
				return err
			}
			logging.Error("upload %s: %v", remotePath, err)
			result.Errored++
			continue
		}

		result.Uploaded++
	}

	return nil
}

// DownloadToLocal mirrors the sandbox workspace into localRoot, creating
// directories as needed. Same continue-on-error aggregation as upload.
func (s *WorkspaceSyncService) DownloadToLocal(ctx context.Context, ownerID, localRoot string) (*SyncResult, error) {
	result := &SyncResult{}
	err := s.withSession(ctx, ownerID, func(ctx context.Context, session *Session) error {
		*result = SyncResult{}

		entries, err := s.backend.ListTree(ctx, session.ID)
		if err != nil {
			return err
		}

		if err := s.fs.MkdirAll(localRoot, 0755); err != nil {
			return fmt.Errorf("create download root: %w", err)
		}

		for _, entry := range entries {
			if skipSyncPath(entry.Path) {
				continue
			}

			localPath := localRoot + string(os.PathSeparator) + strings.ReplaceAll(entry.Path, "/", string(os.PathSeparator))

			if entry.IsDir {
				if err := s.fs.MkdirAll(localPath, 0755); err != nil {
					logging.Error("create local dir %s: %v", localPath, err)
					result.Errored++
				}
				continue
			}

			content, err := s.backend.ReadFile(ctx, session.ID, entry.Path)
			if err != nil {
				if IsUnavailableSessionError(err) {
					return err
				}
				logging.Error("download %s: %v", entry.Path, err)
				result.Errored++
				continue
			}

			if err := s.fs.MkdirAll(parentDir(localPath), 0755); err != nil {
				logging.Error("create local dir for %s: %v", localPath, err)
				result.Errored++
				continue
			}
			if err := afero.WriteFile(s.fs, localPath, content, 0644); err != nil {
				logging.Error("write local file %s: %v", localPath, err)
				result.Errored++
				continue
			}

			result.Downloaded++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SnapshotSandbox reads the owner's full sandbox file tree into backup
// records. Used by the backup scheduler; it never creates or recreates a
// session, so an unavailable sandbox simply fails the cycle.
func (s *WorkspaceSyncService) SnapshotSandbox(ctx context.Context, ownerID string) ([]models.BackupFile, error) {
	if !s.enabled {
		return nil, ErrSandboxDisabled
	}

	session, err := s.sessions.GetSession(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	entries, err := s.backend.ListTree(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	files := []models.BackupFile{}
	for _, entry := range entries {
		if entry.IsDir || skipSyncPath(entry.Path) {
			continue
		}

		content, err := s.backend.ReadFile(ctx, session.ID, entry.Path)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", entry.Path, err)
		}
		files = append(files, models.BackupFile{Path: "/" + entry.Path, Content: string(content)})
	}

	return files, nil
}

// RestoreFromBackup writes every file of the owner's backup into the
// sandbox, creating a session if none exists. Returns ErrBackupNotFound
// when there is nothing to restore.
func (s *WorkspaceSyncService) RestoreFromBackup(ctx context.Context, ownerID string) (int, error) {
	backup, err := s.backups.Read(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if backup == nil {
		return 0, ErrBackupNotFound
	}

	restored := 0
	err = s.withSession(ctx, ownerID, func(ctx context.Context, session *Session) error {
		restored = 0
		for _, f := range backup.Files {
			if err := s.backend.WriteFile(ctx, session.ID, f.Path, []byte(f.Content)); err != nil {
				return err
			}
			restored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return restored, nil
}

// Status reports the owner's sandbox condition without creating a session.
func (s *WorkspaceSyncService) Status(ctx context.Context, ownerID string) (*SandboxStatus, error) {
	status := &SandboxStatus{State: SandboxStateDisabled}

	info, err := s.backups.ReadInfo(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	status.Backup = info
	status.BackupAvailable = info != nil

	if !s.enabled {
		return status, nil
	}

	hasAssignment, err := s.sessions.HasAssignment(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if !hasAssignment && s.sessions.CachedSession(ownerID) == nil {
		status.State = SandboxStateNone
		return status, nil
	}

	session, err := s.sessions.GetSession(ctx, ownerID)
	if err != nil {
		status.State = SandboxStateUnavailable
		return status, nil
	}

	status.State = SandboxStateLive
	status.SessionID = session.ID
	return status, nil
}

// skipSyncName reports whether a single path element is excluded from sync:
// hidden entries and dependency directories.
func skipSyncName(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}

// skipSyncPath applies skipSyncName to every element of a relative path.
func skipSyncPath(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg != "" && skipSyncName(seg) {
			return true
		}
	}
	return false
}

func parentDir(p string) string {
	idx := strings.LastIndex(p, string(os.PathSeparator))
	if idx <= 0 {
		return p
	}
	return p[:idx]
}
