package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"drydock/internal/db/repositories"
	"drydock/pkg/models"
)

// BackupService is the snapshot store for workspace backups. All writes for
// one owner are serialized through a per-owner mutex so a scheduled backup
// and a single-file upsert can never interleave and corrupt the aggregate
// counts.
type BackupService struct {
	backups  *repositories.BackupRepo
	mu       sync.Mutex
	ownerMus map[string]*sync.Mutex

	// Ceilings for a single snapshot; a write beyond either is rejected
	// rather than truncated.
	MaxFiles int
	MaxBytes int64
}

const (
	DefaultMaxBackupFiles = 2000
	DefaultMaxBackupBytes = 64 * 1024 * 1024
)

func NewBackupService(backups *repositories.BackupRepo) *BackupService {
	return &BackupService{
		backups:  backups,
		ownerMus: make(map[string]*sync.Mutex),
		MaxFiles: DefaultMaxBackupFiles,
		MaxBytes: DefaultMaxBackupBytes,
	}
}

func (s *BackupService) ownerLock(ownerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mu, ok := s.ownerMus[ownerID]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	s.ownerMus[ownerID] = mu
	return mu
}

// Write replaces the owner's entire backup. An empty file list is a valid
// backup; passing nil files stores an empty one.
func (s *BackupService) Write(ctx context.Context, ownerID string, files []models.BackupFile) error {
	if err := s.checkLimits(files); err != nil {
		return err
	}

	mu := s.ownerLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	return s.backups.Write(ctx, ownerID, files)
}

// Read returns the full backup, or nil when the owner has none.
func (s *BackupService) Read(ctx context.Context, ownerID string) (*models.WorkspaceBackup, error) {
	return s.backups.Read(ctx, ownerID)
}

// ReadInfo returns backup metadata without loading file contents.
func (s *BackupService) ReadInfo(ctx context.Context, ownerID string) (*models.BackupInfo, error) {
	return s.backups.ReadInfo(ctx, ownerID)
}

// UpsertFile replaces or appends a single file in the owner's backup,
// matched by exact path equality. A missing backup starts empty.
func (s *BackupService) UpsertFile(ctx context.Context, ownerID, path, content string) error {
	mu := s.ownerLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	backup, err := s.backups.Read(ctx, ownerID)
	if err != nil {
		return err
	}

	var files []models.BackupFile
	if backup != nil {
		files = backup.Files
	}

	replaced := false
	for i := range files {
		if files[i].Path == path {
			files[i].Content = content
			replaced = true
			break
		}
	}
	if !replaced {
		files = append(files, models.BackupFile{Path: path, Content: content})
	}

	if err := s.checkLimits(files); err != nil {
		return err
	}

	return s.backups.Write(ctx, ownerID, files)
}

// DeleteFile removes a single file from the backup. Returns false without
// error when the path (or the whole backup) does not exist.
func (s *BackupService) DeleteFile(ctx context.Context, ownerID, path string) (bool, error) {
	mu := s.ownerLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	backup, err := s.backups.Read(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if backup == nil {
		return false, nil
	}

	files := backup.Files
	idx := -1
	for i := range files {
		if files[i].Path == path {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	files = append(files[:idx], files[idx+1:]...)
	if err := s.backups.Write(ctx, ownerID, files); err != nil {
		return false, err
	}
	return true, nil
}

// Clear deletes the owner's backup entirely. Returns false when there was
// nothing to clear.
func (s *BackupService) Clear(ctx context.Context, ownerID string) (bool, error) {
	mu := s.ownerLock(ownerID)
	mu.Lock()
	defer mu.Unlock()

	return s.backups.Delete(ctx, ownerID)
}

// ListAsTree renders the backup's flat file list as a tree: directories are
// inferred from path segments, directories sort before files, and within
// each group entries sort lexicographically by path.
//
// A path that is both an explicit file and an implied parent of another
// file is a data inconsistency; the explicit file entry wins and no
// directory entry is emitted for it.
func (s *BackupService) ListAsTree(ctx context.Context, ownerID string) ([]models.BackupTreeEntry, error) {
	backup, err := s.backups.Read(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if backup == nil {
		return nil, fmt.Errorf("list backup tree for %s: %w", ownerID, ErrBackupNotFound)
	}

	filePaths := make(map[string]int64, len(backup.Files))
	dirPaths := make(map[string]bool)

	for _, f := range backup.Files {
		p := normalizeBackupPath(f.Path)
		filePaths[p] = int64(len(f.Content))

		segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
		prefix := ""
		for _, seg := range segments[:len(segments)-1] {
			prefix = prefix + "/" + seg
			dirPaths[prefix] = true
		}
	}

	var entries []models.BackupTreeEntry
	for dir := range dirPaths {
		if _, isFile := filePaths[dir]; isFile {
			continue // explicit file entry wins over the implied directory
		}
		entries = append(entries, models.BackupTreeEntry{Path: dir, IsDirectory: true})
	}
	for p, size := range filePaths {
		entries = append(entries, models.BackupTreeEntry{Path: p, Size: size})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDirectory != entries[j].IsDirectory {
			return entries[i].IsDirectory
		}
		return entries[i].Path < entries[j].Path
	})

	return entries, nil
}

func (s *BackupService) checkLimits(files []models.BackupFile) error {
	if s.MaxFiles > 0 && len(files) > s.MaxFiles {
		return fmt.Errorf("%d files exceeds limit of %d: %w", len(files), s.MaxFiles, ErrBackupTooLarge)
	}
	if s.MaxBytes > 0 {
		var total int64
		for _, f := range files {
			total += int64(len(f.Content))
		}
		if total > s.MaxBytes {
			return fmt.Errorf("%d bytes exceeds limit of %d: %w", total, s.MaxBytes, ErrBackupTooLarge)
		}
	}
	return nil
}

func normalizeBackupPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}
