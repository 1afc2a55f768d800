package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"drydock/internal/logging"
)

// BackupScheduler periodically mirrors each active owner's sandbox into the
// backup store. One cron entry exists per started owner; a per-owner
// in-flight flag keeps a timer-triggered cycle and an explicit BackupNow
// from running overlapping enumerations.
//
// A failed cycle is logged and leaves the previous backup untouched. The
// scheduler never recreates sandboxes; that only happens when a caller
// actually uses one.
type BackupScheduler struct {
	cron     *cron.Cron
	sync     *WorkspaceSyncService
	backups  *BackupService
	interval time.Duration

	mu       sync.Mutex
	entries  map[string]cron.EntryID
	inFlight map[string]bool
}

const DefaultBackupInterval = 5 * time.Minute

func NewBackupScheduler(syncService *WorkspaceSyncService, backups *BackupService, interval time.Duration) *BackupScheduler {
	if interval <= 0 {
		interval = DefaultBackupInterval
	}
	return &BackupScheduler{
		cron:     cron.New(),
		sync:     syncService,
		backups:  backups,
		interval: interval,
		entries:  make(map[string]cron.EntryID),
		inFlight: make(map[string]bool),
	}
}

// Run starts the underlying cron runner. Idempotent.
func (s *BackupScheduler) Run() {
	s.cron.Start()
}

// Shutdown stops the cron runner, waiting briefly for a running cycle.
func (s *BackupScheduler) Shutdown() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		logging.Warn("backup scheduler stop timed out with cycles still running")
	}
}

// Start begins periodic backups for an owner. Starting an already-active
// owner is a no-op; there is never more than one timer per owner.
func (s *BackupScheduler) Start(ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, active := s.entries[ownerID]; active {
		return nil
	}

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if err := s.runCycle(context.Background(), ownerID); err != nil {
			logging.Error("scheduled backup for %s: %v", ownerID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule backups for %s: %w", ownerID, err)
	}

	s.entries[ownerID] = entryID
	logging.Info("backup scheduler started for %s (every %s)", ownerID, s.interval)
	return nil
}

// Stop ends periodic backups for an owner. Safe to call when inactive.
func (s *BackupScheduler) Stop(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, active := s.entries[ownerID]; active {
		s.cron.Remove(entryID)
		delete(s.entries, ownerID)
		logging.Info("backup scheduler stopped for %s", ownerID)
	}
}

// Active reports whether periodic backups are running for the owner.
func (s *BackupScheduler) Active(ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, active := s.entries[ownerID]
	return active
}

// BackupNow performs one immediate backup cycle outside the timer. When a
// cycle for the owner is already running the call is rejected with
// ErrBackupInFlight rather than starting a second enumeration.
func (s *BackupScheduler) BackupNow(ctx context.Context, ownerID string) error {
	return s.runCycle(ctx, ownerID)
}

func (s *BackupScheduler) runCycle(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	if s.inFlight[ownerID] {
		s.mu.Unlock()
		return ErrBackupInFlight
	}
	s.inFlight[ownerID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, ownerID)
		s.mu.Unlock()
	}()

	files, err := s.sync.SnapshotSandbox(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("enumerate sandbox: %w", err)
	}

	if err := s.backups.Write(ctx, ownerID, files); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}

	logging.Debug("backed up %d files for %s", len(files), ownerID)
	return nil
}

// ShutdownAll stops every owner's timer and the cron runner.
func (s *BackupScheduler) ShutdownAll() {
	s.mu.Lock()
	for ownerID, entryID := range s.entries {
		s.cron.Remove(entryID)
		delete(s.entries, ownerID)
	}
	s.mu.Unlock()

	s.Shutdown()
}
