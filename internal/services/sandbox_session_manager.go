package services

import (
	"context"
	"fmt"
	"sync"

	"drydock/internal/db/repositories"
	"drydock/internal/logging"
)

// SessionManager owns the sandbox session lifecycle per owner: cached
// lookup, re-attach from the persisted session id, creation with optional
// restore from backup, and invalidation when the provider loses a session.
//
// It is an explicit registry; construct one per process (or per test) and
// call ShutdownAll on teardown.
type SessionManager struct {
	backend     SandboxBackend
	assignments *repositories.SandboxAssignmentRepo
	sessions    sync.Map // ownerID -> *Session
	mu          sync.Mutex
	defaultOpts SessionOptions
}

func NewSessionManager(backend SandboxBackend, assignments *repositories.SandboxAssignmentRepo) *SessionManager {
	return &SessionManager{
		backend:     backend,
		assignments: assignments,
	}
}

func (m *SessionManager) SetDefaultOptions(opts SessionOptions) {
	m.defaultOpts = opts
}

// GetOrCreateSession returns the owner's live session. A cached session is
// returned without a provider round-trip. Otherwise the persisted session
// id is attached to if possible; failing that a new session is created,
// seeded with the given files, and its id persisted. The returned bool is
// true when a new session was created.
func (m *SessionManager) GetOrCreateSession(ctx context.Context, ownerID string, seed []SeedFile) (*Session, bool, error) {
	if existing, ok := m.sessions.Load(ownerID); ok {
		return existing.(*Session), false, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have populated the cache while we waited.
	if existing, ok := m.sessions.Load(ownerID); ok {
		return existing.(*Session), false, nil
	}

	if session := m.tryAttach(ctx, ownerID, true); session != nil {
		m.sessions.Store(ownerID, session)
		return session, false, nil
	}

	session, err := m.createAndSeed(ctx, ownerID, seed)
	if err != nil {
		return nil, false, err
	}

	m.sessions.Store(ownerID, session)
	return session, true, nil
}

// tryAttach attempts to re-bind to the persisted session id. Any failure
// (no assignment, attach refused) returns nil. clearStale is set only on the
// create path: a caller about to replace the session may clear the stale
// assignment row, while read-only lookups leave it in place so an
// unavailable session stays reportable until someone recreates it.
func (m *SessionManager) tryAttach(ctx context.Context, ownerID string, clearStale bool) *Session {
	assignment, err := m.assignments.Get(ctx, ownerID)
	if err != nil {
		logging.Error("load sandbox assignment for %s: %v", ownerID, err)
		return nil
	}
	if assignment == nil {
		return nil
	}

	session, err := m.backend.AttachSession(ctx, assignment.SessionID)
	if err != nil {
		logging.Debug("attach to session %s for %s failed: %v", assignment.SessionID, ownerID, err)
		if clearStale {
			if clearErr := m.assignments.Clear(ctx, ownerID); clearErr != nil {
				logging.Error("clear stale assignment for %s: %v", ownerID, clearErr)
			}
		}
		return nil
	}

	session.OwnerID = ownerID
	return session
}

func (m *SessionManager) createAndSeed(ctx context.Context, ownerID string, seed []SeedFile) (*Session, error) {
	opts := m.defaultOpts
	opts.OwnerID = ownerID

	session, err := m.backend.CreateSession(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("create sandbox session: %w", err)
	}

	// Restore from backup before anyone can observe the session.
	for _, f := range seed {
		if err := m.backend.WriteFile(ctx, session.ID, f.Path, []byte(f.Content)); err != nil {
			logging.Error("restore %s into session %s: %v", f.Path, session.ID, err)
		}
	}
	if len(seed) > 0 {
		logging.Info("restored %d files into new session %s for %s", len(seed), session.ID, ownerID)
	}

	if err := m.assignments.Set(ctx, ownerID, session.ID); err != nil {
		return nil, fmt.Errorf("persist session id: %w", err)
	}

	return session, nil
}

// GetSession returns the owner's live session from cache or by re-attach,
// but never creates one. A failed re-attach leaves the persisted session id
// in place, so repeated status reads keep reporting the unavailable session
// instead of erasing it. Callers that can tolerate creation should use
// GetOrCreateSession instead.
func (m *SessionManager) GetSession(ctx context.Context, ownerID string) (*Session, error) {
	if existing, ok := m.sessions.Load(ownerID); ok {
		return existing.(*Session), nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions.Load(ownerID); ok {
		return existing.(*Session), nil
	}

	if session := m.tryAttach(ctx, ownerID, false); session != nil {
		m.sessions.Store(ownerID, session)
		return session, nil
	}

	return nil, &SandboxError{Op: "GetSession", Err: ErrSessionNotFound}
}

// Invalidate discards the owner's cached session and the persisted session
// id. Called when a provider operation reports the session unavailable.
func (m *SessionManager) Invalidate(ctx context.Context, ownerID string) error {
	m.sessions.Delete(ownerID)
	if err := m.assignments.Clear(ctx, ownerID); err != nil {
		return fmt.Errorf("clear persisted session id: %w", err)
	}
	return nil
}

// CachedSession returns the owner's cached session without touching the
// provider, or nil when none is cached.
func (m *SessionManager) CachedSession(ownerID string) *Session {
	if existing, ok := m.sessions.Load(ownerID); ok {
		return existing.(*Session)
	}
	return nil
}

// HasAssignment reports whether a session id is persisted for the owner.
func (m *SessionManager) HasAssignment(ctx context.Context, ownerID string) (bool, error) {
	assignment, err := m.assignments.Get(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return assignment != nil, nil
}

// CloseSession destroys the owner's session at the provider and forgets it.
func (m *SessionManager) CloseSession(ctx context.Context, ownerID string) error {
	session := m.CachedSession(ownerID)
	if err := m.Invalidate(ctx, ownerID); err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	return m.backend.DestroySession(ctx, session.ID)
}

// ShutdownAll drops every cached session. Provider sessions are left
// running so their owners can re-attach after a restart.
func (m *SessionManager) ShutdownAll() {
	m.sessions.Range(func(k, _ interface{}) bool {
		m.sessions.Delete(k)
		return true
	})
}
