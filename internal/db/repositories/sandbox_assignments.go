package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"drydock/pkg/models"
)

// SandboxAssignmentRepo persists which provider session id belongs to which
// owner, so a restarted process can re-attach instead of creating a new
// sandbox.
type SandboxAssignmentRepo struct {
	db *sql.DB
}

func NewSandboxAssignmentRepo(db *sql.DB) *SandboxAssignmentRepo {
	return &SandboxAssignmentRepo{db: db}
}

// Set records the session id for an owner, replacing any previous one.
func (r *SandboxAssignmentRepo) Set(ctx context.Context, ownerID, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sandbox_assignments (owner_id, session_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			session_id = excluded.session_id,
			updated_at = excluded.updated_at`,
		ownerID, sessionID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set sandbox assignment for %s: %w", ownerID, err)
	}
	return nil
}

// Get returns the owner's assignment, or nil when none is recorded.
func (r *SandboxAssignmentRepo) Get(ctx context.Context, ownerID string) (*models.SandboxAssignment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT owner_id, session_id, updated_at
		FROM sandbox_assignments WHERE owner_id = ?`, ownerID)

	var assignment models.SandboxAssignment
	err := row.Scan(&assignment.OwnerID, &assignment.SessionID, &assignment.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sandbox assignment for %s: %w", ownerID, err)
	}

	return &assignment, nil
}

// Clear drops the owner's assignment. Clearing a missing assignment is a
// no-op.
func (r *SandboxAssignmentRepo) Clear(ctx context.Context, ownerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sandbox_assignments WHERE owner_id = ?`, ownerID)
	if err != nil {
		return fmt.Errorf("clear sandbox assignment for %s: %w", ownerID, err)
	}
	return nil
}
