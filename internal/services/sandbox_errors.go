package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// SandboxError represents an error from sandbox operations
type SandboxError struct {
	Op      string // Operation that failed (e.g., "CreateSession", "Exec")
	Session string // Session ID if applicable
	Err     error  // Underlying error
}

func (e *SandboxError) Error() string {
	if e.Session != "" {
		return fmt.Sprintf("sandbox %s [%s]: %v", e.Op, e.Session, e.Err)
	}
	return fmt.Sprintf("sandbox %s: %v", e.Op, e.Err)
}

func (e *SandboxError) Unwrap() error {
	return e.Err
}

// Common sentinel errors
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionUnavailable = errors.New("session paused or expired")
	ErrSandboxDisabled    = errors.New("sandbox support is not enabled")
	ErrBackupNotFound     = errors.New("no backup exists for owner")
	ErrBackupInFlight     = errors.New("a backup cycle is already running")
	ErrBackupTooLarge     = errors.New("sandbox contents exceed backup limits")
	ErrTimeout            = errors.New("operation timed out")
)

// providerStatusError carries an HTTP status returned by the sandbox
// provider API, so classification can key on status codes instead of
// scraping response bodies.
type providerStatusError struct {
	Status int
	Body   string
}

func (e *providerStatusError) Error() string {
	return fmt.Sprintf("provider API error: status %d, body: %s", e.Status, e.Body)
}

// remoteCommandError is a non-zero exit from a command that ran inside a
// live session. The session answered, so its relayed stderr must never be
// scanned for pause signatures: a shell printing "base64: not found" is a
// broken image, not a paused machine.
type remoteCommandError struct {
	Op     string
	Path   string
	Stderr string
}

func (e *remoteCommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Op, e.Path, strings.TrimSpace(e.Stderr))
}

// SandboxErrorKind is the closed set of classified sandbox error categories.
type SandboxErrorKind int

const (
	// KindTransient covers everything not matched below: network blips,
	// per-file failures, provider 5xx. Never retried automatically.
	KindTransient SandboxErrorKind = iota
	// KindUnavailable means the session is paused, expired, or unknown to
	// the provider. Recovered once via recreate-with-restore.
	KindUnavailable
	// KindTimeout is a deadline expiry that does not match a pause
	// signature. Reconnecting will not help if the sandbox is merely slow.
	KindTimeout
	// KindValidation is a caller error (bad path, not a directory).
	KindValidation
	// KindNotFound is a "nothing to do" condition (no backup, no session
	// assigned), not a failure.
	KindNotFound
)

// pauseSignatures are provider message fragments that indicate the session
// itself is gone or frozen. New provider shapes get added here, nowhere else.
var pauseSignatures = []string{
	"paused",
	"suspended",
	"machine is stopped",
	"not found",
	"no longer exists",
	"has been destroyed",
}

// ClassifySandboxError maps any error from a sandbox operation onto the
// closed kind set. It is the single place provider failure shapes are
// interpreted; retry logic must go through IsUnavailableSessionError rather
// than inspecting errors itself.
func ClassifySandboxError(err error) SandboxErrorKind {
	if err == nil {
		return KindTransient
	}

	switch {
	case errors.Is(err, ErrSessionUnavailable), errors.Is(err, ErrSessionNotFound):
		return KindUnavailable
	case errors.Is(err, ErrBackupNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var statusErr *providerStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Status {
		case http.StatusNotFound, http.StatusGone:
			return KindUnavailable
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return KindTimeout
		}
	}

	// Signature matching applies to provider messages only. Stderr relayed
	// from a command inside the session can contain anything.
	var cmdErr *remoteCommandError
	if errors.As(err, &cmdErr) {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	for _, sig := range pauseSignatures {
		if strings.Contains(msg, sig) {
			return KindUnavailable
		}
	}

	return KindTransient
}

// IsUnavailableSessionError reports whether err means the remote session is
// paused, expired, or unknown: the one condition that triggers the
// discard/recreate/restore/retry path.
func IsUnavailableSessionError(err error) bool {
	return ClassifySandboxError(err) == KindUnavailable
}
