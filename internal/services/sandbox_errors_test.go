package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifySandboxError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want SandboxErrorKind
	}{
		{"nil", nil, KindTransient},
		{"unavailable sentinel", ErrSessionUnavailable, KindUnavailable},
		{"not found sentinel", ErrSessionNotFound, KindUnavailable},
		{"wrapped unavailable", &SandboxError{Op: "Exec", Err: ErrSessionUnavailable}, KindUnavailable},
		{"backup missing", ErrBackupNotFound, KindNotFound},
		{"timeout sentinel", ErrTimeout, KindTimeout},
		{"deadline exceeded", context.DeadlineExceeded, KindTimeout},
		{"provider 404", &providerStatusError{Status: 404, Body: "machine missing"}, KindUnavailable},
		{"provider 410", &providerStatusError{Status: 410}, KindUnavailable},
		{"provider 408", &providerStatusError{Status: 408}, KindTimeout},
		{"provider 504", &providerStatusError{Status: 504}, KindTimeout},
		{"provider 500", &providerStatusError{Status: 500, Body: "internal"}, KindTransient},
		{"paused message", errors.New("machine abc123 is Paused"), KindUnavailable},
		{"suspended message", fmt.Errorf("exec failed: instance suspended by provider"), KindUnavailable},
		{"stopped message", errors.New("machine is stopped"), KindUnavailable},
		{"destroyed message", errors.New("session has been destroyed"), KindUnavailable},
		{"plain network error", errors.New("connection reset by peer"), KindTransient},
		{"relayed stderr with missing tool", &SandboxError{Op: "ReadFile", Session: "sbx-1", Err: &remoteCommandError{Op: "read", Path: "/a.txt", Stderr: "sh: base64: not found"}}, KindTransient},
		{"relayed stderr quoting a signature", &remoteCommandError{Op: "write", Path: "/a.txt", Stderr: "tee: machine is stopped: no such file"}, KindTransient},
		{"disk full", errors.New("write /workspace/a.txt: no space left on device"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySandboxError(tt.err); got != tt.want {
				t.Errorf("ClassifySandboxError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsUnavailableSessionError(t *testing.T) {
	if !IsUnavailableSessionError(&SandboxError{Op: "ReadFile", Session: "sbx-1", Err: ErrSessionUnavailable}) {
		t.Error("expected wrapped unavailable sentinel to be unavailable")
	}
	if IsUnavailableSessionError(errors.New("permission denied")) {
		t.Error("expected permission error to not be unavailable")
	}
	if IsUnavailableSessionError(nil) {
		t.Error("expected nil to not be unavailable")
	}
}

func TestSandboxErrorFormat(t *testing.T) {
	withSess := &SandboxError{Op: "Exec", Session: "sbx-9", Err: errors.New("boom")}
	if got := withSess.Error(); got != "sandbox Exec [sbx-9]: boom" {
		t.Errorf("unexpected error string: %q", got)
	}

	withoutSess := &SandboxError{Op: "CreateSession", Err: errors.New("boom")}
	if got := withoutSess.Error(); got != "sandbox CreateSession: boom" {
		t.Errorf("unexpected error string: %q", got)
	}

	if !errors.Is(withSess, errors.Unwrap(withSess)) {
		t.Error("expected SandboxError to unwrap to its cause")
	}
}
