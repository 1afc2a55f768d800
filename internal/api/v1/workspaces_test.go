package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"

	"drydock/internal/db"
	"drydock/internal/db/repositories"
	"drydock/internal/services"
)

// stubBackend is an in-memory sandbox provider for handler tests.
type stubBackend struct {
	files  map[string]map[string][]byte
	nextID int
}

func newStubBackend() *stubBackend {
	return &stubBackend{files: make(map[string]map[string][]byte)}
}

func (b *stubBackend) CreateSession(ctx context.Context, opts services.SessionOptions) (*services.Session, error) {
	b.nextID++
	id := fmt.Sprintf("stub-%d", b.nextID)
	b.files[id] = make(map[string][]byte)
	return &services.Session{ID: id, OwnerID: opts.OwnerID, CreatedAt: time.Now()}, nil
}

func (b *stubBackend) AttachSession(ctx context.Context, sessionID string) (*services.Session, error) {
	if _, ok := b.files[sessionID]; !ok {
		return nil, services.ErrSessionUnavailable
	}
	return &services.Session{ID: sessionID}, nil
}

func (b *stubBackend) DestroySession(ctx context.Context, sessionID string) error {
	delete(b.files, sessionID)
	return nil
}

func (b *stubBackend) Exec(ctx context.Context, sessionID string, req services.ExecRequest) (*services.ExecResult, error) {
	return &services.ExecResult{ExitCode: 0, Stdout: "ran: " + req.Cmd[0]}, nil
}

func (b *stubBackend) WriteFile(ctx context.Context, sessionID, path string, content []byte) error {
	b.files[sessionID][path] = content
	return nil
}

func (b *stubBackend) ReadFile(ctx context.Context, sessionID, path string) ([]byte, error) {
	content, ok := b.files[sessionID][path]
	if !ok {
		return nil, fmt.Errorf("read %s: no such file", path)
	}
	return content, nil
}

func (b *stubBackend) DeleteFile(ctx context.Context, sessionID, path string) error {
	delete(b.files[sessionID], path)
	return nil
}

func (b *stubBackend) MakeDir(ctx context.Context, sessionID, path string) error { return nil }

func (b *stubBackend) ListTree(ctx context.Context, sessionID string) ([]services.FileEntry, error) {
	paths := make([]string, 0, len(b.files[sessionID]))
	for p := range b.files[sessionID] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	entries := make([]services.FileEntry, 0, len(paths))
	for _, p := range paths {
		entries = append(entries, services.FileEntry{Path: p, Size: int64(len(b.files[sessionID][p]))})
	}
	return entries, nil
}

func (b *stubBackend) Ping(ctx context.Context) error { return nil }

func setupWorkspaceTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database := db.NewTest(t)
	repos := repositories.New(database)
	backend := newStubBackend()
	sessions := services.NewSessionManager(backend, repos.SandboxAssignments)
	backups := services.NewBackupService(repos.Backups)
	syncService := services.NewWorkspaceSyncService(sessions, backups, backend, afero.NewMemMapFs(), true)
	scheduler := services.NewBackupScheduler(syncService, backups, time.Hour)
	t.Cleanup(scheduler.ShutdownAll)
	watcher := services.NewWatcherService(0)
	t.Cleanup(watcher.ShutdownAll)

	router := gin.New()
	handlers := NewAPIHandlers(syncService, backups, scheduler, watcher, sessions)
	handlers.RegisterRoutes(router.Group("/api/v1"))
	return router
}

func doJSON(router *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWorkspaceStatus_NoSandboxYet(t *testing.T) {
	router := setupWorkspaceTestRouter(t)

	w := doJSON(router, "GET", "/api/v1/workspaces/owner-1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var status struct {
		State           string `json:"state"`
		BackupAvailable bool   `json:"backup_available"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if status.State != "none" {
		t.Errorf("expected state none, got %s", status.State)
	}
	if status.BackupAvailable {
		t.Error("expected no backup")
	}
}

func TestWorkspaceFileRoundTrip(t *testing.T) {
	router := setupWorkspaceTestRouter(t)

	w := doJSON(router, "PUT", "/api/v1/workspaces/owner-1/file", map[string]string{
		"path":    "src/main.go",
		"content": "package main",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("write: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "GET", "/api/v1/workspaces/owner-1/file?path=src/main.go", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("read: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Content != "package main" {
		t.Errorf("read back %q", resp.Content)
	}

	w = doJSON(router, "GET", "/api/v1/workspaces/owner-1/file", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("read without path: expected 400, got %d", w.Code)
	}

	w = doJSON(router, "DELETE", "/api/v1/workspaces/owner-1/file?path=src/main.go", nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", w.Code)
	}
}

func TestWorkspaceExec(t *testing.T) {
	router := setupWorkspaceTestRouter(t)

	w := doJSON(router, "POST", "/api/v1/workspaces/owner-1/exec", map[string]any{
		"cmd": []string{"echo", "hi"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		ExitCode int    `json:"exit_code"`
		Stdout   string `json:"stdout"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.ExitCode != 0 || resp.Stdout != "ran: echo" {
		t.Errorf("unexpected exec result: %+v", resp)
	}

	w = doJSON(router, "POST", "/api/v1/workspaces/owner-1/exec", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("exec without cmd: expected 400, got %d", w.Code)
	}
}

func TestWorkspaceBackupLifecycle(t *testing.T) {
	router := setupWorkspaceTestRouter(t)

	w := doJSON(router, "GET", "/api/v1/workspaces/owner-1/backup", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first backup, got %d", w.Code)
	}

	for _, f := range []map[string]string{
		{"path": "/src/main.go", "content": "package main"},
		{"path": "/readme.md", "content": "# hi"},
	} {
		w = doJSON(router, "PUT", "/api/v1/workspaces/owner-1/backup/file", f)
		if w.Code != http.StatusOK {
			t.Fatalf("upsert: expected 200, got %d: %s", w.Code, w.Body.String())
		}
	}

	w = doJSON(router, "GET", "/api/v1/workspaces/owner-1/backup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("info: expected 200, got %d", w.Code)
	}
	var info struct {
		FileCount int `json:"file_count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if info.FileCount != 2 {
		t.Errorf("expected 2 files, got %d", info.FileCount)
	}

	w = doJSON(router, "GET", "/api/v1/workspaces/owner-1/backup/tree", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tree: expected 200, got %d", w.Code)
	}
	var tree struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &tree); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if tree.Count != 3 { // /src dir + 2 files
		t.Errorf("expected 3 tree entries, got %d", tree.Count)
	}

	w = doJSON(router, "DELETE", "/api/v1/workspaces/owner-1/backup/file?path=/readme.md", nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete file: expected 200, got %d", w.Code)
	}
	w = doJSON(router, "DELETE", "/api/v1/workspaces/owner-1/backup/file?path=/readme.md", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("delete absent file: expected 404, got %d", w.Code)
	}

	w = doJSON(router, "DELETE", "/api/v1/workspaces/owner-1/backup", nil)
	if w.Code != http.StatusOK {
		t.Errorf("clear: expected 200, got %d", w.Code)
	}
	w = doJSON(router, "DELETE", "/api/v1/workspaces/owner-1/backup", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("clear again: expected 404, got %d", w.Code)
	}
}

func TestWorkspaceBackupNow_NoSession(t *testing.T) {
	router := setupWorkspaceTestRouter(t)

	// No sandbox session exists and a backup cycle must not create one.
	w := doJSON(router, "POST", "/api/v1/workspaces/owner-1/backup", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWorkspaceBackupSchedule(t *testing.T) {
	router := setupWorkspaceTestRouter(t)

	w := doJSON(router, "POST", "/api/v1/workspaces/owner-1/backup/schedule", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("schedule: expected 200, got %d", w.Code)
	}
	// Scheduling twice is a no-op, not an error.
	w = doJSON(router, "POST", "/api/v1/workspaces/owner-1/backup/schedule", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reschedule: expected 200, got %d", w.Code)
	}
	w = doJSON(router, "DELETE", "/api/v1/workspaces/owner-1/backup/schedule", nil)
	if w.Code != http.StatusOK {
		t.Errorf("unschedule: expected 200, got %d", w.Code)
	}
}

func TestWorkspaceWatch(t *testing.T) {
	router := setupWorkspaceTestRouter(t)

	w := doJSON(router, "POST", "/api/v1/workspaces/owner-1/watch", map[string]string{
		"local_path": t.TempDir(),
	})
	if w.Code != http.StatusOK {
		t.Fatalf("watch: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(router, "POST", "/api/v1/workspaces/owner-1/watch", map[string]string{
		"local_path": "/does/not/exist",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("watch missing dir: expected 400, got %d", w.Code)
	}

	w = doJSON(router, "DELETE", "/api/v1/workspaces/owner-1/watch", nil)
	if w.Code != http.StatusOK {
		t.Errorf("unwatch: expected 200, got %d", w.Code)
	}
}
