package services

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func subscribeTestWatch(t *testing.T, svc *WatcherService, key string) chan []string {
	t.Helper()
	batches := make(chan []string, 10)
	unsubscribe, err := svc.OnFilesChanged(key, func(paths []string) {
		batches <- paths
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(unsubscribe)
	return batches
}

func waitForBatch(t *testing.T, batches chan []string) []string {
	t.Helper()
	select {
	case paths := <-batches:
		return paths
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change notification")
		return nil
	}
}

func expectNoBatch(t *testing.T, batches chan []string, wait time.Duration) {
	t.Helper()
	select {
	case paths := <-batches:
		t.Fatalf("unexpected change notification: %v", paths)
	case <-time.After(wait):
	}
}

func TestWatcherService_RejectsMissingOrFileRoot(t *testing.T) {
	svc := NewWatcherService(50 * time.Millisecond)
	t.Cleanup(svc.ShutdownAll)

	ok, err := svc.StartWatching("k", filepath.Join(t.TempDir(), "missing"))
	if err != nil || ok {
		t.Errorf("missing root: expected (false, nil), got (%v, %v)", ok, err)
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	writeTestFile(t, file, "x")
	ok, err = svc.StartWatching("k", file)
	if err != nil || ok {
		t.Errorf("file root: expected (false, nil), got (%v, %v)", ok, err)
	}
	if svc.Watching("k") {
		t.Error("expected no active watch")
	}
}

func TestWatcherService_DebouncesIntoOneBatch(t *testing.T) {
	svc := NewWatcherService(150 * time.Millisecond)
	t.Cleanup(svc.ShutdownAll)
	root := t.TempDir()

	ok, err := svc.StartWatching("k", root)
	if err != nil || !ok {
		t.Fatalf("start watching: (%v, %v)", ok, err)
	}
	batches := subscribeTestWatch(t, svc, "k")

	writeTestFile(t, filepath.Join(root, "a.txt"), "a")
	writeTestFile(t, filepath.Join(root, "b.txt"), "b")

	paths := waitForBatch(t, batches)
	joined := strings.Join(paths, ",")
	if !strings.Contains(joined, "a.txt") || !strings.Contains(joined, "b.txt") {
		t.Errorf("expected both files in one batch, got %v", paths)
	}

	// Both writes landed inside one debounce window; no second batch.
	expectNoBatch(t, batches, 400*time.Millisecond)
}

func TestWatcherService_IgnoresHiddenAndDependencyPaths(t *testing.T) {
	svc := NewWatcherService(100 * time.Millisecond)
	t.Cleanup(svc.ShutdownAll)
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "node_modules"), 0755); err != nil {
		t.Fatal(err)
	}

	ok, err := svc.StartWatching("k", root)
	if err != nil || !ok {
		t.Fatalf("start watching: (%v, %v)", ok, err)
	}
	batches := subscribeTestWatch(t, svc, "k")

	writeTestFile(t, filepath.Join(root, ".env"), "SECRET=1")
	writeTestFile(t, filepath.Join(root, "node_modules", "x.js"), "x")
	expectNoBatch(t, batches, 400*time.Millisecond)

	writeTestFile(t, filepath.Join(root, "real.txt"), "x")
	paths := waitForBatch(t, batches)
	for _, p := range paths {
		if strings.Contains(p, ".env") || strings.Contains(p, "node_modules") {
			t.Errorf("excluded path leaked into notification: %s", p)
		}
	}
}

func TestWatcherService_ReplacesWatchForSameKey(t *testing.T) {
	svc := NewWatcherService(100 * time.Millisecond)
	t.Cleanup(svc.ShutdownAll)
	oldRoot := t.TempDir()
	newRoot := t.TempDir()

	if ok, err := svc.StartWatching("k", oldRoot); err != nil || !ok {
		t.Fatalf("start watching old root: (%v, %v)", ok, err)
	}
	if ok, err := svc.StartWatching("k", newRoot); err != nil || !ok {
		t.Fatalf("start watching new root: (%v, %v)", ok, err)
	}
	batches := subscribeTestWatch(t, svc, "k")

	writeTestFile(t, filepath.Join(oldRoot, "stale.txt"), "x")
	expectNoBatch(t, batches, 400*time.Millisecond)

	writeTestFile(t, filepath.Join(newRoot, "fresh.txt"), "x")
	paths := waitForBatch(t, batches)
	if !strings.Contains(strings.Join(paths, ","), "fresh.txt") {
		t.Errorf("expected fresh.txt from the replacement watch, got %v", paths)
	}
}

func TestWatcherService_NewSubdirectoriesAreWatched(t *testing.T) {
	svc := NewWatcherService(100 * time.Millisecond)
	t.Cleanup(svc.ShutdownAll)
	root := t.TempDir()

	if ok, err := svc.StartWatching("k", root); err != nil || !ok {
		t.Fatalf("start watching: (%v, %v)", ok, err)
	}
	batches := subscribeTestWatch(t, svc, "k")

	sub := filepath.Join(root, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	// Give the event loop time to register the new directory.
	time.Sleep(300 * time.Millisecond)

	writeTestFile(t, filepath.Join(sub, "nested.txt"), "x")
	paths := waitForBatch(t, batches)
	if !strings.Contains(strings.Join(paths, ","), "nested.txt") {
		t.Errorf("expected nested.txt to be observed, got %v", paths)
	}
}

func TestWatcherService_StopWatching(t *testing.T) {
	svc := NewWatcherService(100 * time.Millisecond)
	t.Cleanup(svc.ShutdownAll)
	root := t.TempDir()

	if ok, err := svc.StartWatching("k", root); err != nil || !ok {
		t.Fatalf("start watching: (%v, %v)", ok, err)
	}
	batches := subscribeTestWatch(t, svc, "k")

	svc.StopWatching("k")
	if svc.Watching("k") {
		t.Error("expected watch to be gone")
	}
	svc.StopWatching("k") // safe when already stopped

	writeTestFile(t, filepath.Join(root, "after.txt"), "x")
	expectNoBatch(t, batches, 400*time.Millisecond)

	if _, err := svc.OnFilesChanged("k", func([]string) {}); err == nil {
		t.Error("expected subscribe to fail for a stopped key")
	}
}

func TestWatcherService_StopsOnWatcherError(t *testing.T) {
	svc := NewWatcherService(50 * time.Millisecond)
	t.Cleanup(svc.ShutdownAll)
	root := t.TempDir()

	if ok, err := svc.StartWatching("k", root); err != nil || !ok {
		t.Fatalf("start watching: (%v, %v)", ok, err)
	}

	svc.mu.Lock()
	entry := svc.watches["k"]
	svc.mu.Unlock()
	if entry == nil {
		t.Fatal("expected a registered watch entry")
	}

	// Deliver a failure the way the OS watcher would, e.g. an overflowed
	// event queue.
	entry.watcher.Errors <- errors.New("event queue overflowed")

	deadline := time.Now().Add(3 * time.Second)
	for svc.Watching("k") {
		if time.Now().After(deadline) {
			t.Fatal("expected watch to be removed after a watcher error")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := svc.OnFilesChanged("k", func([]string) {}); err == nil {
		t.Error("expected subscribe to fail after the watch stopped itself")
	}
}

func TestWatcherService_UnsubscribeStopsDelivery(t *testing.T) {
	svc := NewWatcherService(100 * time.Millisecond)
	t.Cleanup(svc.ShutdownAll)
	root := t.TempDir()

	if ok, err := svc.StartWatching("k", root); err != nil || !ok {
		t.Fatalf("start watching: (%v, %v)", ok, err)
	}

	batches := make(chan []string, 10)
	unsubscribe, err := svc.OnFilesChanged("k", func(paths []string) {
		batches <- paths
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	unsubscribe()

	writeTestFile(t, filepath.Join(root, "a.txt"), "x")
	expectNoBatch(t, batches, 400*time.Millisecond)
}
