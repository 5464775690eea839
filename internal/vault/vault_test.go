package vault

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/marginalia/internal/checksum"
	"github.com/starford/marginalia/internal/storage"
)

type fakeIndex struct {
	mu        sync.Mutex
	checksums map[string]string
}

func (f *fakeIndex) SourceChecksums() (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.checksums))
	for k, v := range f.checksums {
		out[k] = v
	}
	return out, nil
}

// recorder imports into fakeIndex so repeated syncs see their own work.
type recorder struct {
	idx  *fakeIndex
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (r *recorder) ImportNote(path string, data []byte) error {
	if r.fail[path] {
		return errors.New("boom")
	}
	r.mu.Lock()
	r.seen = append(r.seen, path)
	r.mu.Unlock()
	r.idx.mu.Lock()
	r.idx.checksums[path] = checksum.Sum(data)
	r.idx.mu.Unlock()
	return nil
}

func (r *recorder) count(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.seen {
		if p == path {
			n++
		}
	}
	return n
}

func testEnv(t *testing.T) (string, *storage.FS, *fakeIndex, *recorder) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	idx := &fakeIndex{checksums: map[string]string{}}
	return dir, store, idx, &recorder{idx: idx, fail: map[string]bool{}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func TestSync_ImportsNewAndChanged(t *testing.T) {
	_, store, idx, imp := testEnv(t)
	_ = store.Write("a.md", []byte("# A"))
	_ = store.Write("sub/b.md", []byte("# B"))

	n, err := Sync(idx, store, imp, quietLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n != 2 {
		t.Errorf("imported = %d, want 2", n)
	}

	n, _ = Sync(idx, store, imp, quietLogger())
	if n != 0 {
		t.Errorf("second sync imported %d, want 0", n)
	}

	_ = store.Write("a.md", []byte("# A changed"))
	n, _ = Sync(idx, store, imp, quietLogger())
	if n != 1 || imp.count("a.md") != 2 {
		t.Errorf("changed note not reimported: n=%d count=%d", n, imp.count("a.md"))
	}
}

func TestSync_ImportFailureSkipsNote(t *testing.T) {
	_, store, idx, imp := testEnv(t)
	_ = store.Write("bad.md", []byte("x"))
	_ = store.Write("good.md", []byte("y"))
	imp.fail["bad.md"] = true

	n, err := Sync(idx, store, imp, quietLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if n != 1 || imp.count("good.md") != 1 {
		t.Errorf("n = %d, good imported %d times", n, imp.count("good.md"))
	}
}

func TestWatch_NewFileImported(t *testing.T) {
	dir, store, idx, imp := testEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Watch(ctx, idx, store, dir, imp, quietLogger()) }()
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(dir, "new.md"), []byte("# New"), 0o644)
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return imp.count("new.md") == 1
	}, "new note not imported by watcher")

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func TestWatch_NewDirectoryWatched(t *testing.T) {
	dir, store, idx, imp := testEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Watch(ctx, idx, store, dir, imp, quietLogger())
	time.Sleep(100 * time.Millisecond)

	sub := filepath.Join(dir, "journal")
	_ = os.Mkdir(sub, 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(sub, "day.md"), []byte("today"), 0o644)

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return imp.count("journal/day.md") >= 1
	}, "note in new directory not imported")
}
