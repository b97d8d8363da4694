package photo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"fastsync/internal/logging"
	"fastsync/internal/pipeline"
)

func TestFactoryRequiresDir(t *testing.T) {
	factory := NewFactory()
	_, err := factory(uuid.Must(uuid.NewV7()), nil, logging.Discard())
	if err == nil {
		t.Fatal("expected error for missing dir param")
	}
}

func TestFactoryRejectsBadGrace(t *testing.T) {
	factory := NewFactory()
	params := map[string]string{"dir": t.TempDir(), "grace": "banana"}
	_, err := factory(uuid.Must(uuid.NewV7()), params, logging.Discard())
	if err == nil {
		t.Fatal("expected error for invalid grace")
	}
}

func TestSourceSignalsOnNewFile(t *testing.T) {
	dir := t.TempDir()
	factory := NewFactory()
	src, err := factory(uuid.Must(uuid.NewV7()), map[string]string{"dir": dir}, logging.Discard())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan pipeline.ChangeSignal, 16)
	errc := make(chan error, 1)
	go func() { errc <- src.Run(ctx, out) }()

	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "IMG_0001.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case sig := <-out:
		if sig.Kind != pipeline.KindPhoto {
			t.Errorf("kind = %v", sig.Kind)
		}
		if sig.Ref != path {
			t.Errorf("ref = %q, want %q", sig.Ref, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no signal for new file")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestLibraryResolveLatestSkipsPendingWrites(t *testing.T) {
	dir := t.TempDir()
	lib := NewLibrary(dir, 50*time.Millisecond)

	write := func(name, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return path
	}

	want := write("keep.jpg", "real photo")
	write(".hidden.jpg", "hidden")
	write("partial.jpg.tmp", "partial")
	write("download.jpg.crdownload", "downloading")
	write("notes.txt", "not media")
	write("empty.jpg", "")

	// Wait out the write grace so keep.jpg qualifies.
	time.Sleep(80 * time.Millisecond)

	// A file modified just now is skipped as a write in progress.
	write("fresh.jpg", "still writing")

	path, data, err := lib.ResolveLatest()
	if err != nil {
		t.Fatalf("ResolveLatest: %v", err)
	}
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if string(data) != "real photo" {
		t.Errorf("data = %q", data)
	}
}

func TestLibraryResolveLatestEmpty(t *testing.T) {
	lib := NewLibrary(t.TempDir(), time.Millisecond)
	path, data, err := lib.ResolveLatest()
	if err != nil {
		t.Fatalf("ResolveLatest: %v", err)
	}
	if path != "" || data != nil {
		t.Errorf("expected nothing, got %q", path)
	}
}

func TestLibraryResolveByRef(t *testing.T) {
	dir := t.TempDir()
	lib := NewLibrary(dir, time.Millisecond)

	path := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(path, []byte("bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	data, err := lib.ResolveByRef(path)
	if err != nil {
		t.Fatalf("ResolveByRef: %v", err)
	}
	if string(data) != "bytes" {
		t.Errorf("data = %q", data)
	}

	if _, err := lib.ResolveByRef(filepath.Join(dir, "gone.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLibraryResolveByRefNotReady(t *testing.T) {
	dir := t.TempDir()
	lib := NewLibrary(dir, time.Hour)

	// A file inside the write grace is a transient failure.
	fresh := filepath.Join(dir, "fresh.jpg")
	if err := os.WriteFile(fresh, []byte("bytes"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := lib.ResolveByRef(fresh); !errors.Is(err, ErrNotReady) {
		t.Errorf("fresh file: err = %v, want ErrNotReady", err)
	}

	// An empty file is transient too; the write may not have landed yet.
	empty := filepath.Join(dir, "empty.jpg")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := lib.ResolveByRef(empty); !errors.Is(err, ErrNotReady) {
		t.Errorf("empty file: err = %v, want ErrNotReady", err)
	}

	// A partial-write suffix never resolves; no retry signal.
	tmp := filepath.Join(dir, "x.jpg.tmp")
	if err := os.WriteFile(tmp, []byte("partial"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := lib.ResolveByRef(tmp); err == nil || errors.Is(err, ErrNotReady) {
		t.Errorf("tmp file: err = %v, want a permanent error", err)
	}
}

func TestDefaultGraceBelowQuietPeriod(t *testing.T) {
	if DefaultWriteGrace >= pipeline.DefaultQuietPeriod {
		t.Errorf("write grace %v must stay below the debounce quiet period %v",
			DefaultWriteGrace, pipeline.DefaultQuietPeriod)
	}
}

func TestItemIDStableAcrossRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.jpg")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	before := ItemID(path)
	renamed := filepath.Join(dir, "b.jpg")
	if err := os.Rename(path, renamed); err != nil {
		t.Fatalf("rename: %v", err)
	}
	after := ItemID(renamed)

	if before != after {
		t.Errorf("identity changed across rename: %q vs %q", before, after)
	}
}
