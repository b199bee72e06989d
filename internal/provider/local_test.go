package provider

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStoreFetchRemove(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "backups")
	lp := NewLocal(LocalConfig{Path: baseDir}, "")
	ctx := context.Background()

	content := []byte("/system identity set name=core\n")
	res, err := lp.Store(ctx, bytes.NewReader(content), "eq-1/core_20240102_020000.rsc")
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if res.Path != "eq-1/core_20240102_020000.rsc" {
		t.Fatalf("unexpected path %q", res.Path)
	}
	if res.Size != int64(len(content)) {
		t.Fatalf("expected size %d, got %d", len(content), res.Size)
	}
	if res.Checksum != Checksum(content) {
		t.Fatalf("checksum mismatch: %s", res.Checksum)
	}

	data, err := lp.Fetch(ctx, res.Path)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatalf("fetched content mismatch")
	}

	objects, err := lp.List(ctx, "eq-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(objects) != 1 || objects[0].Path != res.Path {
		t.Fatalf("expected one listed object, got %+v", objects)
	}

	if err := lp.Remove(ctx, res.Path); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if _, err := lp.Fetch(ctx, res.Path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if err := lp.Remove(ctx, res.Path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound removing twice, got %v", err)
	}
}

func TestLocalStoreOverwrites(t *testing.T) {
	lp := NewLocal(LocalConfig{Path: "store"}, t.TempDir())
	ctx := context.Background()

	if _, err := lp.Store(ctx, bytes.NewReader([]byte("first")), "eq/a.cfg"); err != nil {
		t.Fatalf("first store failed: %v", err)
	}
	if _, err := lp.Store(ctx, bytes.NewReader([]byte("second")), "eq/a.cfg"); err != nil {
		t.Fatalf("second store failed: %v", err)
	}

	data, err := lp.Fetch(ctx, "eq/a.cfg")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("expected overwrite, got %q", data)
	}

	entries, err := os.ReadDir(filepath.Join(lp.BasePath(), "eq"))
	if err != nil {
		t.Fatalf("read dir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected no leftover temp files, got %d entries", len(entries))
	}
}

func TestLocalPathsStayInsideBase(t *testing.T) {
	base := t.TempDir()
	lp := NewLocal(LocalConfig{Path: base}, "")

	res, err := lp.Store(context.Background(), bytes.NewReader([]byte("x")), "../../etc/evil.cfg")
	if err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if res.Path != "etc/evil.cfg" {
		t.Fatalf("expected path to be confined, got %q", res.Path)
	}
	if _, err := os.Stat(filepath.Join(base, "etc", "evil.cfg")); err != nil {
		t.Fatalf("expected file inside base: %v", err)
	}

	if _, err := lp.Store(context.Background(), bytes.NewReader(nil), "/"); err == nil {
		t.Fatalf("expected empty path to be rejected")
	}
}

func TestLocalListMissingDirectory(t *testing.T) {
	lp := NewLocal(LocalConfig{Path: filepath.Join(t.TempDir(), "missing")}, "")
	objects, err := lp.List(context.Background(), "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(objects) != 0 {
		t.Fatalf("expected no objects, got %d", len(objects))
	}
}
