package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestFS(t *testing.T) (*FSAdapter, string) {
	t.Helper()
	root := t.TempDir()
	a, err := NewFSAdapter(root, nil)
	if err != nil {
		t.Fatalf("new fs adapter: %v", err)
	}
	return a, root
}

func TestFSAdapterRoundTrip(t *testing.T) {
	a, root := newTestFS(t)

	if _, ok, err := a.Stat("/meter/sd-1-4-0.json"); err != nil || ok {
		t.Fatalf("expected missing document, ok=%v err=%v", ok, err)
	}

	doc := []byte(`{"timestamp":"2024-01-01T00:00:00Z"}`)
	if err := a.Store("/meter/sd-1-4-0.json", doc); err != nil {
		t.Fatalf("store: %v", err)
	}

	size, ok, err := a.Stat("/meter/sd-1-4-0.json")
	if err != nil || !ok || size != int64(len(doc)) {
		t.Fatalf("unexpected stat: size=%d ok=%v err=%v", size, ok, err)
	}

	got, err := a.Load("/meter/sd-1-4-0.json")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != string(doc) {
		t.Fatalf("unexpected document %q", got)
	}

	if _, err := os.Stat(filepath.Join(root, "meter", "sd-1-4-0.json")); err != nil {
		t.Fatalf("expected file below root: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(root, "meter"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp file to be renamed away, got %d entries", len(entries))
	}
}

func TestFSAdapterOverwrite(t *testing.T) {
	a, _ := newTestFS(t)

	if err := a.Store("slot.json", []byte("first")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := a.Store("slot.json", []byte("second")); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := a.Load("slot.json")
	if err != nil || string(got) != "second" {
		t.Fatalf("expected overwritten document, got %q err=%v", got, err)
	}
}

func TestFSAdapterMissing(t *testing.T) {
	a, _ := newTestFS(t)

	if _, err := a.Load("nope.json"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist from load, got %v", err)
	}
	if err := a.Remove("nope.json"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist from remove, got %v", err)
	}
}

func TestFSAdapterRemove(t *testing.T) {
	a, _ := newTestFS(t)

	if err := a.Store("a/b.json", []byte("x")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := a.Remove("a/b.json"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := a.Stat("a/b.json"); ok {
		t.Fatalf("expected document to be gone")
	}
}

func TestFSAdapterStaysInsideRoot(t *testing.T) {
	a, root := newTestFS(t)

	if err := a.Store("../../escape.json", []byte("x")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.json")); err != nil {
		t.Fatalf("expected path to be clamped below root: %v", err)
	}
}

func TestNewFSAdapterRejectsEmptyRoot(t *testing.T) {
	if _, err := NewFSAdapter("  ", nil); err == nil {
		t.Fatalf("expected error for empty root")
	}
}
