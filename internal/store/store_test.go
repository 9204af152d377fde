package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if _, ok := s.Get(); ok {
		t.Error("fresh store should be empty")
	}

	if err := s.Set("sess-123"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	id, ok := s.Get()
	if !ok || id != "sess-123" {
		t.Errorf("expected sess-123, got %q (ok=%v)", id, ok)
	}

	// A new store instance over the same file must see the value.
	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	id, ok = s2.Get()
	if !ok || id != "sess-123" {
		t.Errorf("expected persisted sess-123, got %q (ok=%v)", id, ok)
	}

	if err := s2.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok := s2.Get(); ok {
		t.Error("store should be empty after Clear")
	}
}

func TestFileStoreClearIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	if err := s.Clear(); err != nil {
		t.Errorf("clearing an empty store should succeed: %v", err)
	}
	if err := s.Set("a"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Errorf("first clear failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Errorf("second clear failed: %v", err)
	}
}

func TestFileStoreCorruptFileStartsClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("corrupt file should not fail open: %v", err)
	}
	if _, ok := s.Get(); ok {
		t.Error("corrupt store should read as empty")
	}
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	if _, ok := m.Get(); ok {
		t.Error("fresh memory store should be empty")
	}
	_ = m.Set("x")
	if id, ok := m.Get(); !ok || id != "x" {
		t.Errorf("expected x, got %q", id)
	}
	_ = m.Clear()
	if _, ok := m.Get(); ok {
		t.Error("memory store should be empty after Clear")
	}
}
