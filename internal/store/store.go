// Package store persists the last-known avatar session identifier across
// process runs. The stored value is how a new session detects an orphaned
// remote session that was never stopped cleanly.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionKey is the fixed name under which the identifier is kept.
const SessionKey = "avatar_session_id"

// SessionStore is the interface the avatar controller needs from durable
// storage: a single string slot.
type SessionStore interface {
	// Get returns the stored session id, or ok=false if none is stored.
	Get() (id string, ok bool)

	// Set stores the session id, replacing any previous value.
	Set(id string) error

	// Clear removes the stored session id. Clearing an empty store is not
	// an error.
	Clear() error
}

// fileData is the on-disk JSON structure.
type fileData struct {
	Version   int               `json:"version"`
	UpdatedAt string            `json:"updated_at"`
	Entries   map[string]string `json:"entries"`
}

const currentVersion = 1

// FileStore implements SessionStore using a small JSON file.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]string
}

// NewFileStore creates a store backed by the given path. The directory is
// created if needed; a missing file means no session has ever been stored.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		entries: make(map[string]string),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("store: read: %w", err)
	}

	var stored fileData
	if err := json.Unmarshal(data, &stored); err != nil {
		// A corrupt state file should not block a new session; start clean.
		return s, nil
	}
	if stored.Entries != nil {
		s.entries = stored.Entries
	}
	return s, nil
}

// NewDefaultStore creates a store at ~/.visage/state.json.
func NewDefaultStore() (*FileStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("store: home directory: %w", err)
	}
	return NewFileStore(filepath.Join(home, ".visage", "state.json"))
}

// Get implements SessionStore.
func (s *FileStore) Get() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[SessionKey]
	return id, ok && id != ""
}

// Set implements SessionStore.
func (s *FileStore) Set(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[SessionKey] = id
	return s.save()
}

// Clear implements SessionStore.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[SessionKey]; !ok {
		return nil
	}
	delete(s.entries, SessionKey)
	return s.save()
}

// save writes the store to disk. Caller must hold s.mu.
func (s *FileStore) save() error {
	out := fileData{
		Version:   currentVersion,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Entries:   s.entries,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}

	// Write-then-rename so a crash mid-write cannot corrupt the store.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory SessionStore for tests.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

// Get implements SessionStore.
func (m *MemoryStore) Get() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, m.id != ""
}

// Set implements SessionStore.
func (m *MemoryStore) Set(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = id
	return nil
}

// Clear implements SessionStore.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	return nil
}

var (
	_ SessionStore = (*FileStore)(nil)
	_ SessionStore = (*MemoryStore)(nil)
)
