package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// GrantStore persists the "previously granted" marker for this installation.
type GrantStore interface {
	Load() PermissionState
	Store(PermissionState) error
}

const grantFile = "microphone-permission"

// FileGrantStore keeps the marker in a small text file.
type FileGrantStore struct {
	path string
}

// NewFileGrantStore stores the marker under dir.
func NewFileGrantStore(dir string) *FileGrantStore {
	return &FileGrantStore{path: filepath.Join(dir, grantFile)}
}

// Path returns the marker file location.
func (s *FileGrantStore) Path() string { return s.path }

// Load returns unknown when the marker is missing or unreadable.
func (s *FileGrantStore) Load() PermissionState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return PermissionUnknown
	}
	return ParsePermission(strings.TrimSpace(string(data)))
}

func (s *FileGrantStore) Store(p PermissionState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return os.WriteFile(s.path, []byte(p.String()+"\n"), 0o600)
}

// MemoryGrantStore is a GrantStore that forgets on exit.
type MemoryGrantStore struct {
	mu    sync.Mutex
	state PermissionState
}

func NewMemoryGrantStore() *MemoryGrantStore { return &MemoryGrantStore{} }

func (s *MemoryGrantStore) Load() PermissionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *MemoryGrantStore) Store(p PermissionState) error {
	s.mu.Lock()
	s.state = p
	s.mu.Unlock()
	return nil
}
