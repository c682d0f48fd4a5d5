package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage persists the raw session payload under a single key.
// Load returns ErrNotStored when nothing has been persisted yet.
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
	// Remove deletes the payload (idempotent).
	Remove() error
}

// ErrNotStored is returned by Storage.Load when no payload exists.
var ErrNotStored = errors.New("session not stored")

// FileStorage is the default disk-backed implementation. Writes are atomic
// (temp file + rename) and the file is readable by the owner only.
type FileStorage struct {
	Path string
}

// NewFileStorage returns a FileStorage rooted at path, or at DefaultPath when
// path is empty.
func NewFileStorage(path string) *FileStorage {
	if path == "" {
		path = DefaultPath()
	}
	return &FileStorage{Path: path}
}

// Load reads the session file.
func (f *FileStorage) Load() ([]byte, error) {
	data, err := os.ReadFile(filepath.Clean(f.Path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotStored
		}
		return nil, fmt.Errorf("session: read failed: %w", err)
	}
	return data, nil
}

// Save writes data atomically.
func (f *FileStorage) Save(data []byte) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("session: mkdir failed: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session.tmp-*")
	if err != nil {
		return fmt.Errorf("session: temp create failed: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("session: temp write failed: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return fmt.Errorf("session: chmod failed: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("session: sync failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("session: close failed: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return fmt.Errorf("session: atomic rename failed: %w", err)
	}
	return nil
}

// Remove deletes the session file; a missing file is not an error.
func (f *FileStorage) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: remove failed: %w", err)
	}
	return nil
}

// MemoryStorage keeps the payload in memory. Used by tests and --ephemeral runs.
type MemoryStorage struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemoryStorage creates a MemoryStorage, optionally pre-seeded with data.
func NewMemoryStorage(seed []byte) *MemoryStorage {
	m := &MemoryStorage{}
	if seed != nil {
		m.data = append([]byte(nil), seed...)
	}
	return m
}

// Load returns a copy of the stored payload.
func (m *MemoryStorage) Load() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.data == nil {
		return nil, ErrNotStored
	}
	return append([]byte(nil), m.data...), nil
}

// Save replaces the stored payload.
func (m *MemoryStorage) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte{}, data...)
	return nil
}

// Remove drops the stored payload.
func (m *MemoryStorage) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	return nil
}

// DefaultPath returns the OS-specific default session file location.
func DefaultPath() string {
	return filepath.Join(userConfigDir(), "datadash", "session.yaml")
}

// userConfigDir attempts to resolve a configuration directory in a portable way.
func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".config")
	}
	return "."
}
