package glue

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// SessionStore persists the current session id so a later process can
// reuse a warm session instead of provisioning a new one.
type SessionStore interface {
	// Load returns the stored id, or "" when nothing is stored.
	Load() (string, error)
	Save(id string) error
	Clear() error
}

// FileSessionStore keeps the id in a single file.
type FileSessionStore struct {
	fs   afero.Fs
	path string
}

var _ SessionStore = (*FileSessionStore)(nil)

// NewFileSessionStore returns a store backed by path on fs.
func NewFileSessionStore(fs afero.Fs, path string) *FileSessionStore {
	return &FileSessionStore{fs: fs, path: path}
}

func (s *FileSessionStore) Load() (string, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("glue: failed to read session file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileSessionStore) Save(id string) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("glue: failed to create session file directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, []byte(id+"\n"), 0o600); err != nil {
		return fmt.Errorf("glue: failed to write session file: %w", err)
	}
	return nil
}

func (s *FileSessionStore) Clear() error {
	err := s.fs.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("glue: failed to remove session file: %w", err)
	}
	return nil
}
