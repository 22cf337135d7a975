// Package identity keeps the anonymous user id that ties uploads and job
// records to one person across sessions.
package identity

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	prefix    = "anon_"
	randomLen = 9
)

// Store persists the id in a single file.
type Store struct {
	path string
}

// NewStore returns a Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path is the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted id, creating and saving a new one the first
// time.
func (s *Store) Load() (string, error) {
	b, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("read anon id: %w", err)
	}

	id := NewID()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write anon id: %w", err)
	}
	return id, nil
}

// NewID returns "anon_" followed by nine lowercase alphanumerics.
func NewID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + raw[:randomLen]
}
