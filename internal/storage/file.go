package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"hls-relay/internal/session"
)

// FileStore keeps the session in a JSON file, replaced atomically on save.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file store: create dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Load implements session.Store.
func (s *FileStore) Load(_ context.Context) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, session.ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("file store: read: %w", err)
	}
	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("file store: decode: %w", err)
	}
	return &sess, nil
}

// Save implements session.Store. renameio handles the temp file, fsync and
// rename, so readers never see a half-written file.
func (s *FileStore) Save(_ context.Context, sess *session.Session) error {
	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := renameio.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("file store: write: %w", err)
	}
	return nil
}

// Clear implements session.Store.
func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file store: remove: %w", err)
	}
	return nil
}

// Close implements Backend.
func (s *FileStore) Close() error { return nil }
