package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/riverlevels/riverlevels/internal/atomicfile"
)

// FileStore keeps the mapping in a JSON file.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore for path. The file need not exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

// Load reads the mapping. A missing file yields an empty mapping.
func (s *FileStore) Load(_ context.Context) (Map, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Map{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %q: %w", s.path, err)
	}

	m := Map{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("state: parse %q: %w", s.path, err)
	}
	return m, nil
}

// Save writes the mapping with sorted keys and two-space indentation,
// replacing the file atomically.
func (s *FileStore) Save(_ context.Context, m Map) error {
	if m == nil {
		m = Map{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	data = append(data, '\n')
	if err := atomicfile.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("state: save %q: %w", s.path, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
