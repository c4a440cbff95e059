// Package fs stores file content on the local filesystem, one blob per
// identifier under a single data directory.
package fs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pavel-fokin/filekeeper/internal/files"
)

// Storage implements files.BlobStore using the filesystem.
type Storage struct {
	dataDir string
}

// NewStorage creates a filesystem blob store rooted at dataDir.
func NewStorage(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Storage{dataDir: dataDir}, nil
}

// Write persists content at the path derived from ref. Refs are unique at
// creation time, but an accidental overwrite replaces the blob whole
// rather than corrupting it: the content is written to a temp file and
// renamed into place.
func (s *Storage) Write(ref string, content []byte) error {
	tmp, err := os.CreateTemp(s.dataDir, ".blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temp blob: %w", err)
	}

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write blob content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path(ref)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to place blob: %w", err)
	}

	return nil
}

// Read returns the full blob content for ref.
func (s *Storage) Read(ref string) ([]byte, error) {
	content, err := os.ReadFile(s.path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, files.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return content, nil
}

// Delete removes the blob for ref. Deleting a missing blob is not an
// error, so a retry after a partial failure is always safe.
func (s *Storage) Delete(ref string) error {
	if err := os.Remove(s.path(ref)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// Exists reports whether a blob is present for ref.
func (s *Storage) Exists(ref string) bool {
	_, err := os.Stat(s.path(ref))
	return err == nil
}

func (s *Storage) path(ref string) string {
	return filepath.Join(s.dataDir, ref)
}
