package storage

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store keeps uploaded file bytes on disk, one directory per
// workspace. Files are written once and read many times; overwriting
// an existing filename replaces it silently.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) WorkspaceDir(workspace string) string {
	return filepath.Join(s.root, "uploads", workspace)
}

func (s *Store) EnsureWorkspaceDir(workspace string) error {
	return os.MkdirAll(s.WorkspaceDir(workspace), 0o750)
}

// SaveFile streams content into the workspace directory and returns
// the sha256 of what was written.
func (s *Store) SaveFile(workspace, filename string, r io.Reader) (string, error) {
	if err := s.EnsureWorkspaceDir(workspace); err != nil {
		return "", err
	}

	path := filepath.Join(s.WorkspaceDir(workspace), filepath.Base(filename))
	dst, err := os.Create(path) // #nosec G304 -- path is rooted under the configured data dir
	if err != nil {
		return "", err
	}
	defer dst.Close()

	hash := sha256.New()
	mw := io.MultiWriter(dst, hash)
	if _, err := io.Copy(mw, r); err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

func (s *Store) ReadFile(workspace, filename string) ([]byte, error) {
	path := filepath.Join(s.WorkspaceDir(workspace), filepath.Base(filename))
	return os.ReadFile(path) // #nosec G304 -- path is rooted under the configured data dir
}

func (s *Store) RemoveWorkspace(workspace string) error {
	return os.RemoveAll(s.WorkspaceDir(workspace))
}
