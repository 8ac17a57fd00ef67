package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"

	"docvault/internal/worker"
)

// Store persists the raw partition output as one JSON document per
// (workspace, file). The artifact is the replay contract: embedding
// and indexing can be re-run from it without calling the partition
// service again.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

// Path keeps the source extension in the artifact name so files that
// share a stem (report.pdf, report.txt) never replay each other's
// elements.
func (s *Store) Path(workspace, filename string) string {
	return filepath.Join(s.root, "output", workspace, filepath.Base(filename)+".json")
}

func (s *Store) Exists(workspace, filename string) bool {
	_, err := os.Stat(s.Path(workspace, filename))
	return err == nil
}

func (s *Store) Save(workspace, filename string, elements []worker.Element) error {
	path := s.Path(workspace, filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	data, err := json.MarshalIndent(elements, "", "  ")
	if err != nil {
		return err
	}

	// Write to a temp file first so a crash never leaves a truncated
	// artifact behind to be mistaken for a complete one.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) Load(workspace, filename string) ([]worker.Element, error) {
	data, err := os.ReadFile(s.Path(workspace, filename)) // #nosec G304 -- path is rooted under the configured data dir
	if err != nil {
		return nil, err
	}

	var elements []worker.Element
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, err
	}
	return elements, nil
}

func (s *Store) RemoveWorkspace(workspace string) error {
	return os.RemoveAll(filepath.Join(s.root, "output", workspace))
}
