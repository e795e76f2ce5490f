package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Store persists the registry as a full snapshot. The registry is small
// (one entry per lab node) so snapshot-per-mutation keeps the persisted
// view trivially consistent with memory.
type Store interface {
	// Save replaces the persisted snapshot.
	Save(ctx context.Context, nodes map[string]*Node) error

	// Load returns the persisted snapshot, or an empty map when nothing
	// has been saved yet.
	Load(ctx context.Context) (map[string]*Node, error)
}

// FileStore keeps the snapshot as a single JSON document on disk.
type FileStore struct {
	path string
}

// NewFileStore builds a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(_ context.Context, nodes map[string]*Node) error {
	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal registry snapshot")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create registry dir")
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write registry snapshot")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace registry snapshot")
}

func (s *FileStore) Load(_ context.Context) (map[string]*Node, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*Node{}, nil
		}
		return nil, errors.Wrap(err, "read registry snapshot")
	}

	nodes := map[string]*Node{}
	if len(data) == 0 {
		return nodes, nil
	}
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, errors.Wrap(err, "unmarshal registry snapshot")
	}
	return nodes, nil
}
