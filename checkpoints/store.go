package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Store persists checkpoints under opaque artifact ids. Save returns
// the id of the stored snapshot; Load retrieves it.
type Store interface {
	Save(checkpoint *Checkpoint) (string, error)
	Load(artifactID string) (*Checkpoint, error)
}

// DirStore keeps each checkpoint as one JSON file in a directory, named
// by a fresh UUID per save.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed and returns a store over
// it.
func NewDirStore(dir string) (*DirStore, error) {
	if dir == "" {
		return nil, errors.New("checkpoint directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating checkpoint directory")
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the directory backing the store.
func (s *DirStore) Dir() string { return s.dir }

// Save writes the checkpoint as indented JSON and returns its new
// artifact id. Every save gets a distinct id; saves never overwrite.
func (s *DirStore) Save(checkpoint *Checkpoint) (string, error) {
	if checkpoint == nil {
		return "", errors.New("cannot save a nil checkpoint")
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}
	if checkpoint.Metadata.Version == "" {
		checkpoint.Metadata.Version = "1"
	}

	artifactID := uuid.NewString()
	file, err := os.Create(s.path(artifactID))
	if err != nil {
		return "", errors.Wrap(err, "creating checkpoint file")
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(checkpoint); err != nil {
		return "", errors.Wrap(err, "encoding checkpoint")
	}
	return artifactID, nil
}

// Load reads the checkpoint stored under artifactID.
func (s *DirStore) Load(artifactID string) (*Checkpoint, error) {
	file, err := os.Open(s.path(artifactID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Errorf("no checkpoint with artifact id %q", artifactID)
		}
		return nil, errors.Wrap(err, "opening checkpoint file")
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, errors.Wrap(err, "decoding checkpoint")
	}
	return &checkpoint, nil
}

func (s *DirStore) path(artifactID string) string {
	return filepath.Join(s.dir, artifactID+".json")
}
