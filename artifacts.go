package provchain

import (
	"fmt"
	"os"
	"path/filepath"
)

// ArtifactResolver resolves an artifact ref to its bytes at verification
// time. Resolve fails with ErrArtifactMissing when the ref points at nothing.
type ArtifactResolver interface {
	Resolve(ref string) ([]byte, error)
}

// ArtifactStore is the write side used during ingestion.
type ArtifactStore interface {
	ArtifactResolver
	Put(ref string, data []byte) error
}

// DirArtifacts stores artifacts as files in a single directory. Refs are bare
// file names; anything that could escape the directory is rejected.
type DirArtifacts struct {
	dir string
}

// NewDirArtifacts creates the artifact directory if needed.
func NewDirArtifacts(dir string) (*DirArtifacts, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, storageErr("create artifacts dir", err)
	}
	return &DirArtifacts{dir: dir}, nil
}

func (d *DirArtifacts) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || ref == "." || ref == ".." {
		return "", fmt.Errorf("invalid artifact ref %q", ref)
	}
	return filepath.Join(d.dir, ref), nil
}

// Put writes artifact bytes under ref, atomically via temp file + rename so a
// concurrent verification never reads a half-written artifact.
func (d *DirArtifacts) Put(ref string, data []byte) error {
	path, err := d.path(ref)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return storageErr("write artifact", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return storageErr("commit artifact", err)
	}
	return nil
}

// Resolve reads the artifact bytes for ref.
func (d *DirArtifacts) Resolve(ref string) ([]byte, error) {
	path, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, ref)
	}
	if err != nil {
		return nil, storageErr("read artifact", err)
	}
	return data, nil
}
