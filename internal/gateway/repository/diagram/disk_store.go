package diagram

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
)

// DiskStore keeps each record as <root>/<owner>/<repo>.json.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: strings.TrimSpace(root)}
}

func (s *DiskStore) Put(_ context.Context, key string, content []byte) error {
	fullPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return zerr.Wrap(err, "create diagram dir")
	}
	// Write then rename so a reader never sees a torn record.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".diagram-*")
	if err != nil {
		return zerr.Wrap(err, "create temp file")
	}
	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return zerr.Wrap(err, "write temp file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return zerr.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return zerr.Wrap(err, "rename diagram file")
	}
	return nil
}

func (s *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	fullPath, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, zerr.Wrap(err, "read diagram file")
	}
	return raw, nil
}

func (s *DiskStore) pathFor(key string) (string, error) {
	if s == nil {
		return "", ErrNilStore
	}
	if s.root == "" {
		return "", zerr.New("root is required")
	}
	key, err := normalizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)+".json"), nil
}
