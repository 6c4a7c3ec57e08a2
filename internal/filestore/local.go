package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

var hashRegex = regexp.MustCompile(`^[0-9a-f]{64}$`)

// LocalFileStore implements FileStore using the local filesystem.
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) getPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash)
}

func (s *LocalFileStore) Put(r io.Reader) (Blob, error) {
	// Write to temporary file first, the name is only known once the
	// content has been hashed.
	tmp, err := os.CreateTemp(s.root, "upload-*")
	if err != nil {
		return Blob{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), r)
	if err != nil {
		return Blob{}, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Blob{}, fmt.Errorf("failed to close temp file: %w", err)
	}

	blob := Blob{Hash: hex.EncodeToString(h.Sum(nil)), Size: size}
	path := s.getPath(blob.Hash)

	if _, err := os.Stat(path); err == nil {
		return blob, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Blob{}, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return Blob{}, fmt.Errorf("failed to rename file: %w", err)
	}

	return blob, nil
}

func (s *LocalFileStore) Open(hash string) (io.ReadCloser, error) {
	if !hashRegex.MatchString(hash) {
		return nil, ErrInvalidHash
	}
	f, err := os.Open(s.getPath(hash))
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", hash, err)
	}
	return f, nil
}
