package filestore

import (
	"errors"
	"io"
)

var ErrInvalidHash = errors.New("invalid content hash")

// Blob identifies stored content.
type Blob struct {
	Hash string
	Size int64
}

// FileStore keeps immutable blobs addressed by the SHA-256 of their content.
type FileStore interface {
	// Put stores the content read from r. Storing the same content twice
	// keeps a single copy.
	Put(r io.Reader) (Blob, error)

	// Open returns the content stored under hash.
	Open(hash string) (io.ReadCloser, error)
}
