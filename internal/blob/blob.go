package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a blob path does not exist.
var ErrNotFound = errors.New("blob not found")

// Store abstracts the host's blob storage. Paths are slash-separated
// and relative to the store root; URLs are what clients fetch.
type Store interface {
	// Read returns the full contents of the blob at path.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write stores data at path, replacing any existing blob, and
	// returns the public URL of the written blob.
	Write(ctx context.Context, path string, data []byte) (string, error)

	// Delete removes the blob at path. Deleting a missing blob is
	// not an error.
	Delete(ctx context.Context, path string) error

	// URL returns the public URL for a blob path without touching
	// storage.
	URL(path string) string
}
