package blob

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"image-optimizer/internal/logging"
)

// FS is a Store rooted at a local directory. URLs are formed by joining
// a base URL prefix with the blob path.
type FS struct {
	root    string
	baseURL string
}

// NewFS creates a filesystem store. baseURL should not end in a slash.
func NewFS(root, baseURL string) *FS {
	return &FS{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// resolve maps a blob path onto the filesystem, rejecting anything that
// would escape the root.
func (s *FS) resolve(p string) (string, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// Read implements Store.
func (s *FS) Read(ctx context.Context, p string) ([]byte, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", p, err)
	}
	return data, nil
}

// Write implements Store. The blob is written to a temporary file and
// renamed into place so readers never observe a partial blob.
func (s *FS) Write(ctx context.Context, p string, data []byte) (string, error) {
	full, err := s.resolve(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("creating blob directory for %s: %w", p, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("creating temp blob for %s: %w", p, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing blob %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing blob %s: %w", p, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publishing blob %s: %w", p, err)
	}

	logging.Debug("Wrote blob %s (%d bytes)", p, len(data))
	return s.URL(p), nil
}

// Delete implements Store.
func (s *FS) Delete(ctx context.Context, p string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting blob %s: %w", p, err)
	}
	return nil
}

// URL implements Store.
func (s *FS) URL(p string) string {
	return s.baseURL + "/" + strings.TrimLeft(path.Clean("/"+p), "/")
}
