package catalog

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/logging"
)

// defaultScanTTL bounds how stale a directory snapshot may get before
// the next call triggers a rescan.
const defaultScanTTL = 30 * time.Second

// Directory is a Catalog backed by a filesystem tree. IDs are
// slash-separated paths relative to the root, so they stay stable across
// restarts and double as blob-storage paths.
type Directory struct {
	root string
	ttl  time.Duration

	mu        sync.RWMutex
	assets    []Asset
	byID      map[string]Asset
	scannedAt time.Time
}

// NewDirectory creates a catalog over the given root directory.
func NewDirectory(root string) *Directory {
	return &Directory{
		root: root,
		ttl:  defaultScanTTL,
		byID: make(map[string]Asset),
	}
}

// SetScanTTL overrides the snapshot refresh interval. Zero forces a
// rescan on every call, which is only sensible in tests.
func (d *Directory) SetScanTTL(ttl time.Duration) {
	d.mu.Lock()
	d.ttl = ttl
	d.mu.Unlock()
}

// Refresh rescans the root directory immediately.
func (d *Directory) Refresh(ctx context.Context) error {
	return d.scan(ctx)
}

func (d *Directory) ensureFresh(ctx context.Context) error {
	d.mu.RLock()
	fresh := !d.scannedAt.IsZero() && time.Since(d.scannedAt) < d.ttl
	d.mu.RUnlock()
	if fresh {
		return nil
	}
	return d.scan(ctx)
}

func (d *Directory) scan(ctx context.Context) error {
	start := time.Now()
	var found []Asset

	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			logging.Warn("Catalog scan: skipping %s: %v", path, err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		name := entry.Name()
		if entry.IsDir() {
			if strings.HasPrefix(name, ".") && path != d.root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !imagetypes.IsSource(name) {
			return nil
		}

		rel, relErr := filepath.Rel(d.root, path)
		if relErr != nil {
			return nil
		}
		info, infoErr := entry.Info()
		if infoErr != nil {
			return nil
		}

		mime := detectMime(path, name)
		found = append(found, Asset{
			ID:         filepath.ToSlash(rel),
			SourcePath: filepath.ToSlash(rel),
			MimeType:   mime,
			SizeBytes:  info.Size(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanning %s: %w", d.root, err)
	}

	// Stable order keeps pagination deterministic across calls.
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })

	byID := make(map[string]Asset, len(found))
	for _, a := range found {
		byID[a.ID] = a
	}

	d.mu.Lock()
	d.assets = found
	d.byID = byID
	d.scannedAt = time.Now()
	d.mu.Unlock()

	logging.Debug("Catalog scan of %s found %d image assets in %v", d.root, len(found), time.Since(start))
	return nil
}

// detectMime sniffs the file content and falls back to the extension
// when the file cannot be read.
func detectMime(path, name string) string {
	if m, err := mimetype.DetectFile(path); err == nil {
		return m.String()
	}
	return imagetypes.MimeType(imagetypes.FromExtension(name))
}

// List implements Catalog.
func (d *Directory) List(ctx context.Context, offset, limit int) ([]Asset, error) {
	if err := d.ensureFresh(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if offset < 0 || offset >= len(d.assets) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(d.assets) {
		end = len(d.assets)
	}
	out := make([]Asset, end-offset)
	copy(out, d.assets[offset:end])
	return out, nil
}

// Get implements Catalog.
func (d *Directory) Get(ctx context.Context, id string) (*Asset, error) {
	if err := d.ensureFresh(ctx); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := a
	return &out, nil
}

// Count implements Catalog.
func (d *Directory) Count(ctx context.Context) (int, error) {
	if err := d.ensureFresh(ctx); err != nil {
		return 0, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.assets), nil
}
