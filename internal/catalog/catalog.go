package catalog

import (
	"context"
	"errors"

	"image-optimizer/internal/imagetypes"
)

// ErrNotFound is returned when an asset id is unknown to the catalog.
var ErrNotFound = errors.New("asset not found in catalog")

// Asset describes one image known to the host's media catalog.
type Asset struct {
	// ID is the opaque stable identifier the optimizer keys everything by.
	ID string `json:"id"`

	// SourcePath is the blob-storage path of the original image.
	SourcePath string `json:"sourcePath"`

	// MimeType is the detected MIME type of the original.
	MimeType string `json:"mimeType"`

	// SizeBytes is the size of the original image.
	SizeBytes int64 `json:"sizeBytes"`
}

// Format returns the asset's source format, preferring the MIME type and
// falling back to the file extension.
func (a *Asset) Format() imagetypes.Format {
	if f := imagetypes.FromMime(a.MimeType); f != imagetypes.FormatUnknown {
		return f
	}
	return imagetypes.FromExtension(a.SourcePath)
}

// Catalog enumerates the image assets owned by the host environment.
// The optimizer only reads from it; asset lifecycle stays with the host.
type Catalog interface {
	// List returns up to limit assets starting at offset, in a stable
	// order. An empty slice means the catalog is exhausted.
	List(ctx context.Context, offset, limit int) ([]Asset, error)

	// Get looks up a single asset by id.
	Get(ctx context.Context, id string) (*Asset, error)

	// Count returns the total number of image assets.
	Count(ctx context.Context) (int, error)
}
