package negotiate

import (
	"context"

	"image-optimizer/internal/blob"
	"image-optimizer/internal/catalog"
	"image-optimizer/internal/imagetypes"
)

// CatalogOriginals resolves originals straight from the host catalog
// and blob store, for assets the optimizer has never touched.
type CatalogOriginals struct {
	cat   catalog.Catalog
	blobs blob.Store
}

// NewCatalogOriginals creates the default OriginalSource.
func NewCatalogOriginals(cat catalog.Catalog, blobs blob.Store) *CatalogOriginals {
	return &CatalogOriginals{cat: cat, blobs: blobs}
}

// Original implements OriginalSource.
func (o *CatalogOriginals) Original(ctx context.Context, assetID string) (string, imagetypes.Format, int64, error) {
	asset, err := o.cat.Get(ctx, assetID)
	if err != nil {
		return "", imagetypes.FormatUnknown, 0, err
	}
	return o.blobs.URL(asset.SourcePath), asset.Format(), asset.SizeBytes, nil
}
