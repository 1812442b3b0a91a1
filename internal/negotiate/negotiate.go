package negotiate

import (
	"context"
	"strings"

	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/logging"
	"image-optimizer/internal/metrics"
	"image-optimizer/internal/policy"
	"image-optimizer/internal/store"
)

// ClientCapabilities captures which modern formats the requesting
// client can decode.
type ClientCapabilities struct {
	AcceptsAVIF bool
	AcceptsWebP bool
}

// FromAcceptHeader derives capabilities from an HTTP Accept header.
func FromAcceptHeader(accept string) ClientCapabilities {
	return ClientCapabilities{
		AcceptsAVIF: strings.Contains(accept, "image/avif"),
		AcceptsWebP: strings.Contains(accept, "image/webp"),
	}
}

// Resolution is what the client should be served.
type Resolution struct {
	URL       string            `json:"url"`
	Format    imagetypes.Format `json:"format"`
	SizeBytes int64             `json:"sizeBytes"`

	// Optimized is false when the original was served, either because
	// nothing better was retained or the client cannot decode it.
	Optimized bool `json:"optimized"`
}

// RecordGetter is the read-only slice of the conversion store the
// negotiator needs.
type RecordGetter interface {
	Get(ctx context.Context, assetID string) (*store.Record, error)
}

// OriginalSource supplies the fallback original for assets without a
// usable record.
type OriginalSource interface {
	// Original returns the URL, format and size of the untouched
	// source image.
	Original(ctx context.Context, assetID string) (url string, format imagetypes.Format, size int64, err error)
}

// Negotiator picks the best encoding a given client can use. It only
// reads recorded state: a serve-time request never triggers conversion.
type Negotiator struct {
	records   RecordGetter
	originals OriginalSource
}

// New creates a Negotiator.
func New(records RecordGetter, originals OriginalSource) *Negotiator {
	return &Negotiator{records: records, originals: originals}
}

// Resolve returns the best available encoding for the client. It never
// fails due to optimization state: any record problem degrades to the
// original. The returned URL is empty only when the asset is unknown
// to both the store and the original source.
func (n *Negotiator) Resolve(ctx context.Context, assetID string, caps ClientCapabilities) Resolution {
	rec, err := n.records.Get(ctx, assetID)
	if err == nil && rec.Status == store.StatusOptimized {
		if res, ok := n.pickCandidate(rec, caps); ok {
			metrics.NegotiationsTotal.WithLabelValues(string(res.Format)).Inc()
			return res
		}
	}
	return n.original(ctx, assetID, rec)
}

// pickCandidate restricts retained candidates to what the client can
// decode, then picks the smallest with format priority as tie-break.
func (n *Negotiator) pickCandidate(rec *store.Record, caps ClientCapabilities) (Resolution, bool) {
	allowed := make(map[imagetypes.Format]int64, len(rec.Candidates))
	for format, c := range rec.Candidates {
		switch format {
		case imagetypes.FormatAVIF:
			if !caps.AcceptsAVIF {
				continue
			}
		case imagetypes.FormatWebP:
			if !caps.AcceptsWebP {
				continue
			}
		}
		// Re-encoded originals are universally decodable.
		allowed[format] = c.SizeBytes
	}

	best, _, ok := policy.Best(allowed)
	if !ok {
		return Resolution{}, false
	}
	c := rec.Candidates[best]
	return Resolution{URL: c.URL, Format: best, SizeBytes: c.SizeBytes, Optimized: true}, true
}

// original resolves the untouched source, preferring what the record
// already knows over an OriginalSource lookup.
func (n *Negotiator) original(ctx context.Context, assetID string, rec *store.Record) Resolution {
	var res Resolution
	if rec != nil && rec.OriginalURL != "" {
		res = Resolution{URL: rec.OriginalURL, Format: rec.OriginalFormat, SizeBytes: rec.OriginalSizeBytes}
	} else if n.originals != nil {
		url, format, size, err := n.originals.Original(ctx, assetID)
		if err != nil {
			logging.Debug("Negotiation for unknown asset %s: %v", assetID, err)
			metrics.NegotiationsTotal.WithLabelValues("none").Inc()
			return Resolution{}
		}
		res = Resolution{URL: url, Format: format, SizeBytes: size}
	}
	if res.URL == "" {
		metrics.NegotiationsTotal.WithLabelValues("none").Inc()
		return res
	}
	metrics.NegotiationsTotal.WithLabelValues("original").Inc()
	return res
}
