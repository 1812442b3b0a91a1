package negotiate

import (
	"context"
	"errors"
	"testing"

	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/store"
)

type fakeRecords struct {
	records map[string]*store.Record
}

func (f *fakeRecords) Get(ctx context.Context, assetID string) (*store.Record, error) {
	if rec, ok := f.records[assetID]; ok {
		return rec, nil
	}
	return nil, store.ErrNotFound
}

type fakeOriginals struct {
	urls map[string]string
}

func (f *fakeOriginals) Original(ctx context.Context, assetID string) (string, imagetypes.Format, int64, error) {
	if url, ok := f.urls[assetID]; ok {
		return url, imagetypes.FormatJPEG, 500000, nil
	}
	return "", imagetypes.FormatUnknown, 0, errors.New("unknown asset")
}

func optimizedRecord() *store.Record {
	return &store.Record{
		AssetID:           "a.jpg",
		OriginalFormat:    imagetypes.FormatJPEG,
		OriginalSizeBytes: 500000,
		OriginalURL:       "/media/a.jpg",
		Status:            store.StatusOptimized,
		Candidates: map[imagetypes.Format]store.Candidate{
			imagetypes.FormatAVIF: {URL: "/media/a.jpg.avif", SizeBytes: 300000},
			imagetypes.FormatWebP: {URL: "/media/a.jpg.webp", SizeBytes: 350000},
		},
	}
}

func newNegotiator(records map[string]*store.Record) *Negotiator {
	return New(&fakeRecords{records: records}, &fakeOriginals{urls: map[string]string{"orig.jpg": "/media/orig.jpg"}})
}

func TestResolvePicksSmallestAccepted(t *testing.T) {
	t.Parallel()
	n := newNegotiator(map[string]*store.Record{"a.jpg": optimizedRecord()})
	ctx := context.Background()

	res := n.Resolve(ctx, "a.jpg", ClientCapabilities{AcceptsAVIF: true, AcceptsWebP: true})
	if res.Format != imagetypes.FormatAVIF || res.URL != "/media/a.jpg.avif" {
		t.Errorf("full client got %s (%s), want avif", res.Format, res.URL)
	}
	if !res.Optimized {
		t.Error("Optimized = false")
	}

	res = n.Resolve(ctx, "a.jpg", ClientCapabilities{AcceptsWebP: true})
	if res.Format != imagetypes.FormatWebP {
		t.Errorf("webp-only client got %s, want webp", res.Format)
	}
}

func TestResolveFallsBackToOriginal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Only an AVIF candidate retained; the client accepts only WebP.
	rec := optimizedRecord()
	delete(rec.Candidates, imagetypes.FormatWebP)
	n := newNegotiator(map[string]*store.Record{"a.jpg": rec})

	res := n.Resolve(ctx, "a.jpg", ClientCapabilities{AcceptsWebP: true})
	if res.URL != "/media/a.jpg" || res.Format != imagetypes.FormatJPEG {
		t.Errorf("got %s (%s), want the original jpeg", res.Format, res.URL)
	}
	if res.Optimized {
		t.Error("Optimized = true for an original serve")
	}

	// A client accepting nothing modern also gets the original.
	res = n.Resolve(ctx, "a.jpg", ClientCapabilities{})
	if res.URL != "/media/a.jpg" {
		t.Errorf("legacy client got %q, want original", res.URL)
	}
}

func TestResolveReencodedOriginalAlwaysAllowed(t *testing.T) {
	t.Parallel()
	rec := optimizedRecord()
	rec.Candidates = map[imagetypes.Format]store.Candidate{
		imagetypes.FormatJPEG: {URL: "/media/a.jpg.optimized.jpg", SizeBytes: 250000},
	}
	n := newNegotiator(map[string]*store.Record{"a.jpg": rec})

	res := n.Resolve(context.Background(), "a.jpg", ClientCapabilities{})
	if res.Format != imagetypes.FormatJPEG || res.URL != "/media/a.jpg.optimized.jpg" {
		t.Errorf("got %s (%s), want the re-encoded jpeg", res.Format, res.URL)
	}
	if !res.Optimized {
		t.Error("Optimized = false")
	}
}

func TestResolveNonOptimizedStatuses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, status := range []store.Status{store.StatusSkipped, store.StatusFailed, store.StatusPending} {
		rec := optimizedRecord()
		rec.Status = status
		n := newNegotiator(map[string]*store.Record{"a.jpg": rec})

		res := n.Resolve(ctx, "a.jpg", ClientCapabilities{AcceptsAVIF: true, AcceptsWebP: true})
		if res.URL != "/media/a.jpg" {
			t.Errorf("status %s resolved to %q, want original", status, res.URL)
		}
	}
}

func TestResolveUnknownAsset(t *testing.T) {
	t.Parallel()
	n := newNegotiator(nil)
	ctx := context.Background()

	// No record but the original source knows it.
	res := n.Resolve(ctx, "orig.jpg", ClientCapabilities{AcceptsAVIF: true})
	if res.URL != "/media/orig.jpg" || res.Optimized {
		t.Errorf("got %+v, want original fallback", res)
	}

	// Unknown everywhere resolves to an empty URL, never an error.
	res = n.Resolve(ctx, "ghost.jpg", ClientCapabilities{})
	if res.URL != "" {
		t.Errorf("ghost URL = %q, want empty", res.URL)
	}
}

func TestFromAcceptHeader(t *testing.T) {
	t.Parallel()
	tests := []struct {
		accept string
		want   ClientCapabilities
	}{
		{"image/avif,image/webp,image/png,*/*", ClientCapabilities{AcceptsAVIF: true, AcceptsWebP: true}},
		{"image/webp,*/*;q=0.8", ClientCapabilities{AcceptsWebP: true}},
		{"image/png,image/jpeg", ClientCapabilities{}},
		{"", ClientCapabilities{}},
	}
	for _, tc := range tests {
		if got := FromAcceptHeader(tc.accept); got != tc.want {
			t.Errorf("FromAcceptHeader(%q) = %+v, want %+v", tc.accept, got, tc.want)
		}
	}
}
