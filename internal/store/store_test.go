package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"image-optimizer/internal/catalog"
	"image-optimizer/internal/imagetypes"
)

// fakeCatalog serves a fixed asset list.
type fakeCatalog struct {
	assets []catalog.Asset
}

func (f *fakeCatalog) List(ctx context.Context, offset, limit int) ([]catalog.Asset, error) {
	if offset < 0 || offset >= len(f.assets) {
		return nil, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(f.assets) {
		end = len(f.assets)
	}
	return f.assets[offset:end], nil
}

func (f *fakeCatalog) Get(ctx context.Context, id string) (*catalog.Asset, error) {
	for i := range f.assets {
		if f.assets[i].ID == id {
			return &f.assets[i], nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeCatalog) Count(ctx context.Context) (int, error) {
	return len(f.assets), nil
}

func newTestStore(t *testing.T, cat catalog.Catalog) *Store {
	t.Helper()
	if cat == nil {
		cat = &fakeCatalog{}
	}
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "conversions.db"), cat, 3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func optimizedRecord(id string) *Record {
	return &Record{
		AssetID:           id,
		OriginalFormat:    imagetypes.FormatJPEG,
		OriginalSizeBytes: 500000,
		OriginalURL:       "/media/" + id,
		Status:            StatusOptimized,
		Candidates: map[imagetypes.Format]Candidate{
			imagetypes.FormatAVIF: {URL: "/media/" + id + ".avif", SizeBytes: 300000},
		},
	}
}

func TestUpsertGetRoundtrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, nil)
	ctx := context.Background()

	rec := optimizedRecord("a.jpg")
	rec.Candidates[imagetypes.FormatWebP] = Candidate{URL: "/media/a.jpg.webp", SizeBytes: 350000}
	if err := s.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(ctx, "a.jpg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusOptimized {
		t.Errorf("Status = %s, want optimized", got.Status)
	}
	if got.OriginalFormat != imagetypes.FormatJPEG || got.OriginalSizeBytes != 500000 {
		t.Errorf("original = %s/%d", got.OriginalFormat, got.OriginalSizeBytes)
	}
	if len(got.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got.Candidates))
	}
	if c := got.Candidates[imagetypes.FormatAVIF]; c.SizeBytes != 300000 {
		t.Errorf("avif candidate = %+v", c)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not populated")
	}
}

func TestUpsertReplacesCandidates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, nil)
	ctx := context.Background()

	if err := s.Upsert(ctx, optimizedRecord("a.jpg")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	updated := optimizedRecord("a.jpg")
	updated.Candidates = map[imagetypes.Format]Candidate{
		imagetypes.FormatWebP: {URL: "/media/a.jpg.webp", SizeBytes: 320000},
	}
	if err := s.Upsert(ctx, updated); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, err := s.Get(ctx, "a.jpg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got.Candidates))
	}
	if _, ok := got.Candidates[imagetypes.FormatAVIF]; ok {
		t.Error("stale avif candidate survived the upsert")
	}
}

func TestGetMissing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, nil)

	_, err := s.Get(context.Background(), "missing.jpg")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCascades(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, nil)
	ctx := context.Background()

	if err := s.Upsert(ctx, optimizedRecord("a.jpg")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, "a.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "a.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM candidates WHERE asset_id = 'a.jpg'`).Scan(&count); err != nil {
		t.Fatalf("counting candidates: %v", err)
	}
	if count != 0 {
		t.Errorf("candidate rows = %d, want 0 after cascade", count)
	}

	// Deleting again is not an error.
	if err := s.Delete(ctx, "a.jpg"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestListPending(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("img%d.jpg", i)
		cat.assets = append(cat.assets, catalog.Asset{ID: id, SourcePath: id, MimeType: "image/jpeg", SizeBytes: 200000})
	}
	s := newTestStore(t, cat)
	ctx := context.Background()

	// img0 optimized, img1 skipped, img2 failed under the cap,
	// img3 failed at the cap, img4 has no record.
	if err := s.Upsert(ctx, optimizedRecord("img0.jpg")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	skipped := optimizedRecord("img1.jpg")
	skipped.Status = StatusSkipped
	skipped.Candidates = nil
	skipped.SkipReason = "insufficient savings"
	if err := s.Upsert(ctx, skipped); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	failed := optimizedRecord("img2.jpg")
	failed.Status = StatusFailed
	failed.Candidates = nil
	failed.FailureReason = "timeout"
	failed.Attempts = 1
	if err := s.Upsert(ctx, failed); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	exhausted := optimizedRecord("img3.jpg")
	exhausted.Status = StatusFailed
	exhausted.Candidates = nil
	exhausted.Attempts = 3
	if err := s.Upsert(ctx, exhausted); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	assets, next, err := s.ListPending(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("pending = %d assets, want 2 (retryable failed + unrecorded)", len(assets))
	}
	if assets[0].ID != "img2.jpg" || assets[1].ID != "img4.jpg" {
		t.Errorf("pending = %s, %s", assets[0].ID, assets[1].ID)
	}
	if next != -1 {
		t.Errorf("nextOffset = %d, want -1 (catalog exhausted)", next)
	}

	count, err := s.CountPending(ctx)
	if err != nil {
		t.Fatalf("CountPending: %v", err)
	}
	if count != 2 {
		t.Errorf("CountPending = %d, want 2", count)
	}
}

func TestListPendingRespectsLimitAndOffset(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{}
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("img%d.jpg", i)
		cat.assets = append(cat.assets, catalog.Asset{ID: id, SourcePath: id})
	}
	s := newTestStore(t, cat)
	ctx := context.Background()

	first, next, err := s.ListPending(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(first) != 2 || next <= 0 {
		t.Fatalf("first chunk = %d assets, next = %d", len(first), next)
	}

	rest, next, err := s.ListPending(ctx, 10, next)
	if err != nil {
		t.Fatalf("ListPending resume: %v", err)
	}
	if len(rest) != 2 {
		t.Fatalf("second chunk = %d assets, want 2", len(rest))
	}
	if first[0].ID == rest[0].ID {
		t.Error("resumed chunk repeated an asset")
	}
	if next != -1 {
		t.Errorf("final nextOffset = %d, want -1", next)
	}
}

func TestCursorPersistence(t *testing.T) {
	t.Parallel()
	s := newTestStore(t, nil)
	ctx := context.Background()

	cursor, err := s.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cursor != 0 {
		t.Errorf("initial cursor = %d, want 0", cursor)
	}

	if err := s.SetCursor(ctx, 42); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	cursor, err = s.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cursor != 42 {
		t.Errorf("cursor = %d, want 42", cursor)
	}

	if err := s.SetCursor(ctx, 0); err != nil {
		t.Fatalf("SetCursor reset: %v", err)
	}
	cursor, _ = s.Cursor(ctx)
	if cursor != 0 {
		t.Errorf("reset cursor = %d, want 0", cursor)
	}
}

func TestAggregateStats(t *testing.T) {
	t.Parallel()
	cat := &fakeCatalog{assets: []catalog.Asset{{ID: "pending.jpg", SourcePath: "pending.jpg"}}}
	s := newTestStore(t, cat)
	ctx := context.Background()

	// 500000 original with a 300000 candidate saves 200000 (40%).
	if err := s.Upsert(ctx, optimizedRecord("a.jpg")); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	skipped := &Record{AssetID: "b.jpg", OriginalFormat: imagetypes.FormatPNG, OriginalSizeBytes: 40000, Status: StatusSkipped, SkipReason: "source below minimum size floor"}
	if err := s.Upsert(ctx, skipped); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	stats, err := s.AggregateStats(ctx)
	if err != nil {
		t.Fatalf("AggregateStats: %v", err)
	}
	if stats.TotalOptimized != 1 || stats.TotalSkipped != 1 || stats.TotalFailed != 0 {
		t.Errorf("counts = %d/%d/%d", stats.TotalOptimized, stats.TotalSkipped, stats.TotalFailed)
	}
	if stats.BytesSaved != 200000 {
		t.Errorf("BytesSaved = %d, want 200000", stats.BytesSaved)
	}
	if stats.AvgSavingsPct < 39.9 || stats.AvgSavingsPct > 40.1 {
		t.Errorf("AvgSavingsPct = %f, want ~40", stats.AvgSavingsPct)
	}
	if stats.PerFormatCounts["avif"] != 1 {
		t.Errorf("PerFormatCounts = %v", stats.PerFormatCounts)
	}

	got := s.GetStats()
	if got.TotalOptimized != 1 || got.PendingAssets != 1 {
		t.Errorf("GetStats = %+v", got)
	}
}

func TestBestCandidateTieBreak(t *testing.T) {
	t.Parallel()
	rec := &Record{
		OriginalSizeBytes: 100000,
		Candidates: map[imagetypes.Format]Candidate{
			imagetypes.FormatAVIF: {URL: "/a.avif", SizeBytes: 60000},
			imagetypes.FormatWebP: {URL: "/a.webp", SizeBytes: 60000},
		},
	}
	format, best, ok := rec.BestCandidate()
	if !ok {
		t.Fatal("BestCandidate: no result")
	}
	if format != imagetypes.FormatAVIF {
		t.Errorf("tie broke to %s, want avif", format)
	}
	if best.SizeBytes != 60000 {
		t.Errorf("best size = %d", best.SizeBytes)
	}
	if saved := rec.BytesSaved(); saved != 40000 {
		t.Errorf("BytesSaved = %d, want 40000", saved)
	}

	empty := &Record{}
	if _, _, ok := empty.BestCandidate(); ok {
		t.Error("BestCandidate on empty record = ok")
	}
}
