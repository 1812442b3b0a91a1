package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"image-optimizer/internal/blob"
	"image-optimizer/internal/catalog"
	"image-optimizer/internal/convert"
	"image-optimizer/internal/negotiate"
	"image-optimizer/internal/policy"
	"image-optimizer/internal/probe"
	"image-optimizer/internal/scheduler"
	"image-optimizer/internal/startup"
	"image-optimizer/internal/store"
)

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

type testServer struct {
	router *mux.Router
	store  *store.Store
	cat    *fakeCatalog
	blobs  blob.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cat := &fakeCatalog{}
	blobs := blob.NewFS(t.TempDir(), "/media")

	st, err := store.New(context.Background(), filepath.Join(t.TempDir(), "conversions.db"), cat, 3)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := &startup.Config{PublicBaseURL: "/media", PreserveOriginals: true}
	conv := convert.New(4096, 0)
	pr := probe.New(nil)
	sched := scheduler.New(st, cat, blobs, conv, pr, nil,
		policy.Config{MinSavingsPct: 5},
		scheduler.Config{BatchSize: 10, Workers: 1, WebPQuality: 60})
	neg := negotiate.New(st, negotiate.NewCatalogOriginals(cat, blobs))

	h := New(st, sched, neg, pr, blobs, cfg)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	return &testServer{router: router, store: st, cat: cat, blobs: blobs}
}

// addNoiseAsset seeds an incompressible PNG so lossy conversion
// reliably clears the savings threshold.
func (s *testServer) addNoiseAsset(t *testing.T, id string) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, 48, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := s.blobs.Write(context.Background(), id, buf.Bytes()); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	s.cat.assets = append(s.cat.assets, catalog.Asset{ID: id, SourcePath: id, MimeType: "image/png", SizeBytes: int64(buf.Len())})
}

func (s *testServer) do(t *testing.T, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/optimizer/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	stats := decodeBody[store.AggregateStats](t, rec)
	if stats.TotalOptimized != 0 {
		t.Errorf("fresh store TotalOptimized = %d", stats.TotalOptimized)
	}
}

func TestPendingEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.addNoiseAsset(t, "a.png")

	rec := s.do(t, "GET", "/api/optimizer/pending", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]int64](t, rec)
	if body["pending"] != 1 {
		t.Errorf("pending = %d, want 1", body["pending"])
	}
}

func TestCapabilitiesEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/optimizer/capabilities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	caps := decodeBody[probe.Capabilities](t, rec)
	if !caps.WebPSupported {
		t.Error("WebPSupported = false")
	}
}

func TestConvertAndQueryFlow(t *testing.T) {
	s := newTestServer(t)
	s.addNoiseAsset(t, "photos/a.png")

	rec := s.do(t, "POST", "/api/optimizer/convert/photos/a.png", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("convert status = %d: %s", rec.Code, rec.Body.String())
	}
	converted := decodeBody[store.Record](t, rec)
	if converted.Status != store.StatusOptimized {
		t.Fatalf("record status = %s, want optimized", converted.Status)
	}

	// Status endpoint reflects the stored record.
	rec = s.do(t, "GET", "/api/optimizer/status/photos/a.png", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}
	st := decodeBody[statusResponse](t, rec)
	if !st.Optimized || st.Record == nil {
		t.Fatalf("status = %+v, want optimized with record", st)
	}

	// Candidate URL by explicit format.
	rec = s.do(t, "GET", "/api/optimizer/url/photos/a.png?format=webp", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("url endpoint = %d: %s", rec.Code, rec.Body.String())
	}

	// Missing format is rejected.
	rec = s.do(t, "GET", "/api/optimizer/url/photos/a.png", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("url without format = %d, want 400", rec.Code)
	}

	// Unretained format yields 404.
	rec = s.do(t, "GET", "/api/optimizer/url/photos/a.png?format=avif", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("url for unretained avif = %d, want 404", rec.Code)
	}

	// Best URL for a fully capable client.
	rec = s.do(t, "GET", "/api/optimizer/best/photos/a.png", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("best endpoint = %d", rec.Code)
	}
	best := decodeBody[negotiate.Resolution](t, rec)
	if !best.Optimized || best.URL == "" {
		t.Errorf("best = %+v", best)
	}
}

func TestStatusForUnknownAsset(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/api/optimizer/status/nope.png", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	st := decodeBody[statusResponse](t, rec)
	if st.Optimized || st.Record != nil {
		t.Errorf("unknown asset status = %+v", st)
	}
}

func TestConvertUnknownAsset(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "POST", "/api/optimizer/convert/ghost.png", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServeImageNegotiates(t *testing.T) {
	s := newTestServer(t)
	s.addNoiseAsset(t, "a.png")

	if rec := s.do(t, "POST", "/api/optimizer/convert/a.png", nil); rec.Code != http.StatusOK {
		t.Fatalf("convert = %d", rec.Code)
	}

	// A webp-capable client is redirected to the candidate.
	rec := s.do(t, "GET", "/api/image/a.png", map[string]string{"Accept": "image/webp,*/*"})
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/media/a.png.webp" {
		t.Errorf("Location = %q", loc)
	}
	if vary := rec.Header().Get("Vary"); vary != "Accept" {
		t.Errorf("Vary = %q", vary)
	}

	// A legacy client gets the original.
	rec = s.do(t, "GET", "/api/image/a.png", map[string]string{"Accept": "image/png"})
	if rec.Code != http.StatusFound {
		t.Fatalf("legacy status = %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/media/a.png" {
		t.Errorf("legacy Location = %q", loc)
	}
}

func TestServeImageUnknownAsset(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, "GET", "/api/image/ghost.png", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteRecordCascades(t *testing.T) {
	s := newTestServer(t)
	s.addNoiseAsset(t, "a.png")
	ctx := context.Background()

	if rec := s.do(t, "POST", "/api/optimizer/convert/a.png", nil); rec.Code != http.StatusOK {
		t.Fatalf("convert = %d", rec.Code)
	}
	if _, err := s.blobs.Read(ctx, "a.png.webp"); err != nil {
		t.Fatalf("candidate blob missing before delete: %v", err)
	}

	rec := s.do(t, "DELETE", "/api/optimizer/records/a.png", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := s.store.Get(ctx, "a.png"); err == nil {
		t.Error("record survived delete")
	}
	if _, err := s.blobs.Read(ctx, "a.png.webp"); err == nil {
		t.Error("candidate blob survived delete")
	}
}

func TestBatchEndpoints(t *testing.T) {
	s := newTestServer(t)

	// Nothing to process yet.
	rec := s.do(t, "POST", "/api/optimizer/batch/start", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty start = %d, want 422", rec.Code)
	}

	rec = s.do(t, "GET", "/api/optimizer/batch/progress", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress = %d", rec.Code)
	}
	progress := decodeBody[scheduler.Progress](t, rec)
	if progress.State != scheduler.StateIdle {
		t.Errorf("State = %s, want idle", progress.State)
	}

	// Cancel with no active run is a harmless no-op.
	if rec := s.do(t, "POST", "/api/optimizer/batch/cancel", nil); rec.Code != http.StatusOK {
		t.Errorf("cancel = %d", rec.Code)
	}
}

func TestBatchStartAcceptedResponse(t *testing.T) {
	s := newTestServer(t)
	s.addNoiseAsset(t, "a.png")

	rec := s.do(t, "POST", "/api/optimizer/batch/start", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start = %d, want 202", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	// The snapshot races the run goroutine; it may already be done.
	progress := decodeBody[scheduler.Progress](t, rec)
	if progress.State == scheduler.StateIdle {
		t.Errorf("State = %s, want an active or finished run", progress.State)
	}

	// Let the run drain before the store is torn down.
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		rec = s.do(t, "GET", "/api/optimizer/batch/progress", nil)
		if decodeBody[scheduler.Progress](t, rec).State != scheduler.StateRunning {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch run did not finish in time")
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	health := decodeBody[HealthResponse](t, rec)
	if !health.Ready || !health.WebPSupported {
		t.Errorf("health = %+v", health)
	}

	if rec := s.do(t, "GET", "/livez", nil); rec.Code != http.StatusOK {
		t.Errorf("livez = %d", rec.Code)
	}
	if rec := s.do(t, "GET", "/readyz", nil); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}

	rec = s.do(t, "GET", "/version", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("version = %d", rec.Code)
	}
	info := decodeBody[startup.BuildInfo](t, rec)
	if info.GoVersion == "" {
		t.Error("version response missing goVersion")
	}
}
