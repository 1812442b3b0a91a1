package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"image-optimizer/internal/catalog"
	"image-optimizer/internal/imagetypes"
	"image-optimizer/internal/logging"
	"image-optimizer/internal/negotiate"
	"image-optimizer/internal/scheduler"
	"image-optimizer/internal/store"
)

// Stats returns aggregate optimization statistics.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.AggregateStats(r.Context())
	if err != nil {
		logging.Error("stats query failed: %v", err)
		writeJSONError(w, "failed to compute statistics", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// Pending returns how many assets still need processing.
func (h *Handlers) Pending(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountPending(r.Context())
	if err != nil {
		logging.Error("pending count failed: %v", err)
		writeJSONError(w, "failed to count pending assets", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int64{"pending": count})
}

// Capabilities reports what the running process can produce.
func (h *Handlers) Capabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.probe.Probe())
}

// BatchStart launches a batch run.
func (h *Handlers) BatchStart(w http.ResponseWriter, r *http.Request) {
	err := h.scheduler.Start(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrAlreadyRunning):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, scheduler.ErrNothingToProcess):
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
	case err != nil:
		logging.Error("batch start failed: %v", err)
		writeJSONError(w, "failed to start batch run", http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, h.scheduler.Progress())
	}
}

// BatchCancel requests cancellation of the active run. Idempotent.
func (h *Handlers) BatchCancel(w http.ResponseWriter, _ *http.Request) {
	h.scheduler.Cancel()
	writeJSONStatus(w, "cancellation requested")
}

// BatchProgress reports the state of the current or last run.
func (h *Handlers) BatchProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.scheduler.Progress())
}

// statusResponse augments the record with the boolean clients usually want.
type statusResponse struct {
	Optimized bool          `json:"optimized"`
	Record    *store.Record `json:"record,omitempty"`
}

// Status returns the conversion record for an asset.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, statusResponse{Optimized: false})
		return
	}
	if err != nil {
		logging.Error("status lookup for %s failed: %v", id, err)
		writeJSONError(w, "failed to load conversion record", http.StatusInternalServerError)
		return
	}
	writeJSON(w, statusResponse{Optimized: rec.Status == store.StatusOptimized, Record: rec})
}

// CandidateURL returns the stored URL for a specific retained format,
// selected with the ?format= query parameter.
func (h *Handlers) CandidateURL(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	format := imagetypes.Format(r.URL.Query().Get("format"))
	if format == "" {
		writeJSONError(w, "format query parameter is required", http.StatusBadRequest)
		return
	}

	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, "no conversion record for asset", http.StatusNotFound)
		return
	}
	if err != nil {
		logging.Error("url lookup for %s failed: %v", id, err)
		writeJSONError(w, "failed to load conversion record", http.StatusInternalServerError)
		return
	}

	cand, ok := rec.Candidates[format]
	if !ok || rec.Status != store.StatusOptimized {
		writeJSONError(w, "no retained candidate in that format", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]interface{}{"url": cand.URL, "sizeBytes": cand.SizeBytes})
}

// BestURL resolves the best candidate assuming a fully capable client.
func (h *Handlers) BestURL(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res := h.neg.Resolve(r.Context(), id, negotiate.ClientCapabilities{AcceptsAVIF: true, AcceptsWebP: true})
	if res.URL == "" {
		writeJSONError(w, "unknown asset", http.StatusNotFound)
		return
	}
	writeJSON(w, res)
}

// ConvertOne runs the pipeline for a single asset synchronously, as a
// diagnostic. The full record is returned whatever the outcome.
func (h *Handlers) ConvertOne(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := h.scheduler.ProcessOne(r.Context(), id)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeJSONError(w, "asset not found in catalog", http.StatusNotFound)
	case errors.Is(err, scheduler.ErrAssetBusy):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case err != nil:
		logging.Error("single conversion of %s failed: %v", id, err)
		writeJSONError(w, "conversion failed", http.StatusInternalServerError)
	default:
		writeJSON(w, rec)
	}
}

// DeleteRecord removes an asset's conversion record and its derived
// blobs, for hosts cascading an asset deletion.
func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()

	rec, err := h.store.Get(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logging.Error("delete lookup for %s failed: %v", id, err)
		writeJSONError(w, "failed to load conversion record", http.StatusInternalServerError)
		return
	}
	if rec != nil {
		for format, cand := range rec.Candidates {
			if path, ok := blobPathFromURL(cand.URL, h.config.PublicBaseURL); ok {
				if err := h.blobs.Delete(ctx, path); err != nil {
					logging.Warn("failed to delete %s candidate blob for %s: %v", format, id, err)
				}
			}
		}
	}

	if err := h.store.Delete(ctx, id); err != nil {
		logging.Error("record delete for %s failed: %v", id, err)
		writeJSONError(w, "failed to delete conversion record", http.StatusInternalServerError)
		return
	}
	writeJSONStatus(w, "deleted")
}
