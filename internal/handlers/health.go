package handlers

import (
	"net/http"
	"runtime"

	"image-optimizer/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status       string `json:"status"`
	Ready        bool   `json:"ready"`
	Version      string `json:"version"`
	BatchState   string `json:"batchState"`
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	AVIFSupported bool `json:"avifSupported"`
	WebPSupported bool `json:"webpSupported"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	caps := h.probe.Probe()
	progress := h.scheduler.Progress()

	response := HealthResponse{
		Ready:         true,
		Version:       startup.Version,
		BatchState:    string(progress.State),
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		NumGoroutine:  runtime.NumGoroutine(),
		AVIFSupported: caps.AVIFSupported,
		WebPSupported: caps.WebPSupported,
	}

	// The service still works without an AVIF encoder, but operators
	// should notice the reduced capability.
	if caps.AVIFSupported {
		response.Status = statusHealthy
	} else {
		response.Status = statusDegraded
	}

	writeJSON(w, response)
}

// Livez is the liveness probe endpoint
func (h *Handlers) Livez(w http.ResponseWriter, _ *http.Request) {
	writeJSONStatus(w, "alive")
}

// Readyz is the readiness probe endpoint. The store is required; a
// running batch does not affect readiness.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.CountPending(r.Context()); err != nil {
		writeJSONError(w, "conversion store unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSONStatus(w, "ready")
}

// Version returns build information
func (h *Handlers) Version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, startup.GetBuildInfo())
}
