package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"image-optimizer/internal/blob"
	"image-optimizer/internal/negotiate"
	"image-optimizer/internal/probe"
	"image-optimizer/internal/scheduler"
	"image-optimizer/internal/startup"
	"image-optimizer/internal/store"
)

type Handlers struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	neg       *negotiate.Negotiator
	probe     *probe.Probe
	blobs     blob.Store
	config    *startup.Config
}

func New(st *store.Store, sched *scheduler.Scheduler, neg *negotiate.Negotiator, pr *probe.Probe, blobs blob.Store, config *startup.Config) *Handlers {
	return &Handlers{
		store:     st,
		scheduler: sched,
		neg:       neg,
		probe:     pr,
		blobs:     blobs,
		config:    config,
	}
}

// RegisterRoutes attaches every API route to the router. Asset ids are
// relative paths, so the id matchers allow slashes.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/optimizer").Subrouter()
	api.HandleFunc("/stats", h.Stats).Methods(http.MethodGet).Name("stats")
	api.HandleFunc("/pending", h.Pending).Methods(http.MethodGet).Name("pending")
	api.HandleFunc("/capabilities", h.Capabilities).Methods(http.MethodGet).Name("capabilities")
	api.HandleFunc("/batch/start", h.BatchStart).Methods(http.MethodPost).Name("batch-start")
	api.HandleFunc("/batch/cancel", h.BatchCancel).Methods(http.MethodPost).Name("batch-cancel")
	api.HandleFunc("/batch/progress", h.BatchProgress).Methods(http.MethodGet).Name("batch-progress")
	api.HandleFunc("/status/{id:.+}", h.Status).Methods(http.MethodGet).Name("status")
	api.HandleFunc("/url/{id:.+}", h.CandidateURL).Methods(http.MethodGet).Name("url")
	api.HandleFunc("/best/{id:.+}", h.BestURL).Methods(http.MethodGet).Name("best")
	api.HandleFunc("/convert/{id:.+}", h.ConvertOne).Methods(http.MethodPost).Name("convert")
	api.HandleFunc("/records/{id:.+}", h.DeleteRecord).Methods(http.MethodDelete).Name("delete-record")

	r.HandleFunc("/api/image/{id:.+}", h.ServeImage).Methods(http.MethodGet).Name("image")

	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet).Name("health")
	r.HandleFunc("/healthz", h.HealthCheck).Methods(http.MethodGet).Name("healthz")
	r.HandleFunc("/livez", h.Livez).Methods(http.MethodGet).Name("livez")
	r.HandleFunc("/readyz", h.Readyz).Methods(http.MethodGet).Name("readyz")
	r.HandleFunc("/version", h.Version).Methods(http.MethodGet).Name("version")
}
