package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"image-optimizer/internal/negotiate"
)

// ServeImage resolves the best encoding for the requesting client and
// redirects to its blob URL. The Accept header drives the decision, so
// responses must vary on it for caches.
func (h *Handlers) ServeImage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	caps := negotiate.FromAcceptHeader(r.Header.Get("Accept"))

	res := h.neg.Resolve(r.Context(), id, caps)
	if res.URL == "" {
		writeJSONError(w, "unknown asset", http.StatusNotFound)
		return
	}

	w.Header().Set("Vary", "Accept")
	http.Redirect(w, r, res.URL, http.StatusFound)
}

// blobPathFromURL maps a public blob URL back to its storage path.
func blobPathFromURL(url, baseURL string) (string, bool) {
	base := strings.TrimRight(baseURL, "/") + "/"
	if !strings.HasPrefix(url, base) {
		return "", false
	}
	return strings.TrimPrefix(url, base), true
}
