package api

import (
	"net/http"

	"github.com/recallhq/recall/internal/log"
)

// healthHandler handles health check endpoints.
type healthHandler struct {
	store  DocumentStore
	logger log.Logger
}

// RegisterRoutes registers health routes on the given mux.
func (h *healthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// liveness reports that the process is alive.
func (h *healthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports whether the knowledge base is serving. The list call
// exercises the manager's lock and manifest state without touching any
// model provider.
func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("readiness check failed", "error", err)
		writeJSON(w, h.logger, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status":    "ok",
		"documents": len(docs),
	})
}
