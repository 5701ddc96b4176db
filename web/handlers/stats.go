package handlers

import (
	"net/http"
)

// Analytics handles GET /api/knowledge/analytics.
func (h *APIHandlers) Analytics(w http.ResponseWriter, r *http.Request) {
	summary, err := h.hub.AnalyticsSummary(r.Context(), principal(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// HealthHandler answers GET /api/health. It needs no authentication.
type HealthHandler struct {
	version string
	engine  string
}

// NewHealthHandler creates a health handler reporting version and the
// storage engine in use.
func NewHealthHandler(version, engine string) *HealthHandler {
	return &HealthHandler{version: version, engine: engine}
}

// ServeHTTP implements http.Handler.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Storage: h.engine,
	})
}
