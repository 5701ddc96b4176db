// Package handlers provides the HTTP handlers and middleware of the
// knowledge hub REST API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/romcoding/architex/internal/auth"
	"github.com/romcoding/architex/internal/knowledge"
	"github.com/romcoding/architex/internal/logging"
	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Hub is the knowledge service surface the REST API drives.
type Hub interface {
	CreateAsset(ctx context.Context, p types.Principal, draft types.AssetDraft) (*types.Asset, error)
	GetAsset(ctx context.Context, p types.Principal, id string) (*types.Asset, error)
	ListPage(ctx context.Context, p types.Principal, filter types.AssetFilter, page, limit int) (*storage.PaginatedResult[types.Asset], error)
	UpdateAsset(ctx context.Context, p types.Principal, id string, patch types.AssetPatch) (*types.Asset, error)
	RateAsset(ctx context.Context, p types.Principal, id string, score float64) (*types.Asset, error)
	DeleteAsset(ctx context.Context, p types.Principal, id string) error
	LinkAssets(ctx context.Context, p types.Principal, fromID, toID string, relType types.RelationshipType, description string) (*types.Relationship, error)
	UnlinkAssets(ctx context.Context, p types.Principal, fromID, toID string, relType types.RelationshipType) error
	Neighbors(ctx context.Context, p types.Principal, id string, relType *types.RelationshipType, dir types.Direction) ([]types.Asset, error)
	ConflictsOf(ctx context.Context, p types.Principal, id string) ([]types.Asset, error)
	Relationships(ctx context.Context, p types.Principal, id string) ([]types.Relationship, error)
	SearchAssets(ctx context.Context, p types.Principal, q types.SearchQuery) ([]types.SearchHit, error)
	AnalyticsSummary(ctx context.Context, p types.Principal) (*types.Summary, error)
}

// APIHandlers contains the HTTP handlers for the knowledge REST API.
type APIHandlers struct {
	hub    Hub
	logger *zap.Logger
}

// NewAPIHandlers creates a new APIHandlers instance. A nil logger discards
// output.
func NewAPIHandlers(hub Hub, logger *zap.Logger) *APIHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandlers{hub: hub, logger: logger}
}

// CreateAsset handles POST /api/knowledge/assets.
func (h *APIHandlers) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var draft types.AssetDraft
	if !h.decode(w, r, &draft) {
		return
	}
	asset, err := h.hub.CreateAsset(r.Context(), principal(r), draft)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, asset)
}

// ListAssets handles GET /api/knowledge/assets with optional type, category,
// is_public, page and limit query parameters.
func (h *APIHandlers) ListAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.AssetFilter{
		Type:     types.AssetType(q.Get("type")),
		Category: q.Get("category"),
	}
	if raw := q.Get("is_public"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(w, validationError("is_public must be true or false"))
			return
		}
		filter.IsPublic = &v
	}
	page, err := parseInt(q.Get("page"), 1)
	if err != nil {
		h.respondError(w, validationError("page must be an integer"))
		return
	}
	limit, err := parseInt(q.Get("limit"), 0)
	if err != nil {
		h.respondError(w, validationError("limit must be an integer"))
		return
	}

	result, err := h.hub.ListPage(r.Context(), principal(r), filter, page, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, AssetListResponse{
		Assets:   result.Items,
		Total:    result.Total,
		Page:     result.Page,
		PageSize: result.PageSize,
		HasMore:  result.HasMore,
	})
}

// GetAsset handles GET /api/knowledge/assets/{id}. Every successful read
// counts as one usage of the asset.
func (h *APIHandlers) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := h.hub.GetAsset(r.Context(), principal(r), r.PathValue("id"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

// UpdateAsset handles PATCH /api/knowledge/assets/{id}.
func (h *APIHandlers) UpdateAsset(w http.ResponseWriter, r *http.Request) {
	var patch types.AssetPatch
	if !h.decode(w, r, &patch) {
		return
	}
	asset, err := h.hub.UpdateAsset(r.Context(), principal(r), r.PathValue("id"), patch)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

// DeleteAsset handles DELETE /api/knowledge/assets/{id}.
func (h *APIHandlers) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := h.hub.DeleteAsset(r.Context(), principal(r), r.PathValue("id")); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RateAsset handles POST /api/knowledge/assets/{id}/ratings.
func (h *APIHandlers) RateAsset(w http.ResponseWriter, r *http.Request) {
	var req RateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Score == nil {
		h.respondError(w, validationError("score is required"))
		return
	}
	asset, err := h.hub.RateAsset(r.Context(), principal(r), r.PathValue("id"), *req.Score)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, asset)
}

// principal returns the caller stored by the auth middleware. A request that
// bypassed the middleware carries the zero principal and fails
// authentication in the service.
func principal(r *http.Request) types.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

// decode reads a JSON body into dst and answers 400 on malformed input.
func (h *APIHandlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON body"
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			msg = "request body is required"
		case errors.As(err, &maxErr):
			msg = fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)
		}
		h.respondError(w, validationError(msg))
		return false
	}
	return true
}

func validationError(msg string) error {
	return &knowledge.Error{Kind: knowledge.KindValidation, Message: msg}
}

// parseInt parses an integer query value, returning defaultValue when s is
// empty.
func parseInt(s string, defaultValue int) (int, error) {
	if s == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(s)
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; nothing useful can be done on failure.
	_ = json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind knowledge.Kind) int {
	switch kind {
	case knowledge.KindValidation:
		return http.StatusBadRequest
	case knowledge.KindAuthentication:
		return http.StatusUnauthorized
	case knowledge.KindAuthorization:
		return http.StatusForbidden
	case knowledge.KindNotFound:
		return http.StatusNotFound
	case knowledge.KindConflict:
		return http.StatusConflict
	case knowledge.KindTimeout:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error", "code"}. Only the safe message of a
// knowledge.Error crosses the boundary; anything else becomes a generic
// internal error.
func (h *APIHandlers) respondError(w http.ResponseWriter, err error) {
	kind := knowledge.KindOf(err)
	msg := "internal error"
	var ke *knowledge.Error
	if errors.As(err, &ke) && ke.Kind != knowledge.KindInternal {
		msg = ke.Message
	}
	if kind == knowledge.KindInternal && ke == nil {
		h.logger.Error("unclassified handler error",
			zap.String("error", logging.SanitizeError(err)))
	}
	if kind == knowledge.KindTimeout {
		w.Header().Set("Retry-After", "1")
	}
	if kind == knowledge.KindAuthentication {
		w.Header().Set("WWW-Authenticate", `Bearer realm="architex"`)
	}
	respondJSON(w, statusFor(kind), ErrorResponse{Error: msg, Code: string(kind)})
}
