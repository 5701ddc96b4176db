package handlers

import (
	"net/http"

	"github.com/romcoding/architex/pkg/types"
)

// LinkAssets handles POST /api/knowledge/relationships.
func (h *APIHandlers) LinkAssets(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if !h.decode(w, r, &req) {
		return
	}
	relType, err := types.ParseRelationshipType(req.Type)
	if err != nil {
		h.respondError(w, validationError(err.Error()))
		return
	}
	rel, err := h.hub.LinkAssets(r.Context(), principal(r), req.FromAssetID, req.ToAssetID, relType, req.Description)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rel)
}

// UnlinkAssets handles DELETE /api/knowledge/relationships?from=&to=&type=.
// Removing an edge that does not exist succeeds.
func (h *APIHandlers) UnlinkAssets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	relType, err := types.ParseRelationshipType(q.Get("type"))
	if err != nil {
		h.respondError(w, validationError(err.Error()))
		return
	}
	if err := h.hub.UnlinkAssets(r.Context(), principal(r), q.Get("from"), q.Get("to"), relType); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Neighbors handles GET /api/knowledge/assets/{id}/neighbors?type=&direction=.
// An empty type follows every relationship type.
func (h *APIHandlers) Neighbors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var relType *types.RelationshipType
	if raw := q.Get("type"); raw != "" {
		t, err := types.ParseRelationshipType(raw)
		if err != nil {
			h.respondError(w, validationError(err.Error()))
			return
		}
		relType = &t
	}
	dir, err := types.ParseDirection(q.Get("direction"))
	if err != nil {
		h.respondError(w, validationError(err.Error()))
		return
	}

	id := r.PathValue("id")
	assets, err := h.hub.Neighbors(r.Context(), principal(r), id, relType, dir)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NeighborsResponse{AssetID: id, Assets: nonNil(assets)})
}

// ConflictsOf handles GET /api/knowledge/assets/{id}/conflicts.
func (h *APIHandlers) ConflictsOf(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	assets, err := h.hub.ConflictsOf(r.Context(), principal(r), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, NeighborsResponse{AssetID: id, Assets: nonNil(assets)})
}

// Relationships handles GET /api/knowledge/assets/{id}/relationships.
func (h *APIHandlers) Relationships(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rels, err := h.hub.Relationships(r.Context(), principal(r), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, RelationshipsResponse{AssetID: id, Relationships: nonNil(rels)})
}

// nonNil keeps empty results encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
