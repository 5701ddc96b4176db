package handlers

import (
	"net/http"
	"strings"

	"github.com/romcoding/architex/pkg/types"
)

// Search handles POST /api/knowledge/search. The body is a SearchQuery:
//
//	{"query": "gateway", "type": "pattern", "category": "Integration", "tags": ["api"], "limit": 10}
//
// GET with ?q= is accepted too, for quick lookups from a browser.
func (h *APIHandlers) Search(w http.ResponseWriter, r *http.Request) {
	var q types.SearchQuery
	switch r.Method {
	case http.MethodPost:
		if !h.decode(w, r, &q) {
			return
		}
	default:
		params := r.URL.Query()
		q.Text = params.Get("q")
		q.Type = types.AssetType(params.Get("type"))
		q.Category = params.Get("category")
		if raw := params.Get("tags"); raw != "" {
			q.Tags = strings.Split(raw, ",")
		}
		limit, err := parseInt(params.Get("limit"), 0)
		if err != nil {
			h.respondError(w, validationError("limit must be an integer"))
			return
		}
		q.Limit = limit
	}

	hits, err := h.hub.SearchAssets(r.Context(), principal(r), q)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, SearchResponse{
		Results: nonNil(hits),
		Total:   len(hits),
		Query:   q.Text,
	})
}
