package handlers

import (
	"github.com/romcoding/architex/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// AssetListResponse is the response format for GET /api/knowledge/assets.
type AssetListResponse struct {
	Assets   []types.Asset `json:"assets"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	HasMore  bool          `json:"has_more"`
}

// RateRequest is the request format for POST /api/knowledge/assets/{id}/ratings.
type RateRequest struct {
	Score *float64 `json:"score"`
}

// LinkRequest is the request format for POST /api/knowledge/relationships.
type LinkRequest struct {
	FromAssetID string `json:"from_asset_id"`
	ToAssetID   string `json:"to_asset_id"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// SearchResponse is the response format for POST /api/knowledge/search.
type SearchResponse struct {
	Results []types.SearchHit `json:"results"`
	Total   int               `json:"total"`
	Query   string            `json:"query"`
}

// NeighborsResponse is the response format for the neighbour and conflict
// endpoints.
type NeighborsResponse struct {
	AssetID string        `json:"asset_id"`
	Assets  []types.Asset `json:"assets"`
}

// RelationshipsResponse is the response format for
// GET /api/knowledge/assets/{id}/relationships.
type RelationshipsResponse struct {
	AssetID       string               `json:"asset_id"`
	Relationships []types.Relationship `json:"relationships"`
}

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Storage string `json:"storage"`
}
