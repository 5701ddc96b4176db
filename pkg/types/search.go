package types

// Search limits.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// SearchQuery is a ranked text query over assets.
type SearchQuery struct {
	Text     string    `json:"query"`
	Type     AssetType `json:"type,omitempty"`
	Category string    `json:"category,omitempty"`
	Tags     []string  `json:"tags,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// SearchHit is one ranked search result.
type SearchHit struct {
	Asset         Asset    `json:"asset"`
	Score         float64  `json:"relevance_score"`
	MatchedFields []string `json:"matched_fields"`
}
