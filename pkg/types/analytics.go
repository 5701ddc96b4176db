package types

import "time"

// Summary is a rollup of the knowledge base computed from one snapshot.
type Summary struct {
	TotalAssets        int     `json:"total_assets"`
	PublicAssets       int     `json:"public_assets"`
	PrivateAssets      int     `json:"private_assets"`
	AverageRating      float64 `json:"average_rating"`
	RatedAssets        int     `json:"rated_assets"`
	TotalUsage         int64   `json:"total_usage"`
	TotalRelationships int     `json:"total_relationships"`

	CategoryDistribution     []Bucket `json:"category_distribution"`
	TypeDistribution         []Bucket `json:"type_distribution"`
	RelationshipDistribution []Bucket `json:"relationship_distribution"`

	TopUsage []UsageEntry `json:"most_popular_assets"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Bucket is one entry of a distribution.
type Bucket struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// UsageEntry is one row of the top-usage list.
type UsageEntry struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	UsageCount int64   `json:"usage_count"`
	Rating     float64 `json:"rating"`
}
