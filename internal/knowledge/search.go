package knowledge

import (
	"sort"
	"strings"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// Field weights. A match in a heavier field always outranks any combination
// of lighter fields plus popularity, because the popularity bonus stays
// below popularityCeiling.
const (
	weightTitle   = 100.0
	weightTag     = 10.0
	weightContent = 1.0

	usageBonusMax     = 2.0
	usageHalfPoint    = 10.0
	ratingBonusFactor = 0.4
	popularityCeiling = usageBonusMax + ratingBonusFactor*types.MaxRating
)

// Matched field names reported on hits.
const (
	FieldTitle   = "title"
	FieldTags    = "tags"
	FieldContent = "content"
)

// SearchIndex ranks assets of a snapshot against a text query. It keeps no
// state of its own, so results always reflect the snapshot it is given.
type SearchIndex struct {
	defaultLimit int
}

// NewSearchIndex creates a SearchIndex. defaultLimit applies when a query
// leaves Limit at zero; values outside [1, MaxSearchLimit] fall back to
// types.DefaultSearchLimit.
func NewSearchIndex(defaultLimit int) *SearchIndex {
	if defaultLimit < 1 || defaultLimit > types.MaxSearchLimit {
		defaultLimit = types.DefaultSearchLimit
	}
	return &SearchIndex{defaultLimit: defaultLimit}
}

// ValidateQuery checks q and returns the effective limit.
func (idx *SearchIndex) ValidateQuery(q types.SearchQuery) (int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return 0, &types.ValidationError{Field: "query", Message: "query must not be empty"}
	}
	if q.Limit < 0 || q.Limit > types.MaxSearchLimit {
		return 0, &types.ValidationError{Field: "limit", Message: "limit must be between 0 and 100"}
	}
	if q.Type != "" && !q.Type.Valid() {
		return 0, &types.ValidationError{Field: "type", Message: "unknown asset type"}
	}
	if q.Limit == 0 {
		return idx.defaultLimit, nil
	}
	return q.Limit, nil
}

// Query returns the assets of snap matching q that viewer may see, best
// first. Equal scores are ordered by created_at descending, then id
// ascending, so repeated queries over unchanged data return the same order.
func (idx *SearchIndex) Query(snap *storage.Snapshot, q types.SearchQuery, viewer types.Principal) ([]types.SearchHit, error) {
	limit, err := idx.ValidateQuery(q)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Text))
	hits := make([]types.SearchHit, 0)
	for i := range snap.Assets {
		a := &snap.Assets[i]
		if a.Deleted() || !viewer.CanView(a) || !matchesFilters(a, q) {
			continue
		}

		score, fields := scoreAsset(a, needle)
		if len(fields) == 0 {
			continue
		}
		hits = append(hits, types.SearchHit{
			Asset:         a.Clone(),
			Score:         score,
			MatchedFields: fields,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		a, b := &hits[i], &hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Asset.CreatedAt.Equal(b.Asset.CreatedAt) {
			return a.Asset.CreatedAt.After(b.Asset.CreatedAt)
		}
		return a.Asset.ID < b.Asset.ID
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func matchesFilters(a *types.Asset, q types.SearchQuery) bool {
	if q.Type != "" && a.Type != q.Type {
		return false
	}
	if q.Category != "" && a.Category != q.Category {
		return false
	}
	for _, tag := range q.Tags {
		if strings.TrimSpace(tag) == "" {
			continue
		}
		if !a.HasTag(strings.TrimSpace(tag)) {
			return false
		}
	}
	return true
}

// scoreAsset sums the weights of the fields containing needle and adds the
// popularity bonus. No matched fields means no match.
func scoreAsset(a *types.Asset, needle string) (float64, []string) {
	var score float64
	var fields []string

	if strings.Contains(strings.ToLower(a.Title), needle) {
		score += weightTitle
		fields = append(fields, FieldTitle)
	}
	for _, tag := range a.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			score += weightTag
			fields = append(fields, FieldTags)
			break
		}
	}
	if strings.Contains(strings.ToLower(a.Content), needle) {
		score += weightContent
		fields = append(fields, FieldContent)
	}
	if len(fields) == 0 {
		return 0, nil
	}

	return score + popularity(a), fields
}

// popularity is strictly below popularityCeiling for any usage count.
func popularity(a *types.Asset) float64 {
	u := float64(a.UsageCount)
	if u < 0 {
		u = 0
	}
	bonus := usageBonusMax * u / (u + usageHalfPoint)
	if a.RatingCount > 0 {
		bonus += ratingBonusFactor * a.Rating
	}
	return bonus
}
