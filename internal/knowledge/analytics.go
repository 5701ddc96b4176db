package knowledge

import (
	"sort"
	"time"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// DefaultTopUsage is the length of the most-used list in a summary.
const DefaultTopUsage = 5

// Aggregator computes analytics rollups from a snapshot. It keeps no
// counters; every summary is recomputed from the data it is given.
type Aggregator struct {
	topN int
}

// NewAggregator creates an Aggregator listing the topN most used assets.
// topN < 1 uses DefaultTopUsage.
func NewAggregator(topN int) *Aggregator {
	if topN < 1 {
		topN = DefaultTopUsage
	}
	return &Aggregator{topN: topN}
}

// Summary rolls up the live assets of snap that viewer may see, and the
// edges between them. An admin sees every asset, so the totals always match
// what an unfiltered listing returns to the same principal.
func (g *Aggregator) Summary(snap *storage.Snapshot, viewer types.Principal) types.Summary {
	s := types.Summary{
		CategoryDistribution:     []types.Bucket{},
		TypeDistribution:         []types.Bucket{},
		RelationshipDistribution: []types.Bucket{},
		TopUsage:                 []types.UsageEntry{},
		GeneratedAt:              snap.TakenAt,
	}
	if s.GeneratedAt.IsZero() {
		s.GeneratedAt = time.Now().UTC()
	}

	categories := make(map[string]int)
	assetTypes := make(map[string]int)
	live := make([]*types.Asset, 0, len(snap.Assets))
	visible := make(map[string]bool, len(snap.Assets))
	var ratingSum float64

	for i := range snap.Assets {
		a := &snap.Assets[i]
		if a.Deleted() || !viewer.CanView(a) {
			continue
		}
		live = append(live, a)
		visible[a.ID] = true

		s.TotalAssets++
		if a.IsPublic {
			s.PublicAssets++
		} else {
			s.PrivateAssets++
		}
		s.TotalUsage += a.UsageCount
		if a.RatingCount > 0 {
			s.RatedAssets++
			ratingSum += a.Rating
		}
		categories[a.Category]++
		assetTypes[string(a.Type)]++
	}
	if s.RatedAssets > 0 {
		s.AverageRating = ratingSum / float64(s.RatedAssets)
	}

	relTypes := make(map[string]int)
	for _, rel := range snap.Relationships {
		if !visible[rel.FromAssetID] || !visible[rel.ToAssetID] {
			continue
		}
		s.TotalRelationships++
		relTypes[string(rel.Type)]++
	}

	s.CategoryDistribution = buckets(categories)
	s.TypeDistribution = buckets(assetTypes)
	s.RelationshipDistribution = buckets(relTypes)
	s.TopUsage = g.topUsage(live)
	return s
}

// topUsage orders by usage, then rating, then recency, then id.
func (g *Aggregator) topUsage(live []*types.Asset) []types.UsageEntry {
	sort.SliceStable(live, func(i, j int) bool {
		a, b := live[i], live[j]
		if a.UsageCount != b.UsageCount {
			return a.UsageCount > b.UsageCount
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	n := g.topN
	if n > len(live) {
		n = len(live)
	}
	out := make([]types.UsageEntry, 0, n)
	for _, a := range live[:n] {
		out = append(out, types.UsageEntry{
			ID:         a.ID,
			Title:      a.Title,
			UsageCount: a.UsageCount,
			Rating:     a.Rating,
		})
	}
	return out
}

// buckets sorts a distribution by count descending, then key ascending.
func buckets(counts map[string]int) []types.Bucket {
	out := make([]types.Bucket, 0, len(counts))
	for k, c := range counts {
		out = append(out, types.Bucket{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
