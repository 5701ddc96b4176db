// Package storagetest holds the behavioural test suite every storage.Store
// implementation must pass. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// Factory returns a fresh, empty store. Cleanup is the factory's job.
type Factory func(t *testing.T) storage.Store

// baseTime is truncated to microseconds so every backend round-trips it exactly.
var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// Run executes the full suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateThenGetCountsUsage", func(t *testing.T) { testCreateThenGet(t, newStore(t)) })
	t.Run("CreateIsReplaySafe", func(t *testing.T) { testCreateReplay(t, newStore(t)) })
	t.Run("GetDedupesUsageEvents", func(t *testing.T) { testUsageDedupe(t, newStore(t)) })
	t.Run("LookupHasNoSideEffects", func(t *testing.T) { testLookup(t, newStore(t)) })
	t.Run("UpdateAppliesPatch", func(t *testing.T) { testUpdate(t, newStore(t)) })
	t.Run("ListFiltersOrdersAndPages", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("ListVisibility", func(t *testing.T) { testListVisibility(t, newStore(t)) })
	t.Run("RateComputesMean", func(t *testing.T) { testRate(t, newStore(t)) })
	t.Run("RateConcurrentNoLostUpdate", func(t *testing.T) { testRateConcurrent(t, newStore(t)) })
	t.Run("DeleteDetachesRelationships", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("LinkRejectsInvalidEdges", func(t *testing.T) { testLinkErrors(t, newStore(t)) })
	t.Run("LinkRejectsCycles", func(t *testing.T) { testLinkCycles(t, newStore(t)) })
	t.Run("LinkConcurrentCycleOnlyOneWins", func(t *testing.T) { testLinkConcurrentCycle(t, newStore(t)) })
	t.Run("UnlinkIsIdempotent", func(t *testing.T) { testUnlink(t, newStore(t)) })
	t.Run("NeighborsDirectionsAndTypes", func(t *testing.T) { testNeighbors(t, newStore(t)) })
	t.Run("SnapshotMatchesList", func(t *testing.T) { testSnapshot(t, newStore(t)) })
}

// NewAsset builds a valid asset for tests. The n-th asset is created n
// minutes after baseTime so listing order is predictable.
func NewAsset(id string, n int) *types.Asset {
	at := baseTime.Add(time.Duration(n) * time.Minute)
	return &types.Asset{
		ID:        id,
		Title:     "Asset " + id,
		Content:   "Content of " + id,
		Type:      types.AssetTypePattern,
		Category:  "Architecture",
		Tags:      []string{"tag-" + id},
		AuthorID:  "author-1",
		IsPublic:  true,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func mustCreate(t *testing.T, s storage.Store, assets ...*types.Asset) {
	t.Helper()
	for _, a := range assets {
		require.NoError(t, s.CreateAsset(context.Background(), a))
	}
}

func mustLink(t *testing.T, s storage.Store, from, to string, rt types.RelationshipType) {
	t.Helper()
	require.NoError(t, s.Link(context.Background(), &types.Relationship{
		FromAssetID: from, ToAssetID: to, Type: rt, CreatedBy: "author-1", CreatedAt: baseTime,
	}))
}

func ids(assets []types.Asset) []string {
	out := make([]string, len(assets))
	for i := range assets {
		out[i] = assets[i].ID
	}
	return out
}

func testCreateThenGet(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := NewAsset("ka_1", 0)
	mustCreate(t, s, a)

	got, err := s.GetAsset(ctx, "ka_1", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount)
	assert.Equal(t, a.Title, got.Title)
	assert.Equal(t, a.Tags, got.Tags)
	assert.Equal(t, a.AuthorID, got.AuthorID)
	assert.Equal(t, 0.0, got.Rating)
	assert.True(t, a.CreatedAt.Equal(got.CreatedAt))
	assert.Nil(t, got.DeletedAt)

	got, err = s.GetAsset(ctx, "ka_1", "evt-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)

	_, err = s.GetAsset(ctx, "missing", "evt-3")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testCreateReplay(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a := NewAsset("ka_1", 0)
	mustCreate(t, s, a)
	_, err := s.GetAsset(ctx, "ka_1", "evt-1")
	require.NoError(t, err)

	replay := NewAsset("ka_1", 5)
	replay.Title = "Replayed"
	require.NoError(t, s.CreateAsset(ctx, replay))

	got, err := s.LookupAsset(ctx, "ka_1")
	require.NoError(t, err)
	assert.Equal(t, a.Title, got.Title, "replayed create must not overwrite")
	assert.Equal(t, int64(1), got.UsageCount)

	_, err = s.DeleteAsset(ctx, "ka_1", baseTime.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, s.CreateAsset(ctx, NewAsset("ka_1", 6)))
	_, err = s.LookupAsset(ctx, "ka_1")
	assert.ErrorIs(t, err, storage.ErrNotFound, "deleted IDs are never reused")
}

func testUsageDedupe(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("ka_1", 0))

	for i := 0; i < 3; i++ {
		got, err := s.GetAsset(ctx, "ka_1", "same-event")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.UsageCount)
	}

	got, err := s.GetAsset(ctx, "ka_1", "other-event")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)
}

func testLookup(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("ka_1", 0))

	for i := 0; i < 3; i++ {
		got, err := s.LookupAsset(ctx, "ka_1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), got.UsageCount)
	}

	_, err := s.LookupAsset(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testUpdate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("ka_1", 0))

	title := "Renamed"
	private := false
	tags := []string{"x", "y"}
	at := baseTime.Add(2 * time.Hour)

	got, err := s.UpdateAsset(ctx, "ka_1", types.AssetPatch{Title: &title, IsPublic: &private, Tags: &tags}, at)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)
	assert.Equal(t, "Content of ka_1", got.Content)
	assert.False(t, got.IsPublic)
	assert.Equal(t, []string{"x", "y"}, got.Tags)
	assert.True(t, at.Equal(got.UpdatedAt))

	stored, err := s.LookupAsset(ctx, "ka_1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Title)

	_, err = s.UpdateAsset(ctx, "missing", types.AssetPatch{Title: &title}, at)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testList(t *testing.T, s storage.Store) {
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		a := NewAsset(fmt.Sprintf("ka_%d", i), i)
		if i%2 == 1 {
			a.Type = types.AssetTypeGuideline
			a.Category = "Security"
		}
		if i == 6 {
			a.IsPublic = false
		}
		mustCreate(t, s, a)
	}

	page, err := s.ListAssets(ctx, storage.ListOptions{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, page.Total)
	assert.True(t, page.HasMore)
	assert.Equal(t, []string{"ka_6", "ka_5", "ka_4"}, ids(page.Items))

	page, err = s.ListAssets(ctx, storage.ListOptions{Limit: 3, Page: 3})
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, []string{"ka_0"}, ids(page.Items))

	page, err = s.ListAssets(ctx, storage.ListOptions{
		AssetFilter: types.AssetFilter{Type: types.AssetTypeGuideline, Category: "Security"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ka_5", "ka_3", "ka_1"}, ids(page.Items))

	public := false
	page, err = s.ListAssets(ctx, storage.ListOptions{AssetFilter: types.AssetFilter{IsPublic: &public}})
	require.NoError(t, err)
	assert.Equal(t, []string{"ka_6"}, ids(page.Items))

	_, err = s.DeleteAsset(ctx, "ka_6", baseTime.Add(time.Hour))
	require.NoError(t, err)
	page, err = s.ListAssets(ctx, storage.ListOptions{Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	assert.NotContains(t, ids(page.Items), "ka_6")
}

func testListVisibility(t *testing.T, s storage.Store) {
	ctx := context.Background()

	mine := NewAsset("ka_mine", 0)
	mine.IsPublic = false
	mine.AuthorID = "alice"
	theirs := NewAsset("ka_theirs", 1)
	theirs.IsPublic = false
	theirs.AuthorID = "bob"
	open := NewAsset("ka_open", 2)
	mustCreate(t, s, mine, theirs, open)

	page, err := s.ListAssets(ctx, storage.ListOptions{VisibleTo: "alice"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ka_mine", "ka_open"}, ids(page.Items))
	assert.Equal(t, 2, page.Total)
}

func testRate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("ka_1", 0))

	scores := []float64{4, 5, 2.5, 0}
	var sum float64
	for i, score := range scores {
		sum += score
		got, err := s.RateAsset(ctx, types.RatingObservation{
			ID: fmt.Sprintf("r-%d", i), AssetID: "ka_1", PrincipalID: "p", Score: score,
			CreatedAt: baseTime.Add(time.Duration(i+1) * time.Second),
		})
		require.NoError(t, err)
		assert.InDelta(t, sum/float64(i+1), got.Rating, 1e-9)
		assert.Equal(t, i+1, got.RatingCount)
	}

	// Replaying an observation must not append it again.
	got, err := s.RateAsset(ctx, types.RatingObservation{
		ID: "r-0", AssetID: "ka_1", PrincipalID: "p", Score: 4, CreatedAt: baseTime,
	})
	require.NoError(t, err)
	assert.Equal(t, len(scores), got.RatingCount)
	assert.InDelta(t, sum/float64(len(scores)), got.Rating, 1e-9)

	_, err = s.RateAsset(ctx, types.RatingObservation{ID: "r-x", AssetID: "missing", Score: 3, CreatedAt: baseTime})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.RateAsset(ctx, types.RatingObservation{ID: "r-y", AssetID: "ka_1", Score: 7, CreatedAt: baseTime})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func testRateConcurrent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("ka_1", 0))

	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, rounds*2)
	for i := 0; i < rounds; i++ {
		for _, score := range []float64{5, 1} {
			wg.Add(1)
			go func(i int, score float64) {
				defer wg.Done()
				_, err := s.RateAsset(ctx, types.RatingObservation{
					ID: fmt.Sprintf("r-%d-%v", i, score), AssetID: "ka_1", PrincipalID: "p",
					Score: score, CreatedAt: baseTime,
				})
				errs <- err
			}(i, score)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.LookupAsset(ctx, "ka_1")
	require.NoError(t, err)
	assert.Equal(t, rounds*2, got.RatingCount)
	assert.InDelta(t, 3.0, got.Rating, 1e-9)
}

func testDelete(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("a", 0), NewAsset("b", 1), NewAsset("c", 2))
	mustLink(t, s, "a", "b", types.RelDependsOn)
	mustLink(t, s, "c", "b", types.RelComplements)
	mustLink(t, s, "a", "c", types.RelExtends)

	detached, err := s.DeleteAsset(ctx, "b", baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, detached, 2)

	neighbors, err := s.Neighbors(ctx, "a", nil, types.DirectionEither)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(neighbors))

	rels, err := s.Relationships(ctx, "c")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, types.RelExtends, rels[0].Type)

	_, err = s.GetAsset(ctx, "b", "evt")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.Neighbors(ctx, "b", nil, types.DirectionEither)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.DeleteAsset(ctx, "b", baseTime.Add(2*time.Hour))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.Link(ctx, &types.Relationship{FromAssetID: "a", ToAssetID: "b", Type: types.RelComplements, CreatedAt: baseTime})
	assert.ErrorIs(t, err, storage.ErrNotFound, "linking to a deleted asset must fail")

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Assets, 2)
	assert.Len(t, snap.Relationships, 1)
}

func testLinkErrors(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("a", 0), NewAsset("b", 1))

	err := s.Link(ctx, &types.Relationship{FromAssetID: "a", ToAssetID: "missing", Type: types.RelImplements, CreatedAt: baseTime})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.Link(ctx, &types.Relationship{FromAssetID: "a", ToAssetID: "a", Type: types.RelImplements, CreatedAt: baseTime})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	mustLink(t, s, "a", "b", types.RelImplements)
	err = s.Link(ctx, &types.Relationship{FromAssetID: "a", ToAssetID: "b", Type: types.RelImplements, CreatedAt: baseTime})
	assert.ErrorIs(t, err, storage.ErrDuplicate)
	assert.ErrorIs(t, err, storage.ErrConflict)

	// Same pair, different type, and reverse direction are distinct edges.
	mustLink(t, s, "a", "b", types.RelComplements)
	mustLink(t, s, "b", "a", types.RelImplements)

	rels, err := s.Relationships(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, rels, 3)
}

func testLinkCycles(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("a", 0), NewAsset("b", 1), NewAsset("c", 2), NewAsset("d", 3))

	mustLink(t, s, "a", "b", types.RelDependsOn)
	err := s.Link(ctx, &types.Relationship{FromAssetID: "b", ToAssetID: "a", Type: types.RelDependsOn, CreatedAt: baseTime})
	assert.ErrorIs(t, err, storage.ErrCycle)
	assert.ErrorIs(t, err, storage.ErrConflict)

	rels, err := s.Relationships(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rels, 1, "only the first edge remains")
	assert.Equal(t, "b", rels[0].ToAssetID)

	// Transitive cycle through mixed acyclic types.
	mustLink(t, s, "b", "c", types.RelExtends)
	err = s.Link(ctx, &types.Relationship{FromAssetID: "c", ToAssetID: "a", Type: types.RelDependsOn, CreatedAt: baseTime})
	assert.ErrorIs(t, err, storage.ErrCycle)
	err = s.Link(ctx, &types.Relationship{FromAssetID: "c", ToAssetID: "a", Type: types.RelExtends, CreatedAt: baseTime})
	assert.ErrorIs(t, err, storage.ErrCycle)

	// Non-acyclic types may close loops freely.
	mustLink(t, s, "c", "a", types.RelComplements)
	mustLink(t, s, "b", "a", types.RelConflictsWith)

	// A diamond is not a cycle.
	mustLink(t, s, "a", "d", types.RelDependsOn)
	mustLink(t, s, "d", "c", types.RelDependsOn)
}

func testLinkConcurrentCycle(t *testing.T, s storage.Store) {
	ctx := context.Background()

	const pairs = 10
	for i := 0; i < pairs; i++ {
		mustCreate(t, s, NewAsset(fmt.Sprintf("x%d", i), i*2), NewAsset(fmt.Sprintf("y%d", i), i*2+1))
	}

	var wg sync.WaitGroup
	results := make([][2]error, pairs)
	for i := 0; i < pairs; i++ {
		x, y := fmt.Sprintf("x%d", i), fmt.Sprintf("y%d", i)
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			results[i][0] = s.Link(ctx, &types.Relationship{FromAssetID: x, ToAssetID: y, Type: types.RelDependsOn, CreatedAt: baseTime})
		}(i)
		go func(i int) {
			defer wg.Done()
			results[i][1] = s.Link(ctx, &types.Relationship{FromAssetID: y, ToAssetID: x, Type: types.RelDependsOn, CreatedAt: baseTime})
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		succeeded := 0
		for _, err := range r {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, errors.Is(err, storage.ErrCycle), "pair %d: unexpected error %v", i, err)
		}
		assert.Equal(t, 1, succeeded, "pair %d: exactly one of two cycle-forming links may succeed", i)
	}
}

func testUnlink(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("a", 0), NewAsset("b", 1))
	mustLink(t, s, "a", "b", types.RelDependsOn)
	mustLink(t, s, "a", "b", types.RelComplements)

	removed, err := s.Unlink(ctx, "a", "b", types.RelDependsOn)
	require.NoError(t, err)
	assert.True(t, removed)
	first, err := s.Relationships(ctx, "a")
	require.NoError(t, err)

	removed, err = s.Unlink(ctx, "a", "b", types.RelDependsOn)
	require.NoError(t, err)
	assert.False(t, removed, "second unlink finds nothing")
	second, err := s.Relationships(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, second, 1)
	assert.Equal(t, types.RelComplements, second[0].Type)

	removed, err = s.Unlink(ctx, "nope", "never", types.RelExtends)
	require.NoError(t, err)
	assert.False(t, removed)

	// The reverse edge may now be created since the dependency is gone.
	mustLink(t, s, "b", "a", types.RelDependsOn)
}

func testNeighbors(t *testing.T, s storage.Store) {
	ctx := context.Background()
	mustCreate(t, s, NewAsset("hub", 0), NewAsset("n1", 1), NewAsset("n2", 2), NewAsset("n3", 3))
	mustLink(t, s, "hub", "n1", types.RelDependsOn)
	mustLink(t, s, "hub", "n2", types.RelImplements)
	mustLink(t, s, "n3", "hub", types.RelConflictsWith)
	mustLink(t, s, "n2", "hub", types.RelComplements)

	out, err := s.Neighbors(ctx, "hub", nil, types.DirectionOutgoing)
	require.NoError(t, err)
	assert.Equal(t, []string{"n2", "n1"}, ids(out))

	in, err := s.Neighbors(ctx, "hub", nil, types.DirectionIncoming)
	require.NoError(t, err)
	assert.Equal(t, []string{"n3", "n2"}, ids(in))

	either, err := s.Neighbors(ctx, "hub", nil, types.DirectionEither)
	require.NoError(t, err)
	assert.Equal(t, []string{"n3", "n2", "n1"}, ids(either), "n2 appears once")

	conflicts := types.RelConflictsWith
	c1, err := s.Neighbors(ctx, "hub", &conflicts, types.DirectionEither)
	require.NoError(t, err)
	assert.Equal(t, []string{"n3"}, ids(c1))
	c2, err := s.Neighbors(ctx, "n3", &conflicts, types.DirectionEither)
	require.NoError(t, err)
	assert.Equal(t, []string{"hub"}, ids(c2))

	dep := types.RelDependsOn
	none, err := s.Neighbors(ctx, "hub", &dep, types.DirectionIncoming)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.Neighbors(ctx, "missing", nil, types.DirectionEither)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testSnapshot(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustCreate(t, s, NewAsset(fmt.Sprintf("ka_%d", i), i))
	}
	mustLink(t, s, "ka_0", "ka_1", types.RelDependsOn)
	mustLink(t, s, "ka_2", "ka_1", types.RelComplements)

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)

	page, err := s.ListAssets(ctx, storage.ListOptions{Limit: storage.MaxListLimit})
	require.NoError(t, err)

	assert.Equal(t, page.Total, len(snap.Assets))
	assert.Equal(t, ids(page.Items), ids(snap.Assets))
	assert.Len(t, snap.Relationships, 2)
}
