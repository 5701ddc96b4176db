package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/internal/storage/storagetest"
	"github.com/romcoding/architex/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t)
	})
}

func TestStore_UsageEventWindowIsBounded(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(2)
	require.NoError(t, err)

	require.NoError(t, s.CreateAsset(ctx, storagetest.NewAsset("ka_1", 0)))

	for i := 0; i < 3; i++ {
		_, err := s.GetAsset(ctx, "ka_1", fmt.Sprintf("evt-%d", i))
		require.NoError(t, err)
	}

	// evt-0 has been evicted, so replaying it counts again.
	got, err := s.GetAsset(ctx, "ka_1", "evt-0")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.UsageCount)

	// evt-2 is still remembered.
	got, err = s.GetAsset(ctx, "ka_1", "evt-2")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.UsageCount)
}

func TestStore_EmptyEventIDAlwaysCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAsset(ctx, storagetest.NewAsset("ka_1", 0)))

	for i := 1; i <= 3; i++ {
		got, err := s.GetAsset(ctx, "ka_1", "")
		require.NoError(t, err)
		assert.Equal(t, int64(i), got.UsageCount)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAsset(ctx, storagetest.NewAsset("ka_1", 0)))

	got, err := s.LookupAsset(ctx, "ka_1")
	require.NoError(t, err)
	got.Tags[0] = "mutated"
	got.Title = "mutated"

	again, err := s.LookupAsset(ctx, "ka_1")
	require.NoError(t, err)
	assert.Equal(t, "tag-ka_1", again.Tags[0])
	assert.Equal(t, "Asset ka_1", again.Title)
}

func TestStore_CreateResetsCounters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := storagetest.NewAsset("ka_1", 0)
	a.UsageCount = 99
	a.Rating = 4
	a.RatingCount = 3
	require.NoError(t, s.CreateAsset(ctx, a))

	got, err := s.LookupAsset(ctx, "ka_1")
	require.NoError(t, err)
	assert.Zero(t, got.UsageCount)
	assert.Zero(t, got.Rating)
	assert.Zero(t, got.RatingCount)
}

func TestStore_ClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAsset(ctx, storagetest.NewAsset("ka_1", 0)))
	require.NoError(t, s.Close())

	_, err := s.GetAsset(ctx, "ka_1", "evt")
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	err = s.CreateAsset(ctx, storagetest.NewAsset("ka_2", 1))
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	_, err = s.Snapshot(ctx)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestStore_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.CreateAsset(ctx, storagetest.NewAsset("ka_1", 0))
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.ListAssets(ctx, storage.ListOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_LinkValidatesType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAsset(ctx, storagetest.NewAsset("a", 0)))
	require.NoError(t, s.CreateAsset(ctx, storagetest.NewAsset("b", 1)))

	err := s.Link(ctx, &types.Relationship{FromAssetID: "a", ToAssetID: "b", Type: "RELATES_TO"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = s.Link(ctx, nil)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStore_SnapshotRunsAlongsidePerAssetOperations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAsset(ctx, storagetest.NewAsset("ka_1", 0)))

	// A per-asset operation in flight holds mu for reading.
	s.mu.RLock()
	done := make(chan error, 1)
	go func() {
		_, err := s.Snapshot(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Error("snapshot waited for an unrelated reader")
	}
	s.mu.RUnlock()
}

func TestStore_SnapshotSeesWholeWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAsset(ctx, storagetest.NewAsset("ka_1", 0)))
	require.NoError(t, s.CreateAsset(ctx, storagetest.NewAsset("ka_2", 1)))

	const reads = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < reads; i++ {
			_, err := s.GetAsset(ctx, "ka_1", fmt.Sprintf("evt-%d", i))
			assert.NoError(t, err)
		}
	}()

	var last int64
	for i := 0; i < 50; i++ {
		snap, err := s.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Assets, 2)
		for _, a := range snap.Assets {
			if a.ID == "ka_1" {
				assert.GreaterOrEqual(t, a.UsageCount, last, "usage never goes backwards")
				last = a.UsageCount
			}
		}
	}
	wg.Wait()

	snap, err := s.Snapshot(ctx)
	require.NoError(t, err)
	for _, a := range snap.Assets {
		if a.ID == "ka_1" {
			assert.Equal(t, int64(reads), a.UsageCount)
		}
	}
}
