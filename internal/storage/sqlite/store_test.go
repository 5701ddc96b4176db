package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/internal/storage/storagetest"
	"github.com/romcoding/architex/pkg/types"
)

// newTestStore creates a file-backed SQLite store in a temp directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), filepath.Join(t.TempDir(), "architex.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t)
	})
}

func TestStore_InMemoryDSN(t *testing.T) {
	store, err := NewStore(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.CreateAsset(context.Background(), storagetest.NewAsset("ka_1", 0)))
	got, err := store.LookupAsset(context.Background(), "ka_1")
	require.NoError(t, err)
	assert.Equal(t, "ka_1", got.ID)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "architex.db")

	store, err := NewStore(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.CreateAsset(ctx, storagetest.NewAsset("a", 0)))
	require.NoError(t, store.CreateAsset(ctx, storagetest.NewAsset("b", 1)))
	require.NoError(t, store.Link(ctx, &types.Relationship{
		FromAssetID: "a", ToAssetID: "b", Type: types.RelDependsOn, CreatedAt: time.Now(),
	}))
	_, err = store.GetAsset(ctx, "a", "evt-1")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewStore(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetAsset(ctx, "a", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.UsageCount, "usage events survive a restart")

	rels, err := store.Relationships(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestStore_TagsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	a := storagetest.NewAsset("ka_1", 0)
	a.Tags = nil
	require.NoError(t, store.CreateAsset(ctx, a))

	got, err := store.LookupAsset(ctx, "ka_1")
	require.NoError(t, err)
	assert.NotNil(t, got.Tags)
	assert.Empty(t, got.Tags)

	tags := []string{"microservices", "api-design"}
	_, err = store.UpdateAsset(ctx, "ka_1", types.AssetPatch{Tags: &tags}, time.Now())
	require.NoError(t, err)

	got, err = store.LookupAsset(ctx, "ka_1")
	require.NoError(t, err)
	assert.Equal(t, tags, got.Tags)
}

func TestStore_PruneUsageEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.CreateAsset(ctx, storagetest.NewAsset("ka_1", 0)))

	_, err := store.GetAsset(ctx, "ka_1", "evt-1")
	require.NoError(t, err)

	n, err := store.PruneUsageEvents(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetAsset(ctx, "ka_1", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount, "a pruned event counts again")
}

func TestStore_ClosedIsUnavailable(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(ctx, filepath.Join(t.TempDir(), "architex.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.LookupAsset(ctx, "ka_1")
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestDBPathFromDSN(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{":memory:", ""},
		{"", ""},
		{"/var/lib/architex.db", "/var/lib/architex.db"},
		{"file:/var/lib/architex.db?mode=rwc", "/var/lib/architex.db"},
		{"file::memory:?cache=shared", ""},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			assert.Equal(t, tt.want, dbPathFromDSN(tt.dsn))
		})
	}
}

func TestIsRecoverableWALError(t *testing.T) {
	assert.False(t, isRecoverableWALError(nil))
	assert.False(t, isRecoverableWALError(errors.New("no such table")))
	assert.True(t, isRecoverableWALError(errors.New("disk I/O error (10)")))
	assert.True(t, isRecoverableWALError(errors.New("database is locked (5) (SQLITE_BUSY)")))
}
