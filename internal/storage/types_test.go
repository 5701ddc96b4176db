package storage_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

func TestListOptions_Normalize(t *testing.T) {
	opts := storage.ListOptions{}
	opts.Normalize()
	assert.Equal(t, 1, opts.Page)
	assert.Equal(t, storage.DefaultListLimit, opts.Limit)
	assert.Equal(t, 0, opts.Offset())

	opts = storage.ListOptions{Page: 3, Limit: 500}
	opts.Normalize()
	assert.Equal(t, storage.MaxListLimit, opts.Limit)
	assert.Equal(t, 200, opts.Offset())
}

func TestListOptions_Visible(t *testing.T) {
	private := &types.Asset{AuthorID: "alice"}
	public := &types.Asset{AuthorID: "alice", IsPublic: true}

	all := storage.ListOptions{}
	assert.True(t, all.Visible(private))

	bob := storage.ListOptions{VisibleTo: "bob"}
	assert.False(t, bob.Visible(private))
	assert.True(t, bob.Visible(public))

	alice := storage.ListOptions{VisibleTo: "alice"}
	assert.True(t, alice.Visible(private))
}

func TestConflictSentinels(t *testing.T) {
	assert.True(t, errors.Is(storage.ErrDuplicate, storage.ErrConflict))
	assert.True(t, errors.Is(storage.ErrCycle, storage.ErrConflict))
	assert.False(t, errors.Is(storage.ErrCycle, storage.ErrDuplicate))
}

func TestSortAssets(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	assets := []types.Asset{
		{ID: "a", CreatedAt: t0},
		{ID: "c", CreatedAt: t0.Add(time.Hour)},
		{ID: "b", CreatedAt: t0},
	}
	storage.SortAssets(assets)

	ids := []string{assets[0].ID, assets[1].ID, assets[2].ID}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}
