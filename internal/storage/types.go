package storage

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/romcoding/architex/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates that a write collides with existing state.
	ErrConflict = errors.New("conflict")

	// ErrDuplicate indicates that the relationship already exists.
	ErrDuplicate = fmt.Errorf("%w: relationship already exists", ErrConflict)

	// ErrCycle indicates that the relationship would close a cycle among
	// acyclic relationship types.
	ErrCycle = fmt.Errorf("%w: relationship would create a cycle", ErrConflict)

	// ErrUnavailable indicates a transient backend failure that is safe to retry.
	ErrUnavailable = errors.New("storage unavailable")
)

// List limits.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// PaginatedResult represents a paginated result set with type safety using generics.
type PaginatedResult[T any] struct {
	// Items is the slice of results for the current page.
	Items []T

	// Total is the total number of items across all pages.
	Total int

	// Page is the current page number (1-indexed).
	Page int

	// PageSize is the number of items per page.
	PageSize int

	// HasMore indicates whether there are more pages available.
	HasMore bool
}

// ListOptions provides pagination and filtering options for ListAssets.
type ListOptions struct {
	types.AssetFilter

	// VisibleTo restricts results to public assets and assets authored by
	// this principal ID. Empty means no visibility restriction.
	VisibleTo string

	// Page is the page number to retrieve (1-indexed, default: 1).
	Page int

	// Limit is the number of items per page (default: 20, max: 100).
	Limit int
}

// Normalize applies defaults and clamps the page size to MaxListLimit.
func (o *ListOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}

	if o.Limit < 1 {
		o.Limit = DefaultListLimit
	}

	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
}

// Offset calculates the offset for SQL queries based on page and limit.
func (o *ListOptions) Offset() int {
	return (o.Page - 1) * o.Limit
}

// Visible reports whether a passes the VisibleTo restriction.
func (o *ListOptions) Visible(a *types.Asset) bool {
	return o.VisibleTo == "" || a.IsPublic || a.AuthorID == o.VisibleTo
}

// Snapshot is a point-in-time copy of every live asset and every edge.
type Snapshot struct {
	Assets        []types.Asset
	Relationships []types.Relationship
	TakenAt       time.Time
}

// SortAssets orders assets by created_at descending, then id descending.
// This is the canonical listing order shared by every backend.
func SortAssets(assets []types.Asset) {
	sort.SliceStable(assets, func(i, j int) bool {
		return AssetLess(&assets[i], &assets[j])
	})
}

// AssetLess reports whether a sorts before b in listing order.
func AssetLess(a, b *types.Asset) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// SortRelationships orders edges newest first with a stable tie-break on the key.
func SortRelationships(rels []types.Relationship) {
	sort.SliceStable(rels, func(i, j int) bool {
		a, b := &rels[i], &rels[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.FromAssetID != b.FromAssetID {
			return a.FromAssetID < b.FromAssetID
		}
		if a.ToAssetID != b.ToAssetID {
			return a.ToAssetID < b.ToAssetID
		}
		return a.Type < b.Type
	})
}
