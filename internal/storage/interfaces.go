// Package storage provides composable storage interfaces for the knowledge hub.
//
// The storage layer is built from small, focused interfaces: AssetStore owns
// asset nodes, RelationshipGraph owns the typed edges between them and
// Snapshotter hands out a consistent read view of both. Backends in the
// memory, sqlite and postgres subpackages implement all three as a Store.
package storage

import (
	"context"
	"time"

	"github.com/romcoding/architex/pkg/types"
)

// AssetStore provides the lifecycle operations for asset nodes.
type AssetStore interface {
	// CreateAsset inserts a fully populated asset. The caller assigns the ID
	// and timestamps. Creating an ID that already exists, live or deleted, is
	// a no-op so that a replayed create never duplicates or resurrects.
	CreateAsset(ctx context.Context, asset *types.Asset) error

	// GetAsset atomically increments the usage count of a live asset and
	// returns the incremented asset. eventID identifies the read-access event;
	// replaying the same eventID returns the asset without counting again.
	// Returns ErrNotFound if the asset doesn't exist or is deleted.
	GetAsset(ctx context.Context, id, eventID string) (*types.Asset, error)

	// LookupAsset returns a live asset without side effects.
	// Returns ErrNotFound if the asset doesn't exist or is deleted.
	LookupAsset(ctx context.Context, id string) (*types.Asset, error)

	// UpdateAsset applies the non-nil fields of patch and stamps updated_at.
	// Returns ErrNotFound if the asset doesn't exist or is deleted.
	UpdateAsset(ctx context.Context, id string, patch types.AssetPatch, at time.Time) (*types.Asset, error)

	// ListAssets returns one page of live assets ordered by created_at
	// descending, then id descending.
	ListAssets(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Asset], error)

	// RateAsset appends a rating observation and recomputes the mean in the
	// same atomic unit. Replaying an observation ID does not append twice.
	// Returns ErrNotFound if the asset doesn't exist or is deleted.
	RateAsset(ctx context.Context, obs types.RatingObservation) (*types.Asset, error)

	// DeleteAsset detaches every relationship touching the asset and then
	// tombstones it, as one atomic unit. The detached edges are returned.
	// Returns ErrNotFound if the asset doesn't exist or is already deleted.
	DeleteAsset(ctx context.Context, id string, at time.Time) ([]types.Relationship, error)
}

// RelationshipGraph manages typed directed edges between live assets.
type RelationshipGraph interface {
	// Link inserts an edge. Both endpoints must be live (ErrNotFound),
	// self-loops are rejected (ErrInvalidInput), an existing (from, to, type)
	// is rejected (ErrDuplicate) and an acyclic-type edge that would close a
	// cycle is rejected (ErrCycle). The cycle check and the insert are atomic.
	Link(ctx context.Context, rel *types.Relationship) error

	// Unlink removes an edge and reports whether it existed. Removing an
	// absent edge is not an error.
	Unlink(ctx context.Context, fromID, toID string, relType types.RelationshipType) (bool, error)

	// Neighbors returns the live assets connected to id by edges matching
	// relType (nil means any type) in the given direction, deduplicated and
	// ordered by created_at descending, then id descending.
	// Returns ErrNotFound if id doesn't exist or is deleted.
	Neighbors(ctx context.Context, id string, relType *types.RelationshipType, dir types.Direction) ([]types.Asset, error)

	// Relationships returns every edge touching id, newest first.
	// Returns ErrNotFound if id doesn't exist or is deleted.
	Relationships(ctx context.Context, id string) ([]types.Relationship, error)
}

// Snapshotter provides a consistent read view across assets and edges.
type Snapshotter interface {
	// Snapshot captures every live asset and every edge at a single point
	// in time. No partially applied write is ever visible in a snapshot.
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Store is the full persistence contract consumed by the knowledge service.
type Store interface {
	AssetStore
	RelationshipGraph
	Snapshotter

	// Close releases any resources held by the store.
	Close() error
}
