// Package memory provides an in-process implementation of storage.Store.
//
// Locking: mu guards the asset map and the edge set. Operations that touch a
// single asset hold mu for reading plus that asset's own mutex, so writes to
// different assets never wait on each other. Operations that change the
// graph structure (create, delete, link, unlink) hold mu for writing. Listing
// and snapshots hold mu for reading and each entry mutex only while copying
// that entry, so the asset and edge sets are fixed for the whole read and
// every copied asset reflects whole writes only. No operation holds two entry
// mutexes. Lock order is always mu, then an entry mutex.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// DefaultUsageEventCacheSize bounds the number of remembered usage event IDs.
const DefaultUsageEventCacheSize = 10000

type entry struct {
	mu      sync.Mutex
	asset   types.Asset
	ratings map[string]types.RatingObservation
	sum     float64
}

// Store implements storage.Store in memory.
type Store struct {
	mu     sync.RWMutex
	assets map[string]*entry
	edges  map[types.EdgeKey]types.Relationship
	out    map[string]map[types.EdgeKey]struct{}
	in     map[string]map[types.EdgeKey]struct{}
	live   int

	// usageEvents remembers recently processed read-access events so that a
	// retried GetAsset does not count twice.
	usageEvents *lru.Cache[string, struct{}]

	closed bool
}

var _ storage.Store = (*Store)(nil)

// NewStore creates an empty in-memory store. usageEventCacheSize bounds the
// usage-event dedupe window; values < 1 use DefaultUsageEventCacheSize.
func NewStore(usageEventCacheSize int) (*Store, error) {
	if usageEventCacheSize < 1 {
		usageEventCacheSize = DefaultUsageEventCacheSize
	}
	cache, err := lru.New[string, struct{}](usageEventCacheSize)
	if err != nil {
		return nil, fmt.Errorf("memory: failed to create usage event cache: %w", err)
	}
	return &Store{
		assets:      make(map[string]*entry),
		edges:       make(map[types.EdgeKey]types.Relationship),
		out:         make(map[string]map[types.EdgeKey]struct{}),
		in:          make(map[string]map[types.EdgeKey]struct{}),
		usageEvents: cache,
	}, nil
}

// CreateAsset inserts a new asset. An existing ID is left untouched.
func (s *Store) CreateAsset(ctx context.Context, asset *types.Asset) error {
	if asset == nil || asset.ID == "" {
		return fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.assets[asset.ID]; ok {
		return nil
	}

	a := asset.Clone()
	a.UsageCount = 0
	a.Rating = 0
	a.RatingCount = 0
	a.DeletedAt = nil
	s.assets[a.ID] = &entry{asset: a, ratings: make(map[string]types.RatingObservation)}
	s.live++
	return nil
}

// GetAsset increments the usage count and returns the asset.
func (s *Store) GetAsset(ctx context.Context, id, eventID string) (*types.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.liveEntry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if eventID != "" {
		key := id + "\x00" + eventID
		if s.usageEvents.Contains(key) {
			out := e.asset.Clone()
			return &out, nil
		}
		s.usageEvents.Add(key, struct{}{})
	}

	e.asset.UsageCount++
	out := e.asset.Clone()
	return &out, nil
}

// LookupAsset returns the asset without side effects.
func (s *Store) LookupAsset(ctx context.Context, id string) (*types.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.liveEntry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	out := e.asset.Clone()
	e.mu.Unlock()
	return &out, nil
}

// UpdateAsset applies patch to the asset.
func (s *Store) UpdateAsset(ctx context.Context, id string, patch types.AssetPatch, at time.Time) (*types.Asset, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.liveEntry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	patch.Apply(&e.asset, at)
	out := e.asset.Clone()
	return &out, nil
}

// ListAssets returns one page of live assets.
func (s *Store) ListAssets(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Asset], error) {
	opts.Normalize()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]types.Asset, 0, len(s.assets))
	for _, e := range s.assets {
		e.mu.Lock()
		a := &e.asset
		if !a.Deleted() && opts.AssetFilter.Matches(a) && opts.Visible(a) {
			matched = append(matched, a.Clone())
		}
		e.mu.Unlock()
	}
	s.mu.RUnlock()

	storage.SortAssets(matched)

	total := len(matched)
	start := opts.Offset()
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	return &storage.PaginatedResult[types.Asset]{
		Items:    matched[start:end],
		Total:    total,
		Page:     opts.Page,
		PageSize: opts.Limit,
		HasMore:  end < total,
	}, nil
}

// RateAsset appends a rating observation and recomputes the mean.
func (s *Store) RateAsset(ctx context.Context, obs types.RatingObservation) (*types.Asset, error) {
	if obs.ID == "" {
		return nil, fmt.Errorf("%w: rating observation ID is required", storage.ErrInvalidInput)
	}
	if err := types.ValidateScore(obs.Score); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.liveEntry(obs.AssetID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, seen := e.ratings[obs.ID]; !seen {
		e.ratings[obs.ID] = obs
		e.sum += obs.Score
		e.asset.RatingCount = len(e.ratings)
		e.asset.Rating = e.sum / float64(len(e.ratings))
		e.asset.UpdatedAt = obs.CreatedAt
	}

	out := e.asset.Clone()
	return &out, nil
}

// DeleteAsset detaches the asset's relationships and tombstones it.
func (s *Store) DeleteAsset(ctx context.Context, id string, at time.Time) ([]types.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.liveEntry(id)
	if err != nil {
		return nil, err
	}

	detached := make([]types.Relationship, 0, len(s.out[id])+len(s.in[id]))
	for key := range s.out[id] {
		detached = append(detached, s.edges[key])
		s.removeEdge(key)
	}
	for key := range s.in[id] {
		detached = append(detached, s.edges[key])
		s.removeEdge(key)
	}
	storage.SortRelationships(detached)

	e.mu.Lock()
	e.asset.DeletedAt = &at
	e.asset.UpdatedAt = at
	e.mu.Unlock()
	s.live--

	return detached, nil
}

// Snapshot copies every live asset and every edge. Per-asset writes are not
// held off for the whole copy, only while their own asset is copied.
func (s *Store) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	snap := &storage.Snapshot{
		Assets:        make([]types.Asset, 0, s.live),
		Relationships: make([]types.Relationship, 0, len(s.edges)),
		TakenAt:       time.Now().UTC(),
	}
	for _, e := range s.assets {
		e.mu.Lock()
		if !e.asset.Deleted() {
			snap.Assets = append(snap.Assets, e.asset.Clone())
		}
		e.mu.Unlock()
	}
	for _, rel := range s.edges {
		snap.Relationships = append(snap.Relationships, rel)
	}
	storage.SortAssets(snap.Assets)
	storage.SortRelationships(snap.Relationships)
	return snap, nil
}

// Close marks the store closed. Subsequent operations fail with ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// liveEntry returns the entry for a live asset. Callers hold s.mu.
func (s *Store) liveEntry(id string) (*entry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}
	e, ok := s.assets[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	// The tombstone is only written under the s.mu write lock, so reading it
	// under either lock mode is race-free.
	if e.asset.Deleted() {
		return nil, storage.ErrNotFound
	}
	return e, nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return fmt.Errorf("%w: store is closed", storage.ErrUnavailable)
	}
	return nil
}
