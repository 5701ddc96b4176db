package memory

import (
	"context"
	"fmt"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// Link inserts rel. The endpoint checks, the cycle check and the insert all
// happen under the write lock.
func (s *Store) Link(ctx context.Context, rel *types.Relationship) error {
	if rel == nil {
		return fmt.Errorf("%w: relationship is required", storage.ErrInvalidInput)
	}
	if err := rel.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.liveEntry(rel.FromAssetID); err != nil {
		return err
	}
	if _, err := s.liveEntry(rel.ToAssetID); err != nil {
		return err
	}

	key := rel.Key()
	if _, exists := s.edges[key]; exists {
		return storage.ErrDuplicate
	}

	if rel.Type.Acyclic() {
		cyclic, err := storage.Reaches(ctx, rel.ToAssetID, rel.FromAssetID, s.live, s.acyclicSuccessors)
		if err != nil {
			return err
		}
		if cyclic {
			return storage.ErrCycle
		}
	}

	s.addEdge(*rel)
	return nil
}

// Unlink removes an edge if present.
func (s *Store) Unlink(ctx context.Context, fromID, toID string, relType types.RelationshipType) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOpen(); err != nil {
		return false, err
	}
	return s.removeEdge(types.EdgeKey{From: fromID, To: toID, Type: relType}), nil
}

// Neighbors returns the live assets adjacent to id.
func (s *Store) Neighbors(ctx context.Context, id string, relType *types.RelationshipType, dir types.Direction) ([]types.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.liveEntry(id); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	collect := func(keys map[types.EdgeKey]struct{}, outgoing bool) {
		for key := range keys {
			if relType != nil && key.Type != *relType {
				continue
			}
			other := key.To
			if !outgoing {
				other = key.From
			}
			if !seen[other] {
				seen[other] = true
				ids = append(ids, other)
			}
		}
	}
	if dir == types.DirectionOutgoing || dir == types.DirectionEither {
		collect(s.out[id], true)
	}
	if dir == types.DirectionIncoming || dir == types.DirectionEither {
		collect(s.in[id], false)
	}

	result := make([]types.Asset, 0, len(ids))
	for _, other := range ids {
		e, err := s.liveEntry(other)
		if err != nil {
			continue
		}
		e.mu.Lock()
		result = append(result, e.asset.Clone())
		e.mu.Unlock()
	}
	storage.SortAssets(result)
	return result, nil
}

// Relationships returns every edge touching id.
func (s *Store) Relationships(ctx context.Context, id string) ([]types.Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.liveEntry(id); err != nil {
		return nil, err
	}

	rels := make([]types.Relationship, 0, len(s.out[id])+len(s.in[id]))
	for key := range s.out[id] {
		rels = append(rels, s.edges[key])
	}
	for key := range s.in[id] {
		rels = append(rels, s.edges[key])
	}
	storage.SortRelationships(rels)
	return rels, nil
}

// acyclicSuccessors lists the DEPENDS_ON and EXTENDS targets of id.
// Callers hold s.mu.
func (s *Store) acyclicSuccessors(_ context.Context, id string) ([]string, error) {
	var next []string
	for key := range s.out[id] {
		if key.Type.Acyclic() {
			next = append(next, key.To)
		}
	}
	return next, nil
}

// addEdge records rel in the edge set and both adjacency indexes.
// Callers hold s.mu for writing.
func (s *Store) addEdge(rel types.Relationship) {
	key := rel.Key()
	s.edges[key] = rel
	if s.out[key.From] == nil {
		s.out[key.From] = make(map[types.EdgeKey]struct{})
	}
	if s.in[key.To] == nil {
		s.in[key.To] = make(map[types.EdgeKey]struct{})
	}
	s.out[key.From][key] = struct{}{}
	s.in[key.To][key] = struct{}{}
}

// removeEdge deletes key from the edge set and both adjacency indexes. It
// reports whether the edge was present.
// Callers hold s.mu for writing.
func (s *Store) removeEdge(key types.EdgeKey) bool {
	if _, ok := s.edges[key]; !ok {
		return false
	}
	delete(s.edges, key)
	delete(s.out[key.From], key)
	delete(s.in[key.To], key)
	if len(s.out[key.From]) == 0 {
		delete(s.out, key.From)
	}
	if len(s.in[key.To]) == 0 {
		delete(s.in, key.To)
	}
	return true
}
