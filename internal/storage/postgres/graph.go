package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

const relationshipColumns = `from_asset_id, to_asset_id, type, description, created_by, created_at`

// Link inserts rel. Both endpoint rows are share-locked so a concurrent
// delete waits for the link to finish (or the link sees the tombstone).
// Acyclic-type links serialise on an advisory lock for the cycle check.
func (s *Store) Link(ctx context.Context, rel *types.Relationship) error {
	if rel == nil {
		return fmt.Errorf("%w: relationship is required", storage.ErrInvalidInput)
	}
	if err := rel.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	return s.withTx(ctx, "link assets", nil, func(tx *sql.Tx) error {
		if rel.Type.Acyclic() {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, acyclicLinkLockKey); err != nil {
				return classify("acquire link lock", err)
			}
		}

		if _, err := liveAsset(ctx, tx, rel.FromAssetID, "FOR SHARE"); err != nil {
			return err
		}
		if _, err := liveAsset(ctx, tx, rel.ToAssetID, "FOR SHARE"); err != nil {
			return err
		}

		if rel.Type.Acyclic() {
			var live int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM assets WHERE deleted_at IS NULL`).Scan(&live); err != nil {
				return classify("count assets", err)
			}
			cyclic, err := storage.Reaches(ctx, rel.ToAssetID, rel.FromAssetID, live, acyclicSuccessors(tx))
			if err != nil {
				return err
			}
			if cyclic {
				return storage.ErrCycle
			}
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO relationships (from_asset_id, to_asset_id, type, description, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (from_asset_id, to_asset_id, type) DO NOTHING
		`, rel.FromAssetID, rel.ToAssetID, string(rel.Type), rel.Description, rel.CreatedBy, rel.CreatedAt)
		if err != nil {
			return classify("insert relationship", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify("insert relationship", err)
		}
		if n == 0 {
			return storage.ErrDuplicate
		}
		return nil
	})
}

// Unlink removes an edge if present.
func (s *Store) Unlink(ctx context.Context, fromID, toID string, relType types.RelationshipType) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM relationships WHERE from_asset_id = $1 AND to_asset_id = $2 AND type = $3
	`, fromID, toID, string(relType))
	if err != nil {
		return false, classify("unlink assets", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("unlink assets", err)
	}
	return n > 0, nil
}

// Neighbors returns the live assets adjacent to id.
func (s *Store) Neighbors(ctx context.Context, id string, relType *types.RelationshipType, dir types.Direction) ([]types.Asset, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}

	var p params
	idArg := p.add(id)
	typeClause := ""
	if relType != nil {
		typeClause = " AND type = " + p.add(string(*relType))
	}

	var arms []string
	if dir == types.DirectionOutgoing || dir == types.DirectionEither {
		arms = append(arms, "SELECT to_asset_id FROM relationships WHERE from_asset_id = "+idArg+typeClause)
	}
	if dir == types.DirectionIncoming || dir == types.DirectionEither {
		arms = append(arms, "SELECT from_asset_id FROM relationships WHERE to_asset_id = "+idArg+typeClause)
	}
	if len(arms) == 0 {
		return nil, fmt.Errorf("%w: unknown direction %q", storage.ErrInvalidInput, dir)
	}

	query := "SELECT " + assetColumns + " FROM assets WHERE deleted_at IS NULL AND id IN (" +
		strings.Join(arms, " UNION ") + ") ORDER BY created_at DESC, id DESC"

	var out []types.Asset
	err := s.withTx(ctx, "list neighbors", readOnly, func(tx *sql.Tx) error {
		if _, err := liveAsset(ctx, tx, id, ""); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, query, p.args...)
		if err != nil {
			return classify("list neighbors", err)
		}
		defer func() { _ = rows.Close() }()
		out, err = collectAssets(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Relationships returns every edge touching id, newest first.
func (s *Store) Relationships(ctx context.Context, id string) ([]types.Relationship, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}

	var out []types.Relationship
	err := s.withTx(ctx, "list relationships", readOnly, func(tx *sql.Tx) error {
		if _, err := liveAsset(ctx, tx, id, ""); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, "SELECT "+relationshipColumns+
			" FROM relationships WHERE from_asset_id = $1 OR to_asset_id = $1", id)
		if err != nil {
			return classify("list relationships", err)
		}
		defer func() { _ = rows.Close() }()
		out, err = collectRelationships(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	storage.SortRelationships(out)
	return out, nil
}

// acyclicSuccessors returns a storage.SuccessorFunc reading DEPENDS_ON and
// EXTENDS targets through tx.
func acyclicSuccessors(tx *sql.Tx) storage.SuccessorFunc {
	acyclic := make([]string, len(types.AcyclicRelationshipTypes))
	for i, t := range types.AcyclicRelationshipTypes {
		acyclic[i] = string(t)
	}

	return func(ctx context.Context, id string) ([]string, error) {
		rows, err := tx.QueryContext(ctx,
			`SELECT to_asset_id FROM relationships WHERE from_asset_id = $1 AND type = ANY($2)`,
			id, pq.Array(acyclic))
		if err != nil {
			return nil, classify("walk relationships", err)
		}
		defer func() { _ = rows.Close() }()

		var next []string
		for rows.Next() {
			var to string
			if err := rows.Scan(&to); err != nil {
				return nil, classify("walk relationships", err)
			}
			next = append(next, to)
		}
		return next, classify("walk relationships", rows.Err())
	}
}

func collectRelationships(rows *sql.Rows) ([]types.Relationship, error) {
	rels := make([]types.Relationship, 0)
	for rows.Next() {
		var r types.Relationship
		if err := rows.Scan(&r.FromAssetID, &r.ToAssetID, &r.Type, &r.Description, &r.CreatedBy, &r.CreatedAt); err != nil {
			return nil, classify("scan relationship", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate relationships", err)
	}
	return rels, nil
}
