package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

const relationshipColumns = `from_asset_id, to_asset_id, type, description, created_by, created_at`

// Link inserts rel. Endpoint checks, the duplicate check, the cycle check
// and the insert share one transaction on the store's only connection.
func (s *Store) Link(ctx context.Context, rel *types.Relationship) error {
	if rel == nil {
		return fmt.Errorf("%w: relationship is required", storage.ErrInvalidInput)
	}
	if err := rel.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	return s.withTx(ctx, "link assets", func(tx *sql.Tx) error {
		if _, err := liveAsset(ctx, tx, rel.FromAssetID); err != nil {
			return err
		}
		if _, err := liveAsset(ctx, tx, rel.ToAssetID); err != nil {
			return err
		}

		var exists int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM relationships WHERE from_asset_id = ? AND to_asset_id = ? AND type = ?
		`, rel.FromAssetID, rel.ToAssetID, string(rel.Type)).Scan(&exists)
		switch {
		case err == nil:
			return storage.ErrDuplicate
		case !errors.Is(err, sql.ErrNoRows):
			return classify("check duplicate relationship", err)
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

		_, err = tx.ExecContext(ctx, `
			INSERT INTO relationships (from_asset_id, to_asset_id, type, description, created_by, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rel.FromAssetID, rel.ToAssetID, string(rel.Type), rel.Description, rel.CreatedBy, rel.CreatedAt.UTC())
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") {
				return storage.ErrDuplicate
			}
			return classify("insert relationship", err)
		}
		return nil
	})
}

// Unlink removes an edge if present.
func (s *Store) Unlink(ctx context.Context, fromID, toID string, relType types.RelationshipType) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM relationships WHERE from_asset_id = ? AND to_asset_id = ? AND type = ?
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

	var arms []string
	var args []any
	typeClause := ""
	if relType != nil {
		typeClause = " AND type = ?"
	}
	if dir == types.DirectionOutgoing || dir == types.DirectionEither {
		arms = append(arms, "SELECT to_asset_id AS neighbor_id FROM relationships WHERE from_asset_id = ?"+typeClause)
		args = append(args, id)
		if relType != nil {
			args = append(args, string(*relType))
		}
	}
	if dir == types.DirectionIncoming || dir == types.DirectionEither {
		arms = append(arms, "SELECT from_asset_id AS neighbor_id FROM relationships WHERE to_asset_id = ?"+typeClause)
		args = append(args, id)
		if relType != nil {
			args = append(args, string(*relType))
		}
	}
	if len(arms) == 0 {
		return nil, fmt.Errorf("%w: unknown direction %q", storage.ErrInvalidInput, dir)
	}

	query := "SELECT " + assetColumns + " FROM assets WHERE deleted_at IS NULL AND id IN (" +
		strings.Join(arms, " UNION ") + ") ORDER BY created_at DESC, id DESC"

	var out []types.Asset
	err := s.withTx(ctx, "list neighbors", func(tx *sql.Tx) error {
		if _, err := liveAsset(ctx, tx, id); err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, query, args...)
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
	err := s.withTx(ctx, "list relationships", func(tx *sql.Tx) error {
		if _, err := liveAsset(ctx, tx, id); err != nil {
			return err
		}
		rels, err := queryRelationships(ctx, tx, id)
		out = rels
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// acyclicSuccessors returns a storage.SuccessorFunc reading DEPENDS_ON and
// EXTENDS targets through tx.
func acyclicSuccessors(tx *sql.Tx) storage.SuccessorFunc {
	placeholders := make([]string, len(types.AcyclicRelationshipTypes))
	typeArgs := make([]any, len(types.AcyclicRelationshipTypes))
	for i, t := range types.AcyclicRelationshipTypes {
		placeholders[i] = "?"
		typeArgs[i] = string(t)
	}
	query := "SELECT to_asset_id FROM relationships WHERE from_asset_id = ? AND type IN (" +
		strings.Join(placeholders, ", ") + ")"

	return func(ctx context.Context, id string) ([]string, error) {
		rows, err := tx.QueryContext(ctx, query, append([]any{id}, typeArgs...)...)
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

// queryRelationships loads every edge touching id through q.
func queryRelationships(ctx context.Context, q querier, id string) ([]types.Relationship, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+relationshipColumns+
		" FROM relationships WHERE from_asset_id = ? OR to_asset_id = ?", id, id)
	if err != nil {
		return nil, classify("list relationships", err)
	}
	defer func() { _ = rows.Close() }()

	rels, err := collectRelationships(rows)
	if err != nil {
		return nil, err
	}
	storage.SortRelationships(rels)
	return rels, nil
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
