package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// CreateAsset inserts a new asset. An existing ID, live or tombstoned, is
// left untouched.
func (s *Store) CreateAsset(ctx context.Context, asset *types.Asset) error {
	if asset == nil || asset.ID == "" {
		return fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}

	tags, err := marshalTags(asset.Tags)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO assets (
			id, title, content, type, category, tags, author_id, is_public,
			usage_count, rating, rating_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		asset.ID, asset.Title, asset.Content, string(asset.Type), asset.Category, tags,
		asset.AuthorID, asset.IsPublic, asset.CreatedAt.UTC(), asset.UpdatedAt.UTC(),
	)
	return classify("create asset", err)
}

// GetAsset increments the usage count once per eventID and returns the asset.
func (s *Store) GetAsset(ctx context.Context, id, eventID string) (*types.Asset, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}

	var out *types.Asset
	err := s.withTx(ctx, "get asset", func(tx *sql.Tx) error {
		if _, err := liveAsset(ctx, tx, id); err != nil {
			return err
		}

		count := true
		if eventID != "" {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO usage_events (asset_id, event_id, created_at) VALUES (?, ?, ?)
				ON CONFLICT(asset_id, event_id) DO NOTHING
			`, id, eventID, time.Now().UTC())
			if err != nil {
				return classify("record usage event", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return classify("record usage event", err)
			}
			count = n == 1
		}

		if count {
			if _, err := tx.ExecContext(ctx, `UPDATE assets SET usage_count = usage_count + 1 WHERE id = ?`, id); err != nil {
				return classify("increment usage count", err)
			}
		}

		a, err := liveAsset(ctx, tx, id)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LookupAsset returns a live asset without side effects.
func (s *Store) LookupAsset(ctx context.Context, id string) (*types.Asset, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}
	return liveAsset(ctx, s.db, id)
}

// UpdateAsset applies patch to a live asset.
func (s *Store) UpdateAsset(ctx context.Context, id string, patch types.AssetPatch, at time.Time) (*types.Asset, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	var out *types.Asset
	err := s.withTx(ctx, "update asset", func(tx *sql.Tx) error {
		a, err := liveAsset(ctx, tx, id)
		if err != nil {
			return err
		}

		patch.Apply(a, at.UTC())
		tags, err := marshalTags(a.Tags)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE assets
			SET title = ?, content = ?, type = ?, category = ?, tags = ?, is_public = ?, updated_at = ?
			WHERE id = ?
		`, a.Title, a.Content, string(a.Type), a.Category, tags, a.IsPublic, a.UpdatedAt, id)
		if err != nil {
			return classify("update asset", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListAssets returns one page of live assets.
func (s *Store) ListAssets(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Asset], error) {
	opts.Normalize()

	where := []string{"deleted_at IS NULL"}
	var args []any
	if opts.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(opts.Type))
	}
	if opts.Category != "" {
		where = append(where, "category = ?")
		args = append(args, opts.Category)
	}
	if opts.IsPublic != nil {
		where = append(where, "is_public = ?")
		args = append(args, *opts.IsPublic)
	}
	if opts.VisibleTo != "" {
		where = append(where, "(is_public = 1 OR author_id = ?)")
		args = append(args, opts.VisibleTo)
	}
	clause := strings.Join(where, " AND ")

	result := &storage.PaginatedResult[types.Asset]{Page: opts.Page, PageSize: opts.Limit}
	err := s.withTx(ctx, "list assets", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets WHERE "+clause, args...).Scan(&result.Total); err != nil {
			return classify("count assets", err)
		}

		query := "SELECT " + assetColumns + " FROM assets WHERE " + clause +
			" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
		rows, err := tx.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
		if err != nil {
			return classify("list assets", err)
		}
		defer func() { _ = rows.Close() }()

		items, err := collectAssets(rows)
		if err != nil {
			return err
		}
		result.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.HasMore = opts.Offset()+len(result.Items) < result.Total
	return result, nil
}

// RateAsset appends a rating observation and recomputes the mean in one
// transaction. A replayed observation ID is ignored.
func (s *Store) RateAsset(ctx context.Context, obs types.RatingObservation) (*types.Asset, error) {
	if obs.ID == "" {
		return nil, fmt.Errorf("%w: rating observation ID is required", storage.ErrInvalidInput)
	}
	if err := types.ValidateScore(obs.Score); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	var out *types.Asset
	err := s.withTx(ctx, "rate asset", func(tx *sql.Tx) error {
		if _, err := liveAsset(ctx, tx, obs.AssetID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO rating_observations (id, asset_id, principal_id, score, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, obs.ID, obs.AssetID, obs.PrincipalID, obs.Score, obs.CreatedAt.UTC())
		if err != nil {
			return classify("insert rating", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify("insert rating", err)
		}

		if n == 1 {
			_, err = tx.ExecContext(ctx, `
				UPDATE assets
				SET rating = (SELECT AVG(score) FROM rating_observations WHERE asset_id = ?),
				    rating_count = (SELECT COUNT(*) FROM rating_observations WHERE asset_id = ?),
				    updated_at = ?
				WHERE id = ?
			`, obs.AssetID, obs.AssetID, obs.CreatedAt.UTC(), obs.AssetID)
			if err != nil {
				return classify("update rating", err)
			}
		}

		a, err := liveAsset(ctx, tx, obs.AssetID)
		out = a
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAsset detaches the asset's relationships and tombstones it in one
// transaction.
func (s *Store) DeleteAsset(ctx context.Context, id string, at time.Time) ([]types.Relationship, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}

	var detached []types.Relationship
	err := s.withTx(ctx, "delete asset", func(tx *sql.Tx) error {
		if _, err := liveAsset(ctx, tx, id); err != nil {
			return err
		}

		rels, err := queryRelationships(ctx, tx, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM relationships WHERE from_asset_id = ? OR to_asset_id = ?`, id, id); err != nil {
			return classify("detach relationships", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE assets SET deleted_at = ?, updated_at = ? WHERE id = ?`,
			nullableTime(&at), at.UTC(), id); err != nil {
			return classify("tombstone asset", err)
		}

		detached = rels
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detached, nil
}

// Snapshot reads every live asset and every edge inside one transaction.
func (s *Store) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	snap := &storage.Snapshot{}
	err := s.withTx(ctx, "snapshot", func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT "+assetColumns+
			" FROM assets WHERE deleted_at IS NULL ORDER BY created_at DESC, id DESC")
		if err != nil {
			return classify("snapshot assets", err)
		}
		assets, err := collectAssets(rows)
		_ = rows.Close()
		if err != nil {
			return err
		}

		rows, err = tx.QueryContext(ctx, "SELECT "+relationshipColumns+" FROM relationships")
		if err != nil {
			return classify("snapshot relationships", err)
		}
		rels, err := collectRelationships(rows)
		_ = rows.Close()
		if err != nil {
			return err
		}

		snap.Assets = assets
		snap.Relationships = rels
		snap.TakenAt = time.Now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	storage.SortRelationships(snap.Relationships)
	return snap, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// liveAsset loads a non-deleted asset or returns storage.ErrNotFound.
func liveAsset(ctx context.Context, q querier, id string) (*types.Asset, error) {
	row := q.QueryRowContext(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = ? AND deleted_at IS NULL", id)
	a, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, classify("get asset", err)
	}
	return a, nil
}

func collectAssets(rows *sql.Rows) ([]types.Asset, error) {
	items := make([]types.Asset, 0)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, classify("scan asset", err)
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate assets", err)
	}
	return items, nil
}
