package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// CreateAsset inserts a new asset. An existing ID, live or tombstoned, is
// left untouched.
func (s *Store) CreateAsset(ctx context.Context, asset *types.Asset) error {
	if asset == nil || asset.ID == "" {
		return fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}

	tags := asset.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assets (
			id, title, content, type, category, tags, author_id, is_public,
			usage_count, rating, rating_count, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, 0, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, asset.ID, asset.Title, asset.Content, string(asset.Type), asset.Category, pq.Array(tags),
		asset.AuthorID, asset.IsPublic, asset.CreatedAt, asset.UpdatedAt)
	return classify("create asset", err)
}

// GetAsset increments the usage count once per eventID and returns the asset.
func (s *Store) GetAsset(ctx context.Context, id, eventID string) (*types.Asset, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}

	var out *types.Asset
	err := s.withTx(ctx, "get asset", nil, func(tx *sql.Tx) error {
		if _, err := lockAsset(ctx, tx, id); err != nil {
			return err
		}

		count := true
		if eventID != "" {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO usage_events (asset_id, event_id, created_at) VALUES ($1, $2, NOW())
				ON CONFLICT (asset_id, event_id) DO NOTHING
			`, id, eventID)
			if err != nil {
				return classify("record usage event", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return classify("record usage event", err)
			}
			count = n == 1
		}

		query := "SELECT " + assetColumns + " FROM assets WHERE id = $1"
		if count {
			query = "UPDATE assets SET usage_count = usage_count + 1 WHERE id = $1 RETURNING " + assetColumns
		}
		a, err := scanAsset(tx.QueryRowContext(ctx, query, id))
		if err != nil {
			return classify("increment usage count", err)
		}
		out = a
		return nil
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
	return liveAsset(ctx, s.db, id, "")
}

// UpdateAsset applies patch to a live asset.
func (s *Store) UpdateAsset(ctx context.Context, id string, patch types.AssetPatch, at time.Time) (*types.Asset, error) {
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	var out *types.Asset
	err := s.withTx(ctx, "update asset", nil, func(tx *sql.Tx) error {
		a, err := lockAsset(ctx, tx, id)
		if err != nil {
			return err
		}

		patch.Apply(a, at.UTC())
		if a.Tags == nil {
			a.Tags = []string{}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE assets
			SET title = $1, content = $2, type = $3, category = $4, tags = $5, is_public = $6, updated_at = $7
			WHERE id = $8
		`, a.Title, a.Content, string(a.Type), a.Category, pq.Array(a.Tags), a.IsPublic, a.UpdatedAt, id)
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

	var p params
	where := []string{"deleted_at IS NULL"}
	if opts.Type != "" {
		where = append(where, "type = "+p.add(string(opts.Type)))
	}
	if opts.Category != "" {
		where = append(where, "category = "+p.add(opts.Category))
	}
	if opts.IsPublic != nil {
		where = append(where, "is_public = "+p.add(*opts.IsPublic))
	}
	if opts.VisibleTo != "" {
		where = append(where, "(is_public OR author_id = "+p.add(opts.VisibleTo)+")")
	}
	clause := strings.Join(where, " AND ")
	filterArgs := append([]any(nil), p.args...)

	result := &storage.PaginatedResult[types.Asset]{Page: opts.Page, PageSize: opts.Limit}
	err := s.withTx(ctx, "list assets", readOnly, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM assets WHERE "+clause, filterArgs...).Scan(&result.Total); err != nil {
			return classify("count assets", err)
		}

		query := "SELECT " + assetColumns + " FROM assets WHERE " + clause +
			" ORDER BY created_at DESC, id DESC LIMIT " + p.add(opts.Limit) + " OFFSET " + p.add(opts.Offset())
		rows, err := tx.QueryContext(ctx, query, p.args...)
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

// RateAsset appends a rating observation and recomputes the mean while
// holding the asset row lock. A replayed observation ID is ignored.
func (s *Store) RateAsset(ctx context.Context, obs types.RatingObservation) (*types.Asset, error) {
	if obs.ID == "" {
		return nil, fmt.Errorf("%w: rating observation ID is required", storage.ErrInvalidInput)
	}
	if err := types.ValidateScore(obs.Score); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	var out *types.Asset
	err := s.withTx(ctx, "rate asset", nil, func(tx *sql.Tx) error {
		a, err := lockAsset(ctx, tx, obs.AssetID)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO rating_observations (id, asset_id, principal_id, score, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, obs.ID, obs.AssetID, obs.PrincipalID, obs.Score, obs.CreatedAt)
		if err != nil {
			return classify("insert rating", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify("insert rating", err)
		}
		if n == 0 {
			out = a
			return nil
		}

		a, err = scanAsset(tx.QueryRowContext(ctx, `
			UPDATE assets
			SET rating = agg.mean, rating_count = agg.n, updated_at = $2
			FROM (
				SELECT AVG(score) AS mean, COUNT(*) AS n FROM rating_observations WHERE asset_id = $1
			) AS agg
			WHERE id = $1
			RETURNING `+qualifiedAssetColumns, obs.AssetID, obs.CreatedAt))
		if err != nil {
			return classify("update rating", err)
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// qualifiedAssetColumns disambiguates assetColumns in UPDATE ... FROM.
const qualifiedAssetColumns = `assets.id, assets.title, assets.content, assets.type, assets.category,
	assets.tags, assets.author_id, assets.is_public, assets.usage_count, assets.rating,
	assets.rating_count, assets.created_at, assets.updated_at, assets.deleted_at`

// DeleteAsset detaches the asset's relationships and tombstones it in one
// transaction while holding the asset row lock.
func (s *Store) DeleteAsset(ctx context.Context, id string, at time.Time) ([]types.Relationship, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: asset ID is required", storage.ErrInvalidInput)
	}

	var detached []types.Relationship
	err := s.withTx(ctx, "delete asset", nil, func(tx *sql.Tx) error {
		if _, err := lockAsset(ctx, tx, id); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			DELETE FROM relationships WHERE from_asset_id = $1 OR to_asset_id = $1
			RETURNING `+relationshipColumns, id)
		if err != nil {
			return classify("detach relationships", err)
		}
		rels, err := collectRelationships(rows)
		_ = rows.Close()
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE assets SET deleted_at = $1, updated_at = $1 WHERE id = $2`, at, id); err != nil {
			return classify("tombstone asset", err)
		}

		storage.SortRelationships(rels)
		detached = rels
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detached, nil
}

// Snapshot reads every live asset and every edge in one REPEATABLE READ
// transaction, so both lists come from the same database snapshot.
func (s *Store) Snapshot(ctx context.Context) (*storage.Snapshot, error) {
	snap := &storage.Snapshot{}
	err := s.withTx(ctx, "snapshot", readOnly, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, "SELECT NOW()").Scan(&snap.TakenAt); err != nil {
			return classify("snapshot", err)
		}

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
		return nil
	})
	if err != nil {
		return nil, err
	}
	snap.TakenAt = snap.TakenAt.UTC()
	storage.SortRelationships(snap.Relationships)
	return snap, nil
}

// liveAsset loads a non-deleted asset. lock is appended to the query, for
// example "FOR SHARE", and may be empty.
func liveAsset(ctx context.Context, q querier, id, lock string) (*types.Asset, error) {
	query := "SELECT " + assetColumns + " FROM assets WHERE id = $1 AND deleted_at IS NULL"
	if lock != "" {
		query += " " + lock
	}
	a, err := scanAsset(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, classify("get asset", err)
	}
	return a, nil
}

// lockAsset loads a live asset and holds its row lock until tx ends.
func lockAsset(ctx context.Context, tx *sql.Tx, id string) (*types.Asset, error) {
	return liveAsset(ctx, tx, id, "FOR UPDATE")
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
