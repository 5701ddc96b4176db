// Package knowledge implements the knowledge hub façade: principal checks,
// error translation, guarded storage calls, ranked search, analytics and
// change events over a storage.Store.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/romcoding/architex/internal/logging"
	"github.com/romcoding/architex/internal/resilience"
	"github.com/romcoding/architex/internal/storage"
	"github.com/romcoding/architex/pkg/types"
)

// Service is the knowledge hub façade. Every method returns either nil or a
// *Error; storage details never leak through.
type Service struct {
	store     storage.Store
	guard     *resilience.Guard
	search    *SearchIndex
	analytics *Aggregator
	publisher Publisher
	metrics   *Metrics
	logger    *zap.Logger

	now   func() time.Time
	newID func() string

	topUsage    int
	searchLimit int

	closeOnce sync.Once
	closeErr  error
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used for internal failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPublisher sets the receiver of change events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the generator of asset, observation and usage
// event IDs.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithGuard sets the guard wrapping storage calls. Without it the service
// builds one from resilience defaults.
func WithGuard(g *resilience.Guard) Option {
	return func(s *Service) { s.guard = g }
}

// WithTopUsage sets the length of the most-used list in summaries.
func WithTopUsage(n int) Option {
	return func(s *Service) { s.topUsage = n }
}

// WithSearchLimit sets the result count used when a query has no limit.
func WithSearchLimit(n int) Option {
	return func(s *Service) { s.searchLimit = n }
}

// NewService creates a Service over store. The service owns store and
// closes it in Close.
func NewService(store storage.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("knowledge: store is required")
	}

	s := &Service{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.guard == nil {
		s.guard = resilience.NewGuard(resilience.Config{},
			resilience.WithLogger(s.logger),
			resilience.WithRetryHook(s.metrics.IncRetry))
	}
	s.search = NewSearchIndex(s.searchLimit)
	s.analytics = NewAggregator(s.topUsage)
	return s, nil
}

// Close releases the underlying store. It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

// CreateAsset stores a new asset authored by p.
func (s *Service) CreateAsset(ctx context.Context, p types.Principal, draft types.AssetDraft) (_ *types.Asset, err error) {
	defer s.observe("create_asset", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return nil, err
	}
	if !p.CanContribute() {
		return nil, newError(KindAuthorization, "role %s cannot create assets", p.Role)
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	asset := &types.Asset{
		ID:        s.newID(),
		Title:     strings.TrimSpace(draft.Title),
		Content:   draft.Content,
		Type:      draft.Type,
		Category:  strings.TrimSpace(draft.Category),
		Tags:      types.NormalizeTags(draft.Tags),
		AuthorID:  p.ID,
		IsPublic:  draft.IsPublic,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// A replayed create with the same ID is a no-op in every backend.
	if err := s.call(ctx, "create_asset", func(ctx context.Context, _ int) error {
		return s.store.CreateAsset(ctx, asset)
	}); err != nil {
		return nil, err
	}

	s.publish(assetEvent(EventAssetCreated, asset, p.ID, now))
	return asset, nil
}

// GetAsset returns an asset and records one read access. Private assets of
// other principals are reported as not found.
func (s *Service) GetAsset(ctx context.Context, p types.Principal, id string) (_ *types.Asset, err error) {
	defer s.observe("get_asset", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return nil, err
	}
	if _, err := s.visibleAsset(ctx, p, id); err != nil {
		return nil, err
	}

	eventID := s.newID()
	asset, err := resilience.Do(ctx, s.guard, "get_asset", func(ctx context.Context, _ int) (*types.Asset, error) {
		return s.store.GetAsset(ctx, id, eventID)
	})
	if err != nil {
		return nil, err
	}
	if !p.CanView(asset) {
		return nil, storage.ErrNotFound
	}
	return asset, nil
}

// ListAssets returns up to limit assets visible to p matching filter,
// newest first. A zero limit means storage.DefaultListLimit.
func (s *Service) ListAssets(ctx context.Context, p types.Principal, filter types.AssetFilter, limit int) ([]types.Asset, error) {
	page, err := s.ListPage(ctx, p, filter, 1, limit)
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// ListPage returns one page of the assets visible to p matching filter.
func (s *Service) ListPage(ctx context.Context, p types.Principal, filter types.AssetFilter, page, limit int) (_ *storage.PaginatedResult[types.Asset], err error) {
	defer s.observe("list_assets", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return nil, err
	}
	if limit < 0 || limit > storage.MaxListLimit {
		return nil, newError(KindValidation, "limit must be between 0 and %d", storage.MaxListLimit)
	}
	if page < 0 {
		return nil, newError(KindValidation, "page must not be negative")
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	opts := storage.ListOptions{AssetFilter: filter, Page: page, Limit: limit}
	if !p.IsAdmin() {
		opts.VisibleTo = p.ID
	}
	opts.Normalize()

	return resilience.Do(ctx, s.guard, "list_assets", func(ctx context.Context, _ int) (*storage.PaginatedResult[types.Asset], error) {
		return s.store.ListAssets(ctx, opts)
	})
}

// IterateAssets yields every asset visible to p matching filter, one page
// at a time. Iteration stops at the first error, which is yielded.
func (s *Service) IterateAssets(ctx context.Context, p types.Principal, filter types.AssetFilter) iter.Seq2[types.Asset, error] {
	return func(yield func(types.Asset, error) bool) {
		for page := 1; ; page++ {
			res, err := s.ListPage(ctx, p, filter, page, storage.MaxListLimit)
			if err != nil {
				yield(types.Asset{}, err)
				return
			}
			for _, a := range res.Items {
				if !yield(a, nil) {
					return
				}
			}
			if !res.HasMore {
				return
			}
		}
	}
}

// UpdateAsset applies patch to an asset p authored. Admins may update any
// asset.
func (s *Service) UpdateAsset(ctx context.Context, p types.Principal, id string, patch types.AssetPatch) (_ *types.Asset, err error) {
	defer s.observe("update_asset", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	current, err := s.visibleAsset(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !p.CanModify(current) {
		return nil, newError(KindAuthorization, "only the author or an admin may update this asset")
	}
	if patch.Empty() {
		return current, nil
	}

	now := s.now().UTC()
	updated, err := resilience.Do(ctx, s.guard, "update_asset", func(ctx context.Context, _ int) (*types.Asset, error) {
		return s.store.UpdateAsset(ctx, id, patch, now)
	})
	if err != nil {
		return nil, err
	}

	s.publish(assetEvent(EventAssetUpdated, updated, p.ID, now))
	return updated, nil
}

// RateAsset records one rating observation and returns the asset with its
// recomputed mean.
func (s *Service) RateAsset(ctx context.Context, p types.Principal, id string, score float64) (_ *types.Asset, err error) {
	defer s.observe("rate_asset", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return nil, err
	}
	if err := types.ValidateScore(score); err != nil {
		return nil, err
	}
	if _, err := s.visibleAsset(ctx, p, id); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	obs := types.RatingObservation{
		ID:          s.newID(),
		AssetID:     id,
		PrincipalID: p.ID,
		Score:       score,
		CreatedAt:   now,
	}
	rated, err := resilience.Do(ctx, s.guard, "rate_asset", func(ctx context.Context, _ int) (*types.Asset, error) {
		return s.store.RateAsset(ctx, obs)
	})
	if err != nil {
		return nil, err
	}

	s.publish(assetEvent(EventAssetRated, rated, p.ID, now))
	return rated, nil
}

// DeleteAsset tombstones an asset p authored and detaches its
// relationships. Admins may delete any asset.
func (s *Service) DeleteAsset(ctx context.Context, p types.Principal, id string) (err error) {
	defer s.observe("delete_asset", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return err
	}
	current, err := s.visibleAsset(ctx, p, id)
	if err != nil {
		return err
	}
	if !p.CanModify(current) {
		return newError(KindAuthorization, "only the author or an admin may delete this asset")
	}

	now := s.now().UTC()
	detached, err := resilience.Do(ctx, s.guard, "delete_asset", func(ctx context.Context, attempt int) ([]types.Relationship, error) {
		rels, err := s.store.DeleteAsset(ctx, id, now)
		// The first attempt may have committed before its deadline fired.
		if attempt > 1 && errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return rels, err
	})
	if err != nil {
		return err
	}

	for _, rel := range detached {
		s.publish(relationshipEvent(EventRelationshipRemoved, rel, p.ID, now, current.AuthorID, current.IsPublic))
	}
	current.DeletedAt = &now
	s.publish(assetEvent(EventAssetDeleted, current, p.ID, now))
	return nil
}

// LinkAssets adds a typed edge between two assets visible to p.
func (s *Service) LinkAssets(ctx context.Context, p types.Principal, fromID, toID string, relType types.RelationshipType, description string) (_ *types.Relationship, err error) {
	defer s.observe("link_assets", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return nil, err
	}
	if !p.CanContribute() {
		return nil, newError(KindAuthorization, "role %s cannot link assets", p.Role)
	}

	now := s.now().UTC()
	rel := &types.Relationship{
		FromAssetID: fromID,
		ToAssetID:   toID,
		Type:        relType,
		Description: strings.TrimSpace(description),
		CreatedBy:   p.ID,
		CreatedAt:   now,
	}
	if err := rel.Validate(); err != nil {
		return nil, err
	}
	from, err := s.visibleAsset(ctx, p, fromID)
	if err != nil {
		return nil, err
	}
	to, err := s.visibleAsset(ctx, p, toID)
	if err != nil {
		return nil, err
	}

	if err := s.call(ctx, "link_assets", func(ctx context.Context, attempt int) error {
		err := s.store.Link(ctx, rel)
		// A duplicate on retry is the first attempt's own edge.
		if attempt > 1 && errors.Is(err, storage.ErrDuplicate) {
			return nil
		}
		return err
	}); err != nil {
		return nil, err
	}

	author, public := edgeAudience(from, to)
	s.publish(relationshipEvent(EventRelationshipLinked, *rel, p.ID, now, author, public))
	return rel, nil
}

// UnlinkAssets removes an edge. Removing an edge that does not exist, or
// whose endpoints are gone, succeeds without effect and publishes nothing.
func (s *Service) UnlinkAssets(ctx context.Context, p types.Principal, fromID, toID string, relType types.RelationshipType) (err error) {
	defer s.observe("unlink_assets", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return err
	}
	if !p.CanContribute() {
		return newError(KindAuthorization, "role %s cannot unlink assets", p.Role)
	}
	if !relType.Valid() {
		return &types.ValidationError{Field: "type", Message: "unknown relationship type"}
	}

	// Deleted assets carry no edges, so a missing endpoint means no edge.
	from, err := s.visibleAsset(ctx, p, fromID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	to, err := s.visibleAsset(ctx, p, toID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	removed, err := resilience.Do(ctx, s.guard, "unlink_assets", func(ctx context.Context, _ int) (bool, error) {
		return s.store.Unlink(ctx, fromID, toID, relType)
	})
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}

	now := s.now().UTC()
	author, public := edgeAudience(from, to)
	rel := types.Relationship{FromAssetID: fromID, ToAssetID: toID, Type: relType, CreatedBy: p.ID, CreatedAt: now}
	s.publish(relationshipEvent(EventRelationshipRemoved, rel, p.ID, now, author, public))
	return nil
}

// Neighbors returns the assets visible to p connected to id. A nil relType
// follows every type; an empty direction means either.
func (s *Service) Neighbors(ctx context.Context, p types.Principal, id string, relType *types.RelationshipType, dir types.Direction) (_ []types.Asset, err error) {
	defer s.observe("neighbors", time.Now(), &err)
	return s.neighbors(ctx, p, id, relType, dir)
}

// ConflictsOf returns the assets visible to p that conflict with id, in
// either direction.
func (s *Service) ConflictsOf(ctx context.Context, p types.Principal, id string) (_ []types.Asset, err error) {
	defer s.observe("conflicts_of", time.Now(), &err)
	relType := types.RelConflictsWith
	return s.neighbors(ctx, p, id, &relType, types.DirectionEither)
}

func (s *Service) neighbors(ctx context.Context, p types.Principal, id string, relType *types.RelationshipType, dir types.Direction) ([]types.Asset, error) {
	if err := authenticate(p); err != nil {
		return nil, err
	}
	if relType != nil && !relType.Valid() {
		return nil, &types.ValidationError{Field: "type", Message: "unknown relationship type"}
	}
	if dir == "" {
		dir = types.DirectionEither
	}
	if _, err := types.ParseDirection(string(dir)); err != nil {
		return nil, err
	}
	if _, err := s.visibleAsset(ctx, p, id); err != nil {
		return nil, err
	}

	assets, err := resilience.Do(ctx, s.guard, "neighbors", func(ctx context.Context, _ int) ([]types.Asset, error) {
		return s.store.Neighbors(ctx, id, relType, dir)
	})
	if err != nil {
		return nil, err
	}

	out := assets[:0]
	for i := range assets {
		if p.CanView(&assets[i]) {
			out = append(out, assets[i])
		}
	}
	return out, nil
}

// Relationships returns the edges touching id whose other endpoint is
// visible to p, newest first.
func (s *Service) Relationships(ctx context.Context, p types.Principal, id string) (_ []types.Relationship, err error) {
	defer s.observe("relationships", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return nil, err
	}
	if _, err := s.visibleAsset(ctx, p, id); err != nil {
		return nil, err
	}

	rels, err := resilience.Do(ctx, s.guard, "relationships", func(ctx context.Context, _ int) ([]types.Relationship, error) {
		return s.store.Relationships(ctx, id)
	})
	if err != nil || p.IsAdmin() {
		return rels, err
	}

	visible := make(map[string]bool)
	out := rels[:0]
	for _, rel := range rels {
		other := rel.ToAssetID
		if other == id {
			other = rel.FromAssetID
		}
		ok, seen := visible[other]
		if !seen {
			_, lookupErr := s.visibleAsset(ctx, p, other)
			switch {
			case lookupErr == nil:
				ok = true
			case errors.Is(lookupErr, storage.ErrNotFound):
				ok = false
			default:
				return nil, lookupErr
			}
			visible[other] = ok
		}
		if ok {
			out = append(out, rel)
		}
	}
	return out, nil
}

// SearchAssets ranks the assets visible to p against q.
func (s *Service) SearchAssets(ctx context.Context, p types.Principal, q types.SearchQuery) (_ []types.SearchHit, err error) {
	defer s.observe("search_assets", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return nil, err
	}
	if _, err := s.search.ValidateQuery(q); err != nil {
		return nil, err
	}

	snap, err := s.snapshot(ctx, "search_assets")
	if err != nil {
		return nil, err
	}
	return s.search.Query(snap, q, p)
}

// AnalyticsSummary rolls up the live assets p may see and the relationships
// between them. Admins get the whole store.
func (s *Service) AnalyticsSummary(ctx context.Context, p types.Principal) (_ *types.Summary, err error) {
	defer s.observe("analytics_summary", time.Now(), &err)

	if err := authenticate(p); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, "analytics_summary")
	if err != nil {
		return nil, err
	}
	summary := s.analytics.Summary(snap, p)
	return &summary, nil
}

func (s *Service) snapshot(ctx context.Context, op string) (*storage.Snapshot, error) {
	return resilience.Do(ctx, s.guard, op, func(ctx context.Context, _ int) (*storage.Snapshot, error) {
		return s.store.Snapshot(ctx)
	})
}

// visibleAsset looks id up without side effects and hides assets p may not
// see behind storage.ErrNotFound.
func (s *Service) visibleAsset(ctx context.Context, p types.Principal, id string) (*types.Asset, error) {
	if strings.TrimSpace(id) == "" {
		return nil, storage.ErrNotFound
	}
	asset, err := resilience.Do(ctx, s.guard, "lookup_asset", func(ctx context.Context, _ int) (*types.Asset, error) {
		return s.store.LookupAsset(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if !p.CanView(asset) {
		return nil, storage.ErrNotFound
	}
	return asset, nil
}

func (s *Service) call(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	_, err := resilience.Do(ctx, s.guard, op, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// observe translates *errp into an *Error, logs internal failures and
// records the outcome.
func (s *Service) observe(op string, start time.Time, errp *error) {
	if *errp != nil {
		e, internal := classify(*errp)
		if internal {
			s.logger.Error("knowledge operation failed",
				zap.String("operation", op),
				zap.String("error", logging.SanitizeError(*errp)))
		}
		*errp = e
	}
	s.metrics.ObserveOperation(op, *errp, time.Since(start))
}

func (s *Service) publish(e Event) {
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}

func authenticate(p types.Principal) error {
	if !p.Valid() {
		return newError(KindAuthentication, "authentication required")
	}
	return nil
}

// edgeAudience returns who may see an event about an edge between a and b:
// everyone when both are public, otherwise the author of the private
// endpoints when they share one. Admins always see it.
func edgeAudience(a, b *types.Asset) (string, bool) {
	switch {
	case a.IsPublic && b.IsPublic:
		return "", true
	case a.IsPublic:
		return b.AuthorID, false
	case b.IsPublic:
		return a.AuthorID, false
	case a.AuthorID == b.AuthorID:
		return a.AuthorID, false
	}
	return "", false
}
