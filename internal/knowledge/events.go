package knowledge

import (
	"time"

	"github.com/romcoding/architex/pkg/types"
)

// EventType names a graph change.
type EventType string

const (
	EventAssetCreated        EventType = "asset.created"
	EventAssetUpdated        EventType = "asset.updated"
	EventAssetDeleted        EventType = "asset.deleted"
	EventAssetRated          EventType = "asset.rated"
	EventRelationshipLinked  EventType = "relationship.linked"
	EventRelationshipRemoved EventType = "relationship.unlinked"
)

// Event describes one committed change to the knowledge graph.
type Event struct {
	Type         EventType           `json:"type"`
	AssetID      string              `json:"asset_id,omitempty"`
	Asset        *types.Asset        `json:"asset,omitempty"`
	Relationship *types.Relationship `json:"relationship,omitempty"`
	ActorID      string              `json:"actor_id"`
	Timestamp    time.Time           `json:"timestamp"`

	// authorID and public gate delivery; see VisibleTo.
	authorID string
	public   bool
}

// VisibleTo reports whether p may receive the event. Events about private
// assets go to their author and admins only.
func (e Event) VisibleTo(p types.Principal) bool {
	return e.public || p.IsAdmin() || (p.ID != "" && p.ID == e.authorID)
}

// Publisher receives committed graph changes. Publish must not block.
type Publisher interface {
	Publish(Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

// Publish calls f(e).
func (f PublisherFunc) Publish(e Event) { f(e) }

func assetEvent(t EventType, a *types.Asset, actor string, at time.Time) Event {
	snapshot := a.Clone()
	return Event{
		Type:      t,
		AssetID:   a.ID,
		Asset:     &snapshot,
		ActorID:   actor,
		Timestamp: at,
		authorID:  a.AuthorID,
		public:    a.IsPublic,
	}
}

// relationshipEvent is visible to whoever may see both endpoints; callers
// pass the stricter of the two visibilities.
func relationshipEvent(t EventType, rel types.Relationship, actor string, at time.Time, authorID string, public bool) Event {
	return Event{
		Type:         t,
		AssetID:      rel.FromAssetID,
		Relationship: &rel,
		ActorID:      actor,
		Timestamp:    at,
		authorID:     authorID,
		public:       public,
	}
}
