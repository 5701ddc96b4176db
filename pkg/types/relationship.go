package types

import (
	"strings"
	"time"
)

// RelationshipType is the label of a directed edge between two assets.
type RelationshipType string

const (
	RelDependsOn     RelationshipType = "DEPENDS_ON"
	RelImplements    RelationshipType = "IMPLEMENTS"
	RelExtends       RelationshipType = "EXTENDS"
	RelConflictsWith RelationshipType = "CONFLICTS_WITH"
	RelComplements   RelationshipType = "COMPLEMENTS"
)

// RelationshipTypes lists every valid relationship type.
var RelationshipTypes = []RelationshipType{
	RelDependsOn,
	RelImplements,
	RelExtends,
	RelConflictsWith,
	RelComplements,
}

// AcyclicRelationshipTypes are the edge types that together must never form a
// cycle. A cycle check walks the union of these edges.
var AcyclicRelationshipTypes = []RelationshipType{RelDependsOn, RelExtends}

// Valid reports whether t is a known relationship type.
func (t RelationshipType) Valid() bool {
	switch t {
	case RelDependsOn, RelImplements, RelExtends, RelConflictsWith, RelComplements:
		return true
	}
	return false
}

// Acyclic reports whether edges of type t participate in cycle detection.
func (t RelationshipType) Acyclic() bool {
	return t == RelDependsOn || t == RelExtends
}

// Symmetric reports whether t is stored once but read in both directions.
func (t RelationshipType) Symmetric() bool {
	return t == RelConflictsWith
}

// ParseRelationshipType converts s into a RelationshipType. Matching is
// case-insensitive.
func ParseRelationshipType(s string) (RelationshipType, error) {
	t := RelationshipType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Message: "unknown relationship type " + quote(s)}
	}
	return t, nil
}

// Direction selects which edges of a node a neighbour query follows.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionEither   Direction = "either"
)

// ParseDirection converts s into a Direction. An empty string means either.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case "":
		return DirectionEither, nil
	case DirectionOutgoing, DirectionIncoming, DirectionEither:
		return d, nil
	}
	return "", &ValidationError{Field: "direction", Message: "direction must be outgoing, incoming or either"}
}

// Relationship is a typed directed edge between two live assets.
// At most one edge exists per (FromAssetID, ToAssetID, Type).
type Relationship struct {
	FromAssetID string           `json:"from_asset_id"`
	ToAssetID   string           `json:"to_asset_id"`
	Type        RelationshipType `json:"type"`
	Description string           `json:"description,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Key returns the identity of the edge.
func (r *Relationship) Key() EdgeKey {
	return EdgeKey{From: r.FromAssetID, To: r.ToAssetID, Type: r.Type}
}

// Touches reports whether id is either endpoint of the edge.
func (r *Relationship) Touches(id string) bool {
	return r.FromAssetID == id || r.ToAssetID == id
}

// Validate checks the edge shape: known type, both endpoints set, no self-loop.
func (r *Relationship) Validate() error {
	if r.FromAssetID == "" {
		return &ValidationError{Field: "from_asset_id", Message: "from_asset_id is required"}
	}
	if r.ToAssetID == "" {
		return &ValidationError{Field: "to_asset_id", Message: "to_asset_id is required"}
	}
	if !r.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown relationship type " + quote(string(r.Type))}
	}
	if r.FromAssetID == r.ToAssetID {
		return &ValidationError{Field: "to_asset_id", Message: "an asset cannot be related to itself"}
	}
	return nil
}

// EdgeKey identifies a relationship.
type EdgeKey struct {
	From string
	To   string
	Type RelationshipType
}
