// Package types defines the value types shared by the knowledge hub:
// assets, relationships, principals, search queries and analytics summaries.
package types

import (
	"math"
	"strings"
	"time"
)

// AssetType classifies a knowledge asset.
type AssetType string

const (
	AssetTypePattern      AssetType = "pattern"
	AssetTypeBestPractice AssetType = "best_practice"
	AssetTypeGuideline    AssetType = "guideline"
	AssetTypeTemplate     AssetType = "template"
	AssetTypeCaseStudy    AssetType = "case_study"
)

// AssetTypes lists every valid asset type in display order.
var AssetTypes = []AssetType{
	AssetTypePattern,
	AssetTypeBestPractice,
	AssetTypeGuideline,
	AssetTypeTemplate,
	AssetTypeCaseStudy,
}

// Valid reports whether t is one of the known asset types.
func (t AssetType) Valid() bool {
	switch t {
	case AssetTypePattern, AssetTypeBestPractice, AssetTypeGuideline, AssetTypeTemplate, AssetTypeCaseStudy:
		return true
	}
	return false
}

// ParseAssetType converts s into an AssetType. Matching is case-insensitive
// and tolerates surrounding whitespace.
func ParseAssetType(s string) (AssetType, error) {
	t := AssetType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Message: "unknown asset type " + quote(s)}
	}
	return t, nil
}

// Rating bounds for a single rating observation.
const (
	MinRating = 0.0
	MaxRating = 5.0
)

// Asset is a unit of reusable architectural knowledge.
type Asset struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Type     AssetType `json:"type"`
	Category string    `json:"category"`
	Tags     []string  `json:"tags"`
	AuthorID string    `json:"author_id"`
	IsPublic bool      `json:"is_public"`

	// UsageCount grows by one per successful read-access event.
	UsageCount int64 `json:"usage_count"`

	// Rating is the arithmetic mean of every stored observation, 0 when unrated.
	Rating      float64 `json:"rating"`
	RatingCount int     `json:"rating_count"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Clone returns a deep copy of a so callers can hand it out without sharing
// the tags slice or the tombstone pointer.
func (a Asset) Clone() Asset {
	out := a
	if a.Tags != nil {
		out.Tags = append([]string(nil), a.Tags...)
	}
	if a.DeletedAt != nil {
		t := *a.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// Deleted reports whether the asset carries a tombstone.
func (a *Asset) Deleted() bool {
	return a.DeletedAt != nil
}

// HasTag reports whether the asset carries tag, ignoring case.
func (a *Asset) HasTag(tag string) bool {
	for _, t := range a.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// AssetDraft carries the caller-supplied fields of a new asset.
type AssetDraft struct {
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	Type     AssetType `json:"type"`
	Category string    `json:"category"`
	Tags     []string  `json:"tags,omitempty"`
	IsPublic bool      `json:"is_public"`
}

// Validate checks the required fields of the draft.
func (d AssetDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if strings.TrimSpace(d.Content) == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	if d.Type == "" {
		return &ValidationError{Field: "type", Message: "type is required"}
	}
	if !d.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown asset type " + quote(string(d.Type))}
	}
	if strings.TrimSpace(d.Category) == "" {
		return &ValidationError{Field: "category", Message: "category is required"}
	}
	return nil
}

// AssetPatch holds the mutable fields of an asset. Nil fields are left untouched.
type AssetPatch struct {
	Title    *string   `json:"title,omitempty"`
	Content  *string   `json:"content,omitempty"`
	Category *string   `json:"category,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
	IsPublic *bool     `json:"is_public,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p AssetPatch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Category == nil && p.Tags == nil && p.IsPublic == nil
}

// Validate rejects blank values for fields that must stay non-empty.
func (p AssetPatch) Validate() error {
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return &ValidationError{Field: "title", Message: "title must not be empty"}
	}
	if p.Content != nil && strings.TrimSpace(*p.Content) == "" {
		return &ValidationError{Field: "content", Message: "content must not be empty"}
	}
	if p.Category != nil && strings.TrimSpace(*p.Category) == "" {
		return &ValidationError{Field: "category", Message: "category must not be empty"}
	}
	return nil
}

// Apply writes the non-nil patch fields onto a and stamps UpdatedAt.
func (p AssetPatch) Apply(a *Asset, at time.Time) {
	if p.Title != nil {
		a.Title = strings.TrimSpace(*p.Title)
	}
	if p.Content != nil {
		a.Content = *p.Content
	}
	if p.Category != nil {
		a.Category = strings.TrimSpace(*p.Category)
	}
	if p.Tags != nil {
		a.Tags = NormalizeTags(*p.Tags)
	}
	if p.IsPublic != nil {
		a.IsPublic = *p.IsPublic
	}
	a.UpdatedAt = at
}

// AssetFilter is a conjunction over type, category and visibility.
// Zero values mean "no constraint".
type AssetFilter struct {
	Type     AssetType `json:"type,omitempty"`
	Category string    `json:"category,omitempty"`
	IsPublic *bool     `json:"is_public,omitempty"`
}

// Validate rejects unknown asset types.
func (f AssetFilter) Validate() error {
	if f.Type != "" && !f.Type.Valid() {
		return &ValidationError{Field: "type", Message: "unknown asset type " + quote(string(f.Type))}
	}
	return nil
}

// Matches reports whether a satisfies every constraint of f.
func (f AssetFilter) Matches(a *Asset) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.IsPublic != nil && a.IsPublic != *f.IsPublic {
		return false
	}
	return true
}

// RatingObservation is one rating submission. Observations are append-only;
// the asset rating is always the mean of all of them.
type RatingObservation struct {
	ID          string    `json:"id"`
	AssetID     string    `json:"asset_id"`
	PrincipalID string    `json:"principal_id"`
	Score       float64   `json:"score"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidateScore checks that score lies in [MinRating, MaxRating].
func ValidateScore(score float64) error {
	if math.IsNaN(score) || score < MinRating || score > MaxRating {
		return &ValidationError{Field: "score", Message: "score must be between 0 and 5"}
	}
	return nil
}

// NormalizeTags trims tags, drops blanks and removes case-insensitive
// duplicates while keeping the first spelling and the original order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}
