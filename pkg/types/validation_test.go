package types_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/romcoding/architex/pkg/types"
)

func validDraft() types.AssetDraft {
	return types.AssetDraft{
		Title:    "Microservices Architecture Pattern",
		Content:  "Decompose the system into independently deployable services.",
		Type:     types.AssetTypePattern,
		Category: "Architecture",
		Tags:     []string{"microservices", "distributed-systems"},
	}
}

func TestAssetType_AllValidTypes(t *testing.T) {
	for _, at := range types.AssetTypes {
		t.Run("valid_"+string(at), func(t *testing.T) {
			if !at.Valid() {
				t.Errorf("AssetType(%q).Valid() = false, want true", at)
			}
		})
	}
}

func TestParseAssetType(t *testing.T) {
	tests := []struct {
		in      string
		want    types.AssetType
		wantErr bool
	}{
		{"pattern", types.AssetTypePattern, false},
		{" Best_Practice ", types.AssetTypeBestPractice, false},
		{"CASE_STUDY", types.AssetTypeCaseStudy, false},
		{"blueprint", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := types.ParseAssetType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAssetType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAssetType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAssetDraft_Validate(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(d *types.AssetDraft)
		field string
	}{
		{"valid", func(d *types.AssetDraft) {}, ""},
		{"empty title", func(d *types.AssetDraft) { d.Title = "  " }, "title"},
		{"empty content", func(d *types.AssetDraft) { d.Content = "" }, "content"},
		{"missing type", func(d *types.AssetDraft) { d.Type = "" }, "type"},
		{"unknown type", func(d *types.AssetDraft) { d.Type = "recipe" }, "type"},
		{"missing category", func(d *types.AssetDraft) { d.Category = "" }, "category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mut(&d)
			err := d.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ve *types.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Validate() field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestAssetPatch_ValidateAndApply(t *testing.T) {
	blank := ""
	if err := (types.AssetPatch{Title: &blank}).Validate(); err == nil {
		t.Error("expected blank title to be rejected")
	}

	title := "  API Gateway Best Practices "
	public := true
	tags := []string{"api", "API", " gateway ", ""}
	patch := types.AssetPatch{Title: &title, IsPublic: &public, Tags: &tags}
	if err := patch.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	a := types.Asset{Title: "old", Content: "body", Category: "API Design"}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	patch.Apply(&a, at)

	if a.Title != "API Gateway Best Practices" {
		t.Errorf("Title = %q", a.Title)
	}
	if a.Content != "body" || a.Category != "API Design" {
		t.Error("untouched fields must keep their values")
	}
	if !a.IsPublic {
		t.Error("IsPublic should be true")
	}
	if len(a.Tags) != 2 || a.Tags[0] != "api" || a.Tags[1] != "gateway" {
		t.Errorf("Tags = %v, want [api gateway]", a.Tags)
	}
	if !a.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", a.UpdatedAt, at)
	}
	if !(types.AssetPatch{}).Empty() {
		t.Error("zero patch should be empty")
	}
}

func TestValidateScore(t *testing.T) {
	for _, s := range []float64{0, 2.5, 5} {
		if err := types.ValidateScore(s); err != nil {
			t.Errorf("ValidateScore(%v) = %v, want nil", s, err)
		}
	}
	for _, s := range []float64{-0.1, 5.01, math.NaN(), math.Inf(1)} {
		if err := types.ValidateScore(s); err == nil {
			t.Errorf("ValidateScore(%v) = nil, want error", s)
		}
	}
}

func TestAssetFilter_Matches(t *testing.T) {
	public := true
	a := types.Asset{Type: types.AssetTypeGuideline, Category: "Security", IsPublic: true}

	if !(types.AssetFilter{}).Matches(&a) {
		t.Error("empty filter should match everything")
	}
	if !(types.AssetFilter{Type: types.AssetTypeGuideline, Category: "Security", IsPublic: &public}).Matches(&a) {
		t.Error("full filter should match")
	}
	if (types.AssetFilter{Category: "security"}).Matches(&a) {
		t.Error("category match is exact")
	}
	if err := (types.AssetFilter{Type: "nope"}).Validate(); err == nil {
		t.Error("unknown type should be rejected")
	}
}

func TestAsset_CloneDoesNotShareTags(t *testing.T) {
	now := time.Now()
	a := types.Asset{Tags: []string{"a"}, DeletedAt: &now}
	b := a.Clone()
	b.Tags[0] = "b"
	if a.Tags[0] != "a" {
		t.Error("Clone must copy the tags slice")
	}
	if b.DeletedAt == a.DeletedAt {
		t.Error("Clone must copy the tombstone")
	}
}

func TestRelationship_Validate(t *testing.T) {
	ok := types.Relationship{FromAssetID: "a", ToAssetID: "b", Type: types.RelDependsOn}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	self := types.Relationship{FromAssetID: "a", ToAssetID: "a", Type: types.RelComplements}
	if err := self.Validate(); err == nil {
		t.Error("self-loop must be rejected")
	}

	bad := types.Relationship{FromAssetID: "a", ToAssetID: "b", Type: "USES"}
	if err := bad.Validate(); err == nil {
		t.Error("unknown type must be rejected")
	}
}

func TestRelationshipType_Properties(t *testing.T) {
	for _, rt := range types.RelationshipTypes {
		wantAcyclic := rt == types.RelDependsOn || rt == types.RelExtends
		if rt.Acyclic() != wantAcyclic {
			t.Errorf("%s.Acyclic() = %v, want %v", rt, rt.Acyclic(), wantAcyclic)
		}
		if rt.Symmetric() != (rt == types.RelConflictsWith) {
			t.Errorf("%s.Symmetric() mismatch", rt)
		}
	}
	if got, err := types.ParseRelationshipType("depends_on"); err != nil || got != types.RelDependsOn {
		t.Errorf("ParseRelationshipType(depends_on) = %q, %v", got, err)
	}
}

func TestParseDirection(t *testing.T) {
	if d, err := types.ParseDirection(""); err != nil || d != types.DirectionEither {
		t.Errorf("empty direction = %q, %v; want either", d, err)
	}
	if d, err := types.ParseDirection("Incoming"); err != nil || d != types.DirectionIncoming {
		t.Errorf("ParseDirection(Incoming) = %q, %v", d, err)
	}
	if _, err := types.ParseDirection("sideways"); err == nil {
		t.Error("unknown direction must be rejected")
	}
}
