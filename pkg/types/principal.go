package types

// Role is the platform role of an authenticated principal.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleArchitect   Role = "architect"
	RoleStakeholder Role = "stakeholder"
	RoleViewer      Role = "viewer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleArchitect, RoleStakeholder, RoleViewer:
		return true
	}
	return false
}

// Principal is the authenticated actor behind an operation.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Valid reports whether p identifies somebody with a known role.
func (p Principal) Valid() bool {
	return p.ID != "" && p.Role.Valid()
}

// IsAdmin reports whether p has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// CanContribute reports whether p may create assets and relationships.
// Viewers are read-only.
func (p Principal) CanContribute() bool {
	return p.Valid() && p.Role != RoleViewer
}

// CanView reports whether a is visible to p: public assets are visible to
// everyone, private ones only to their author and admins.
func (p Principal) CanView(a *Asset) bool {
	return a.IsPublic || p.IsAdmin() || (p.ID != "" && p.ID == a.AuthorID)
}

// CanModify reports whether p may change or delete a.
func (p Principal) CanModify(a *Asset) bool {
	return p.IsAdmin() || (p.ID != "" && p.ID == a.AuthorID)
}
