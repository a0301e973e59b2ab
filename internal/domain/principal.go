package domain

import (
	"slices"
	"strings"
)

// Resource is a resource family the blog API exposes.
type Resource string

const (
	ResourcePost    Resource = "post"
	ResourceComment Resource = "comment"
)

// Action is an operation on a resource family.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Scope is a named permission of the canonical dotted form "resource.action"
// (e.g. "post.read", "comment.write").
type Scope string

// ScopeFor returns the scope guarding the given resource and action.
func ScopeFor(r Resource, a Action) Scope {
	return Scope(string(r) + "." + string(a))
}

// Role is a coarse privilege tier. Lower values carry higher precedence:
// when a token resolves to several roles, the lowest-valued one wins.
type Role int

const (
	RoleAdmin Role = iota
	RoleAuthor
	RoleCommenter
	RoleGuest
)

// RolePrecedence lists all roles from highest to lowest privilege.
// Ambiguous group membership is resolved by scanning this list in order.
var RolePrecedence = []Role{RoleAdmin, RoleAuthor, RoleCommenter, RoleGuest}

func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	case RoleAuthor:
		return "author"
	case RoleCommenter:
		return "commenter"
	case RoleGuest:
		return "guest"
	default:
		return "unknown"
	}
}

// ParseRole maps a group name from an identity token to a role.
// Matching is case-insensitive on the canonical names.
func ParseRole(s string) (Role, bool) {
	switch {
	case strings.EqualFold(s, "admin"):
		return RoleAdmin, true
	case strings.EqualFold(s, "author"):
		return RoleAuthor, true
	case strings.EqualFold(s, "commenter"):
		return RoleCommenter, true
	case strings.EqualFold(s, "guest"):
		return RoleGuest, true
	default:
		return RoleGuest, false
	}
}

// AtLeast reports whether the role carries at least the privilege of min.
func (r Role) AtLeast(min Role) bool {
	return r <= min
}

// Principal is the identity resolved from a validated token (or the
// anonymous guest identity). It lives for a single request.
type Principal struct {
	ID     string
	Role   Role
	Scopes []Scope
}

// HasScope reports whether the principal has been granted the given scope.
func (p Principal) HasScope(s Scope) bool {
	return slices.Contains(p.Scopes, s)
}
