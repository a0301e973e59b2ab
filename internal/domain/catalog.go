package domain

import (
	"fmt"
	"slices"
)

// Catalog returns every scope the blog API declares. The catalog is fixed
// at startup; scopes are never added or removed at runtime.
func Catalog() []Scope {
	var scopes []Scope
	for _, r := range []Resource{ResourcePost, ResourceComment} {
		for _, a := range []Action{ActionRead, ActionWrite, ActionDelete} {
			scopes = append(scopes, ScopeFor(r, a))
		}
	}
	return scopes
}

// RoleBindings maps each role tier to the scopes its tokens are granted.
// Read-only after initialization; shared by all concurrent checks.
type RoleBindings map[Role][]Scope

// DefaultBindings returns the standard blog API bindings. Each tier is a
// superset of the tier below it: Admin ⊇ Author ⊇ Commenter ⊇ Guest.
func DefaultBindings() RoleBindings {
	guest := []Scope{
		ScopeFor(ResourcePost, ActionRead),
		ScopeFor(ResourceComment, ActionRead),
	}
	commenter := append(slices.Clone(guest),
		ScopeFor(ResourceComment, ActionWrite),
	)
	author := append(slices.Clone(commenter),
		ScopeFor(ResourcePost, ActionWrite),
	)
	admin := append(slices.Clone(author),
		ScopeFor(ResourcePost, ActionDelete),
		ScopeFor(ResourceComment, ActionDelete),
	)

	return RoleBindings{
		RoleAdmin:     admin,
		RoleAuthor:    author,
		RoleCommenter: commenter,
		RoleGuest:     guest,
	}
}

// ScopesFor returns the scopes bound to the given role. Unknown roles get
// the guest binding.
func (b RoleBindings) ScopesFor(role Role) []Scope {
	if scopes, ok := b[role]; ok {
		return scopes
	}
	return b[RoleGuest]
}

// Validate checks the structural invariants of the bindings: every role is
// bound, privilege nests monotonically down the precedence order, and no
// delete scope is granted to Commenter or Guest.
func (b RoleBindings) Validate() error {
	for _, role := range RolePrecedence {
		if _, ok := b[role]; !ok {
			return fmt.Errorf("role %s has no scope binding", role)
		}
	}

	for i := 1; i < len(RolePrecedence); i++ {
		higher, lower := RolePrecedence[i-1], RolePrecedence[i]
		for _, s := range b[lower] {
			if !slices.Contains(b[higher], s) {
				return fmt.Errorf("binding for %s is missing scope %q granted to %s", higher, s, lower)
			}
		}
	}

	for _, role := range []Role{RoleCommenter, RoleGuest} {
		for _, s := range b[role] {
			if s == ScopeFor(ResourcePost, ActionDelete) || s == ScopeFor(ResourceComment, ActionDelete) {
				return fmt.Errorf("role %s must not hold delete scope %q", role, s)
			}
		}
	}

	return nil
}
