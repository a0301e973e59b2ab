// Package engine makes allow/deny decisions for validated principals.
// It never talks to the network: given the same principal, operation and
// rule it always returns the same decision.
package engine

import (
	"fmt"
	"time"

	"blogauthz/internal/domain"
)

// Mode selects which authorization strategies apply to a route.
type Mode int

const (
	// ModeNone places no restriction on the route beyond token validation.
	ModeNone Mode = 0
	// ModeIAM is the coarse check: the principal's role tier must be at
	// least the rule's minimum role.
	ModeIAM Mode = 1 << iota
	// ModeScope is the fine-grained check: the principal must hold the
	// scope derived from the requested resource and action.
	ModeScope
)

// Has reports whether mode includes the given strategy.
func (m Mode) Has(strategy Mode) bool {
	return m&strategy != 0
}

// Rule declares the authorization requirements of a route. When both modes
// are set the checks compose with logical AND: the more restrictive result
// wins.
type Rule struct {
	Modes   Mode
	MinRole domain.Role // consulted only when ModeIAM is set
}

// Engine computes authorization decisions against a fixed set of role
// bindings. Safe for concurrent use.
type Engine struct {
	bindings domain.RoleBindings
	ttl      time.Duration
	now      func() time.Time
}

// New creates an Engine. ttl bounds how long a decision may be reused;
// clock is injectable for deterministic testing.
func New(bindings domain.RoleBindings, ttl time.Duration, clock func() time.Time) (*Engine, error) {
	if err := bindings.Validate(); err != nil {
		return nil, fmt.Errorf("validating role bindings: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{bindings: bindings, ttl: ttl, now: clock}, nil
}

// Authorize decides whether principal may perform action on resource under
// rule. The decision's Reason is always populated.
func (e *Engine) Authorize(p domain.Principal, resource domain.Resource, action domain.Action, rule Rule) domain.AuthDecision {
	expiresAt := e.now().Add(e.ttl)
	required := domain.ScopeFor(resource, action)

	// Deletion is never granted to the low tiers, even if a misconfigured
	// catalog or token handed them the scope.
	if action == domain.ActionDelete && !p.Role.AtLeast(domain.RoleAuthor) {
		return domain.AuthDecision{
			Allow:     false,
			Reason:    fmt.Sprintf("role %s may not delete", p.Role),
			ExpiresAt: expiresAt,
		}
	}

	if rule.Modes.Has(ModeIAM) && !p.Role.AtLeast(rule.MinRole) {
		return domain.AuthDecision{
			Allow:     false,
			Reason:    fmt.Sprintf("role %s below required %s", p.Role, rule.MinRole),
			ExpiresAt: expiresAt,
		}
	}

	if rule.Modes.Has(ModeScope) && !p.HasScope(required) {
		return domain.AuthDecision{
			Allow:     false,
			Reason:    fmt.Sprintf("missing scope %s", required),
			ExpiresAt: expiresAt,
		}
	}

	d := domain.AuthDecision{
		Allow:     true,
		Reason:    string(required),
		ExpiresAt: expiresAt,
	}
	if p.HasScope(required) {
		d.MatchedScope = required
	}
	return d
}
