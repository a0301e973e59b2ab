package domain

import "time"

// AuthDecision is the outcome of a single authorization check. Reason is
// always populated, on DENY as much as on ALLOW, for audit logging.
type AuthDecision struct {
	Allow        bool      `json:"allow"`
	Reason       string    `json:"reason"`
	MatchedScope Scope     `json:"matched_scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the decision may no longer be reused.
func (d AuthDecision) Expired(now time.Time) bool {
	return !now.Before(d.ExpiresAt)
}

// DecisionKey identifies a cached decision. Subject is a stable digest of
// the presented credential, so a cache hit can skip re-validating the token
// within the accepted staleness bound.
type DecisionKey struct {
	Subject  string
	Resource Resource
	Action   Action
}

// AuthResult pairs the resolved principal with the decision made for it.
// It is the unit stored in the decision cache.
type AuthResult struct {
	Principal Principal    `json:"principal"`
	Decision  AuthDecision `json:"decision"`
}
