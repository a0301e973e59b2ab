package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"blogauthz/internal/authz/engine"
	"blogauthz/internal/domain"
	"blogauthz/internal/platform/telemetry"
)

// anonymousSubject keys cached decisions for requests that present no
// credential at all.
const anonymousSubject = "anonymous"

// Authorizer runs the full check for one request: resolve the caller to a
// principal, decide the operation, and memoize the result. A cache hit
// within the decision TTL skips both validation and the engine.
type Authorizer struct {
	validator TokenValidator
	engine    *engine.Engine
	cache     DecisionCache
	bindings  domain.RoleBindings
	metrics   *telemetry.AuthzMetrics
}

// NewAuthorizer wires the validator, engine and cache. metrics may be nil.
func NewAuthorizer(validator TokenValidator, eng *engine.Engine, cache DecisionCache, bindings domain.RoleBindings, metrics *telemetry.AuthzMetrics) *Authorizer {
	return &Authorizer{
		validator: validator,
		engine:    eng,
		cache:     cache,
		bindings:  bindings,
		metrics:   metrics,
	}
}

// Check authorizes rawToken to perform action on resource under rule.
// An empty rawToken is treated as an anonymous guest. A presented token
// that fails validation is an error (domain.ErrTokenExpired or
// domain.ErrInvalidToken); a validated-but-denied request is not an
// error, the decision carries Allow=false and the reason.
func (a *Authorizer) Check(ctx context.Context, rawToken string, resource domain.Resource, action domain.Action, rule engine.Rule) (domain.AuthResult, error) {
	key := domain.DecisionKey{
		Subject:  a.subjectKey(rawToken),
		Resource: resource,
		Action:   action,
	}

	result, hit, err := a.cache.GetOrCompute(ctx, key, func(ctx context.Context) (domain.AuthResult, error) {
		p, err := a.resolvePrincipal(ctx, rawToken)
		if err != nil {
			return domain.AuthResult{}, err
		}
		return domain.AuthResult{
			Principal: p,
			Decision:  a.engine.Authorize(p, resource, action, rule),
		}, nil
	})

	if a.metrics != nil {
		if hit {
			a.metrics.RecordCacheLookup(ctx, "hit")
		} else {
			a.metrics.RecordCacheLookup(ctx, "miss")
		}
	}
	if err != nil {
		return domain.AuthResult{}, err
	}

	if a.metrics != nil {
		outcome := "deny"
		if result.Decision.Allow {
			outcome = "allow"
		}
		a.metrics.RecordDecision(ctx, result.Principal.Role.String(), outcome)
	}
	return result, nil
}

// resolvePrincipal validates the presented token, or synthesizes the
// anonymous guest principal when none was presented.
func (a *Authorizer) resolvePrincipal(ctx context.Context, rawToken string) (domain.Principal, error) {
	if rawToken == "" {
		return domain.Principal{
			ID:     "guest",
			Role:   domain.RoleGuest,
			Scopes: a.bindings.ScopesFor(domain.RoleGuest),
		}, nil
	}

	p, err := a.validator.Validate(ctx, rawToken)
	if err != nil {
		if a.metrics != nil {
			a.metrics.RecordTokenValidation(ctx, "failure")
		}
		return domain.Principal{}, fmt.Errorf("validating token: %w", err)
	}
	if a.metrics != nil {
		a.metrics.RecordTokenValidation(ctx, "success")
	}
	return p, nil
}

// subjectKey derives the cache subject from the presented credential.
// Keying on a digest of the whole token means a rotated or re-issued token
// never collides with a cached decision for the old one, and the raw
// credential never appears in the cache.
func (a *Authorizer) subjectKey(rawToken string) string {
	if rawToken == "" {
		return anonymousSubject
	}
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}
