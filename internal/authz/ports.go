package authz

import (
	"context"
	"crypto/rsa"
	"net/http"

	"blogauthz/internal/domain"
)

// JWKSProvider fetches and caches public keys from the identity directory's
// JWKS endpoint.
type JWKSProvider interface {
	// GetKey returns the public key for the given key ID.
	GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// TokenValidator verifies a bearer token and resolves it to a principal.
type TokenValidator interface {
	Validate(ctx context.Context, rawToken string) (domain.Principal, error)
}

// DecisionCache memoizes authorization results for a bounded window.
// Implementations must be safe for concurrent use; racing misses on the
// same key may each run compute (the engine is pure, so duplicate work is
// the only cost).
type DecisionCache interface {
	// GetOrCompute returns the cached result for key, or runs compute,
	// stores the result, and returns it. The bool reports a cache hit.
	// A compute error is returned as-is and nothing is stored.
	GetOrCompute(ctx context.Context, key domain.DecisionKey, compute func(context.Context) (domain.AuthResult, error)) (domain.AuthResult, bool, error)
}

// SecretStore fetches server-held secret values by a stable reference name.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// RateLimiter decides whether a request identified by key should be allowed.
type RateLimiter interface {
	Allow(key string) RateLimitResult
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter int // seconds until next token available; 0 if allowed
}

// StatusWriter wraps http.ResponseWriter to capture the status code.
type StatusWriter struct {
	http.ResponseWriter
	Code int
}

func (sw *StatusWriter) WriteHeader(code int) {
	sw.Code = code
	sw.ResponseWriter.WriteHeader(code)
}

// PrincipalFromContext extracts the resolved principal from a request context.
func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(domain.Principal)
	return p, ok
}

// ContextWithPrincipal stores the resolved principal in the context.
func ContextWithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

type principalKey struct{}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextWithRequestID stores the request ID in the context.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

type requestIDKey struct{}
