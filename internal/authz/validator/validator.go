// Package validator verifies bearer tokens against the identity
// directory's published signing keys and resolves them to principals.
package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"blogauthz/internal/authz"
	"blogauthz/internal/domain"
)

const maxClockSkew = 30 * time.Second

// Validator verifies RS256 tokens. It is pure: the result depends only on
// the token, the published key set and the current time.
type Validator struct {
	jwks     authz.JWKSProvider
	issuer   string
	audience string
	bindings domain.RoleBindings
}

// New creates a Validator that verifies signatures via jwks and requires
// the given issuer and audience claims.
func New(jwks authz.JWKSProvider, issuer, audience string, bindings domain.RoleBindings) *Validator {
	return &Validator{
		jwks:     jwks,
		issuer:   issuer,
		audience: audience,
		bindings: bindings,
	}
}

// Validate verifies rawToken and resolves the principal it carries.
// Expired tokens fail with domain.ErrTokenExpired; anything else malformed
// or unverifiable fails with domain.ErrInvalidToken.
func (v *Validator) Validate(ctx context.Context, rawToken string) (domain.Principal, error) {
	if rawToken == "" {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	// SECURITY: Only allow RS256 — prevents algorithm confusion attacks
	token, err := jwt.Parse(rawToken, func(t *jwt.Token) (any, error) {
		kidRaw, ok := t.Header["kid"]
		if !ok {
			return nil, domain.ErrInvalidToken
		}
		kid, ok := kidRaw.(string)
		if !ok {
			return nil, domain.ErrInvalidToken
		}
		return v.jwks.GetKey(ctx, kid)
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(maxClockSkew),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Principal{}, domain.ErrTokenExpired
		}
		return domain.Principal{}, fmt.Errorf("%w: %w", domain.ErrInvalidToken, err)
	}
	if !token.Valid {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	return v.resolvePrincipal(token.Claims)
}

// resolvePrincipal derives the principal from validated claims. Role comes
// from the group-membership claim, taking the highest-precedence group
// when several match; an explicit OAuth scope claim overrides the
// role-derived grant. Tokens with no resolvable group fall back to guest,
// since guest access paths are a supported mode.
func (v *Validator) resolvePrincipal(claims jwt.Claims) (domain.Principal, error) {
	mc, ok := claims.(jwt.MapClaims)
	if !ok {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	sub, _ := mc["sub"].(string)
	if sub == "" {
		return domain.Principal{}, domain.ErrInvalidToken
	}

	role := resolveRole(mc["cognito:groups"])

	scopes := v.bindings.ScopesFor(role)
	if scopeStr, ok := mc["scope"].(string); ok && strings.TrimSpace(scopeStr) != "" {
		fields := strings.Fields(scopeStr)
		scopes = make([]domain.Scope, len(fields))
		for i, s := range fields {
			scopes[i] = domain.Scope(s)
		}
	}

	return domain.Principal{
		ID:     sub,
		Role:   role,
		Scopes: scopes,
	}, nil
}

// resolveRole picks the highest-precedence role among the token's group
// memberships. The claim may be a JSON array or a single string.
func resolveRole(groupsClaim any) domain.Role {
	var names []string
	switch g := groupsClaim.(type) {
	case []any:
		for _, v := range g {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
	case string:
		names = strings.Fields(g)
	}

	matched := make(map[domain.Role]bool, len(names))
	for _, name := range names {
		if role, ok := domain.ParseRole(name); ok {
			matched[role] = true
		}
	}

	for _, role := range domain.RolePrecedence {
		if matched[role] {
			return role
		}
	}
	return domain.RoleGuest
}
