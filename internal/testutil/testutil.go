// Package testutil provides helpers for authorization tests: RSA key
// generation, token minting with group and scope claims, and mock handlers
// for the identity directory, JWKS and secret store dependencies.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"blogauthz/internal/domain"
)

// Issuer and Audience are the token claim values used throughout the test
// suite.
const (
	Issuer   = "blog-identity-test"
	Audience = "blog-api-test"
)

// GenerateTestKeyPair generates an RSA key pair for testing.
// Returns (keyID, privateKey, publicKey).
func GenerateTestKeyPair(t *testing.T) (string, *rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}
	kid := fmt.Sprintf("test-key-%d", time.Now().UnixNano())
	return kid, priv, &priv.PublicKey
}

// TokenOpts controls the claims of a minted test token.
type TokenOpts struct {
	Subject string
	Groups  []string // cognito:groups claim; empty means claim omitted
	Scope   string   // explicit OAuth scope claim; empty means claim omitted
	TTL     time.Duration
}

// IssueTestToken creates a signed RS256 JWT for testing.
// A negative TTL produces an already-expired token.
func IssueTestToken(t *testing.T, kid string, priv *rsa.PrivateKey, opts TokenOpts) string {
	t.Helper()

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": opts.Subject,
		"iat": now.Unix(),
		"exp": now.Add(opts.TTL).Unix(),
		"iss": Issuer,
		"aud": Audience,
	}
	if len(opts.Groups) > 0 {
		groups := make([]any, len(opts.Groups))
		for i, g := range opts.Groups {
			groups[i] = g
		}
		claims["cognito:groups"] = groups
	}
	if opts.Scope != "" {
		claims["scope"] = opts.Scope
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

// IssueRoleToken mints a token whose groups claim names the given role and
// whose lifetime is ttl.
func IssueRoleToken(t *testing.T, kid string, priv *rsa.PrivateKey, subject string, role domain.Role, ttl time.Duration) string {
	t.Helper()
	return IssueTestToken(t, kid, priv, TokenOpts{
		Subject: subject,
		Groups:  []string{role.String()},
		TTL:     ttl,
	})
}

// MockJWKSHandler returns an http.Handler that serves a JWKS response
// containing the given public key.
func MockJWKSHandler(kid string, pub *rsa.PublicKey) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jwks := map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": kid,
					"n":   base64URLEncode(pub.N.Bytes()),
					"e":   base64URLEncode(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	})
}

// MockIdentityHandler returns an http.Handler implementing the identity
// directory's password grant. Known credentials map username to
// (password, role); successful exchanges yield a signed RS256 token with
// the role's group claim.
func MockIdentityHandler(kid string, priv *rsa.PrivateKey, users map[string]MockUser) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		u, ok := users[req.Username]
		if !ok || u.Password != req.Password {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(domain.ErrorResponse{Error: "unauthorized", Message: "invalid credentials"})
			return
		}

		ttl := 15 * time.Minute
		now := time.Now()
		claims := jwt.MapClaims{
			"sub":            req.Username,
			"cognito:groups": []any{u.Role.String()},
			"iat":            now.Unix(),
			"exp":            now.Add(ttl).Unix(),
			"iss":            Issuer,
			"aud":            Audience,
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = kid
		signed, err := token.SignedString(priv)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.TokenPair{
			AccessToken: signed,
			ExpiresIn:   int(ttl.Seconds()),
			TokenType:   "Bearer",
		})
	})
}

// MockUser is a seeded identity directory account.
type MockUser struct {
	Password string
	Role     domain.Role
}

// MockSecretStoreHandler returns an http.Handler serving secret values by
// name at GET /secrets/{name}.
func MockSecretStoreHandler(secrets map[string]string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /secrets/{name}", func(w http.ResponseWriter, r *http.Request) {
		value, ok := secrets[r.PathValue("name")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"name":  r.PathValue("name"),
			"value": value,
		})
	})
	return mux
}

// GuestCredentialJSON renders a guest credential in the secret store's
// stored form.
func GuestCredentialJSON(username, password string) string {
	b, _ := json.Marshal(map[string]string{"username": username, "password": password})
	return string(b)
}

// MockBlogBackend returns an http.Handler that echoes request details.
// Used to verify the front door proxies ALLOWed requests with principal
// headers injected.
func MockBlogBackend() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"method":           r.Method,
			"path":             r.URL.Path,
			"principal_id":     r.Header.Get("X-Principal-ID"),
			"principal_role":   r.Header.Get("X-Principal-Role"),
			"principal_scopes": strings.Fields(r.Header.Get("X-Principal-Scopes")),
			"request_id":       r.Header.Get("X-Request-ID"),
			"authorization":    r.Header.Get("Authorization"),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}

func base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
