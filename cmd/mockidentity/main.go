// mockidentity is a local stand-in for the identity directory: it serves a
// JWKS endpoint and a password grant that issues RS256 tokens carrying
// group membership claims.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"blogauthz/internal/domain"
	"blogauthz/internal/platform/server"
)

type account struct {
	password string
	role     domain.Role
}

func main() {
	addr := envOr("IDENTITY_ADDR", ":8081")
	issuer := envOr("TOKEN_ISSUER", "blog-identity")
	audience := envOr("TOKEN_AUDIENCE", "blog-api")
	guestPassword := envOr("GUEST_PASSWORD", "guest-password")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		slog.Error("generating RSA key", "error", err)
		os.Exit(1)
	}
	kid := fmt.Sprintf("mock-key-%d", time.Now().Unix())

	// Seed one account per tier. The guest account's password must match
	// the value stored in the secret store for the guest flow to work.
	accounts := map[string]account{
		"admin":      {password: "admin", role: domain.RoleAdmin},
		"author":     {password: "author", role: domain.RoleAuthor},
		"commenter":  {password: "commenter", role: domain.RoleCommenter},
		"blog-guest": {password: guestPassword, role: domain.RoleGuest},
	}

	slog.Info("mock identity directory starting",
		"addr", addr,
		"kid", kid,
		"issuer", issuer,
		"accounts", "admin, author, commenter, blog-guest",
	)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		pub := &priv.PublicKey
		jwks := map[string]any{
			"keys": []map[string]any{
				{
					"kty": "RSA",
					"alg": "RS256",
					"use": "sig",
					"kid": kid,
					"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
					"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jwks)
	})

	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
			return
		}

		acct, ok := accounts[req.Username]
		if !ok || acct.password != req.Password {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials")
			return
		}

		ttl := 15 * time.Minute
		now := time.Now()
		claims := jwt.MapClaims{
			"sub":            req.Username,
			"cognito:groups": []any{acct.role.String()},
			"iat":            now.Unix(),
			"exp":            now.Add(ttl).Unix(),
			"iss":            issuer,
			"aud":            audience,
		}
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = kid

		signed, err := token.SignedString(priv)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to sign token")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(domain.TokenPair{
			AccessToken: signed,
			ExpiresIn:   int(ttl.Seconds()),
			TokenType:   "Bearer",
		})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "mock-identity"})
	})

	srv := server.New(addr, mux)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(domain.ErrorResponse{Error: code, Message: msg})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
