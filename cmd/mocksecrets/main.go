// mocksecrets is a local stand-in for the secret store. It serves the
// guest credential under its well-known name; the value itself is never
// logged.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"blogauthz/internal/platform/server"
)

func main() {
	addr := envOr("SECRETS_ADDR", ":8083")
	secretName := envOr("GUEST_SECRET_NAME", "BlogGuestUserPassword")
	guestUser := envOr("GUEST_USERNAME", "blog-guest")
	guestPassword := envOr("GUEST_PASSWORD", "guest-password")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	credential, err := json.Marshal(map[string]string{
		"username": guestUser,
		"password": guestPassword,
	})
	if err != nil {
		slog.Error("encoding guest credential", "error", err)
		os.Exit(1)
	}
	secrets := map[string]string{
		secretName: string(credential),
	}

	slog.Info("mock secret store starting", "addr", addr, "secret_name", secretName)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /secrets/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		value, ok := secrets[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"name":  name,
			"value": value,
		})
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "mock-secrets"})
	})

	srv := server.New(addr, mux)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
