// Package proxy is the authorization front door for the blog API. Every
// blog route is checked against the decision engine before the request is
// proxied to the backend with principal headers injected.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"blogauthz/internal/authz"
	"blogauthz/internal/authz/engine"
	"blogauthz/internal/domain"
	"blogauthz/internal/platform/telemetry"
)

// TokenIssuer obtains guest tokens on behalf of anonymous callers.
type TokenIssuer interface {
	IssueToken(ctx context.Context) (domain.TokenPair, error)
}

// route binds one method+path pattern to the operation it represents and
// the rule the engine enforces for it.
type route struct {
	pattern  string
	resource domain.Resource
	action   domain.Action
	rule     engine.Rule
}

// blogRoutes is the authorization table for the blog API. Reads are open
// to guests via the coarse role check; writes demand the matching scope;
// deletes demand both an author-tier role and the delete scope.
var blogRoutes = []route{
	{"GET /posts", domain.ResourcePost, domain.ActionRead,
		engine.Rule{Modes: engine.ModeIAM, MinRole: domain.RoleGuest}},
	{"GET /post/{id}", domain.ResourcePost, domain.ActionRead,
		engine.Rule{Modes: engine.ModeIAM, MinRole: domain.RoleGuest}},
	{"POST /post", domain.ResourcePost, domain.ActionWrite,
		engine.Rule{Modes: engine.ModeScope}},
	{"DELETE /post/{id}", domain.ResourcePost, domain.ActionDelete,
		engine.Rule{Modes: engine.ModeIAM | engine.ModeScope, MinRole: domain.RoleAuthor}},
	{"GET /comments", domain.ResourceComment, domain.ActionRead,
		engine.Rule{Modes: engine.ModeIAM, MinRole: domain.RoleGuest}},
	{"POST /comment", domain.ResourceComment, domain.ActionWrite,
		engine.Rule{Modes: engine.ModeScope}},
	{"DELETE /comment/{id}", domain.ResourceComment, domain.ActionDelete,
		engine.Rule{Modes: engine.ModeIAM | engine.ModeScope, MinRole: domain.RoleAuthor}},
}

// Router authorizes blog API requests and proxies allowed ones to the
// blog backend.
type Router struct {
	mux        *http.ServeMux
	authorizer *authz.Authorizer
	issuer     TokenIssuer
	backend    *url.URL
	metrics    *telemetry.AuthzMetrics
}

// NewRouter creates the front door. issuer may be nil to disable the guest
// token endpoint; metrics may be nil to skip metric recording.
func NewRouter(authorizer *authz.Authorizer, issuer TokenIssuer, blogBackendURL string, m *telemetry.AuthzMetrics) (*Router, error) {
	backend, err := url.Parse(blogBackendURL)
	if err != nil {
		return nil, fmt.Errorf("parse blog backend URL: %w", err)
	}

	r := &Router{
		mux:        http.NewServeMux(),
		authorizer: authorizer,
		issuer:     issuer,
		backend:    backend,
		metrics:    m,
	}

	r.mux.HandleFunc("GET /healthz", r.healthz)
	r.mux.HandleFunc("GET /readyz", r.readyz)
	r.mux.HandleFunc("GET /auth/guest-token", r.guestToken)
	r.mux.HandleFunc("POST /auth/authorize", r.authorize)

	for _, rt := range blogRoutes {
		r.mux.HandleFunc(rt.pattern, r.makeHandler(rt))
	}

	return r, nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// makeHandler builds the check-then-proxy handler for one blog route.
func (r *Router) makeHandler(rt route) http.HandlerFunc {
	rp := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = r.backend.Scheme
			req.URL.Host = r.backend.Host
			req.Host = r.backend.Host

			// Strip Authorization — the backend trusts principal headers
			req.Header.Del("Authorization")

			if principal, ok := authz.PrincipalFromContext(req.Context()); ok {
				req.Header.Set("X-Principal-ID", principal.ID)
				req.Header.Set("X-Principal-Role", principal.Role.String())
				req.Header.Set("X-Principal-Scopes", joinScopes(principal.Scopes))
			}
			if reqID := authz.RequestIDFromContext(req.Context()); reqID != "" {
				req.Header.Set("X-Request-ID", reqID)
			}
		},
	}

	return func(w http.ResponseWriter, req *http.Request) {
		rawToken, err := bearerToken(req)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token", "malformed authorization header")
			return
		}

		result, err := r.authorizer.Check(req.Context(), rawToken, rt.resource, rt.action, rt.rule)
		if err != nil {
			switch {
			case errors.Is(err, domain.ErrTokenExpired):
				writeError(w, http.StatusUnauthorized, "token_expired", "token has expired")
			case errors.Is(err, domain.ErrInvalidToken):
				writeError(w, http.StatusUnauthorized, "invalid_token", "token validation failed")
			default:
				slog.Error("authorization check failed", "error", err, "path", req.URL.Path)
				writeError(w, http.StatusUnauthorized, "unauthorized", "authorization unavailable")
			}
			return
		}
		if !result.Decision.Allow {
			writeError(w, http.StatusForbidden, "forbidden", result.Decision.Reason)
			return
		}

		ctx := authz.ContextWithPrincipal(req.Context(), result.Principal)

		start := time.Now()
		sw := &authz.StatusWriter{ResponseWriter: w, Code: http.StatusOK}
		rp.ServeHTTP(sw, req.WithContext(ctx))

		if r.metrics != nil {
			r.metrics.RecordProxyRequest(req.Context(), sw.Code, time.Since(start).Seconds())
		}
	}
}

// guestToken hands anonymous callers a guest-scoped token. The token
// itself is relayed, never logged.
func (r *Router) guestToken(w http.ResponseWriter, req *http.Request) {
	if r.issuer == nil {
		writeError(w, http.StatusNotFound, "not_found", "guest access is not enabled")
		return
	}

	pair, err := r.issuer.IssueToken(req.Context())
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordGuestToken(req.Context(), "failure")
		}
		slog.Error("issuing guest token", "error", err, "request_id", authz.RequestIDFromContext(req.Context()))
		if errors.Is(err, domain.ErrUpstreamTimeout) {
			writeError(w, http.StatusGatewayTimeout, "upstream_timeout", "identity directory timed out")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "guest_unavailable", "guest access is temporarily unavailable")
		return
	}

	if r.metrics != nil {
		r.metrics.RecordGuestToken(req.Context(), "success")
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(pair); err != nil {
		slog.Error("encoding token response", "error", err)
	}
}

// authorizeRequest is the body of POST /auth/authorize: an explicit
// decision query that returns the decision and its policy document form.
type authorizeRequest struct {
	Resource  string `json:"resource"`
	Action    string `json:"action"`
	MethodARN string `json:"method_arn,omitempty"`
}

type authorizeResponse struct {
	Decision domain.AuthDecision    `json:"decision"`
	Policy   *engine.PolicyDocument `json:"policy,omitempty"`
}

// authorize evaluates a single operation for the presented token without
// proxying anything. Backends and tooling use it to pre-check permissions.
func (r *Router) authorize(w http.ResponseWriter, req *http.Request) {
	var body authorizeRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed request body")
		return
	}
	resource, action, err := parseOperation(body.Resource, body.Action)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	rawToken, err := bearerToken(req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token", "malformed authorization header")
		return
	}

	rule := ruleFor(resource, action)
	result, err := r.authorizer.Check(req.Context(), rawToken, resource, action, rule)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "token_expired", "token has expired")
		default:
			writeError(w, http.StatusUnauthorized, "invalid_token", "token validation failed")
		}
		return
	}

	resp := authorizeResponse{Decision: result.Decision}
	if body.MethodARN != "" {
		policy := engine.PolicyFor(result.Decision, body.MethodARN)
		resp.Policy = &policy
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encoding authorize response", "error", err)
	}
}

// ruleFor returns the rule the route table applies to this operation, so
// explicit decision queries agree with the proxying handlers.
func ruleFor(resource domain.Resource, action domain.Action) engine.Rule {
	for _, rt := range blogRoutes {
		if rt.resource == resource && rt.action == action {
			return rt.rule
		}
	}
	return engine.Rule{Modes: engine.ModeIAM | engine.ModeScope, MinRole: domain.RoleAdmin}
}

func parseOperation(resource, action string) (domain.Resource, domain.Action, error) {
	var res domain.Resource
	switch resource {
	case string(domain.ResourcePost):
		res = domain.ResourcePost
	case string(domain.ResourceComment):
		res = domain.ResourceComment
	default:
		return "", "", fmt.Errorf("unknown resource %q", resource)
	}

	var act domain.Action
	switch action {
	case string(domain.ActionRead):
		act = domain.ActionRead
	case string(domain.ActionWrite):
		act = domain.ActionWrite
	case string(domain.ActionDelete):
		act = domain.ActionDelete
	default:
		return "", "", fmt.Errorf("unknown action %q", action)
	}
	return res, act, nil
}

func (r *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		slog.Error("encoding healthz response", "error", err)
	}
}

func (r *Router) readyz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ready"}); err != nil {
		slog.Error("encoding readyz response", "error", err)
	}
}

// bearerToken extracts the bearer token from the Authorization header.
// An absent header is not an error: the caller proceeds as an anonymous
// guest. A present header with any other scheme is rejected.
func bearerToken(req *http.Request) (string, error) {
	header := req.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", domain.ErrInvalidToken
	}
	return token, nil
}

func joinScopes(scopes []domain.Scope) string {
	var b strings.Builder
	for i, s := range scopes {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(string(s))
	}
	return b.String()
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(domain.ErrorResponse{
		Error:   code,
		Message: message,
	}); err != nil {
		slog.Error("encoding error response", "error", err)
	}
}
