package domain

import "errors"

// Sentinel errors used across service boundaries. Every failure on the
// authorization path resolves to one of these and is treated fail-closed.
var (
	ErrInvalidToken          = errors.New("invalid token")
	ErrTokenExpired          = errors.New("token expired")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrCredentialUnavailable = errors.New("credential unavailable")
	ErrUpstreamTimeout       = errors.New("upstream timeout")
)

// ErrorResponse is the standard JSON error envelope returned to clients.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// TokenPair is the envelope the identity directory returns on a successful
// credential exchange, relayed verbatim by the guest token endpoint.
type TokenPair struct {
	AccessToken string `json:"token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}
