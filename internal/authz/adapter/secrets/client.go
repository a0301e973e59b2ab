// Package secrets fetches server-held secret values from the secret store
// by stable reference name.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"blogauthz/internal/domain"
)

const fetchTimeout = 5 * time.Second

// Client reads secrets over HTTP. Values are fetched fresh on every call
// so rotations take effect without a restart.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a secret store client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

// GetSecret returns the current value of the named secret.
// Unreachable store or missing secret → domain.ErrCredentialUnavailable;
// a deadline hit → domain.ErrUpstreamTimeout.
func (c *Client) GetSecret(ctx context.Context, name string) (string, error) {
	endpoint := c.baseURL + "/secrets/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("creating secret request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", fmt.Errorf("%w: fetching secret %q", domain.ErrUpstreamTimeout, name)
		}
		return "", fmt.Errorf("%w: fetching secret %q: %w", domain.ErrCredentialUnavailable, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: secret store returned %d for %q", domain.ErrCredentialUnavailable, resp.StatusCode, name)
	}

	var body struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decoding secret %q: %w", domain.ErrCredentialUnavailable, name, err)
	}
	if body.Value == "" {
		return "", fmt.Errorf("%w: secret %q has no value", domain.ErrCredentialUnavailable, name)
	}
	return body.Value, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
