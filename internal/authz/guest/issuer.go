// Package guest exchanges the server-held guest credential for a
// short-lived guest-scoped token, so anonymous callers can obtain limited
// read access without a login flow.
package guest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"blogauthz/internal/authz"
	"blogauthz/internal/domain"
)

const authTimeout = 5 * time.Second

// Issuer relays tokens from the identity directory. It never mints tokens
// itself and never exposes the guest credential to callers.
type Issuer struct {
	secretStore authz.SecretStore
	secretName  string
	tokenURL    string
	httpClient  *http.Client
}

// NewIssuer creates an Issuer that reads the named credential from
// secretStore and authenticates against the identity directory's token
// endpoint at tokenURL.
func NewIssuer(secretStore authz.SecretStore, secretName, tokenURL string) *Issuer {
	return &Issuer{
		secretStore: secretStore,
		secretName:  secretName,
		tokenURL:    tokenURL,
		httpClient:  &http.Client{Timeout: authTimeout},
	}
}

// credential is the stored form of the guest credential: a JSON object
// with username and generated password, rotated independently of requests.
type credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// IssueToken obtains a fresh guest token. Secret store failures and
// rejected credentials surface as domain.ErrCredentialUnavailable;
// deadline hits as domain.ErrUpstreamTimeout. Neither the credential nor
// the issued token is ever logged.
func (i *Issuer) IssueToken(ctx context.Context) (domain.TokenPair, error) {
	raw, err := i.secretStore.GetSecret(ctx, i.secretName)
	if err != nil {
		if errors.Is(err, domain.ErrUpstreamTimeout) || errors.Is(err, domain.ErrCredentialUnavailable) {
			return domain.TokenPair{}, err
		}
		return domain.TokenPair{}, fmt.Errorf("%w: %w", domain.ErrCredentialUnavailable, err)
	}

	var cred credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: malformed guest credential", domain.ErrCredentialUnavailable)
	}
	if cred.Username == "" || cred.Password == "" {
		return domain.TokenPair{}, fmt.Errorf("%w: incomplete guest credential", domain.ErrCredentialUnavailable)
	}

	body, err := json.Marshal(map[string]string{
		"username": cred.Username,
		"password": cred.Password,
	})
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("encoding credential exchange: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.tokenURL, bytes.NewReader(body))
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return domain.TokenPair{}, fmt.Errorf("%w: identity directory", domain.ErrUpstreamTimeout)
		}
		return domain.TokenPair{}, fmt.Errorf("%w: identity directory unreachable", domain.ErrCredentialUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.TokenPair{}, fmt.Errorf("%w: identity directory returned %d", domain.ErrCredentialUnavailable, resp.StatusCode)
	}

	var pair domain.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
		return domain.TokenPair{}, fmt.Errorf("%w: decoding token response", domain.ErrCredentialUnavailable)
	}
	if pair.AccessToken == "" {
		return domain.TokenPair{}, fmt.Errorf("%w: identity directory returned no token", domain.ErrCredentialUnavailable)
	}

	return pair, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
