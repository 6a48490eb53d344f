package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultScope = "https://graph.microsoft.com/.default"

	// expirySkew is taken off every token lifetime.
	expirySkew = 5 * time.Minute
)

// clientCredentials is the OAuth2 client-credentials grant for one app
// registration.
type clientCredentials struct {
	clientID     string
	clientSecret string
	scope        string
}

func (c clientCredentials) form() url.Values {
	return url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {c.scope},
	}
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

func (t cachedToken) usable(now time.Time) bool {
	return t.value != "" && now.Before(t.expiresAt)
}

// tokenCache hands out a bearer token for the Graph API and fetches a new
// one from the token endpoint when the cached one is missing or stale.
// Concurrent callers share a single fetch.
type tokenCache struct {
	tokenURL   string
	creds      clientCredentials
	httpClient *http.Client
	now        func() time.Time

	mu     sync.Mutex
	cached cachedToken
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		tokenURL:   tokenURL,
		creds:      clientCredentials{clientID: clientID, clientSecret: clientSecret, scope: defaultScope},
		httpClient: httpClient,
		now:        time.Now,
	}
}

// Token returns a usable bearer token.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.cached.usable(tc.now()) {
		return tc.cached.value, nil
	}

	tok, err := tc.fetch(ctx)
	if err != nil {
		return "", err
	}
	tc.cached = tok
	return tok.value, nil
}

// Invalidate forgets the cached token, for use after a 401 from the API.
func (tc *tokenCache) Invalidate() {
	tc.mu.Lock()
	tc.cached = cachedToken{}
	tc.mu.Unlock()
}

func (tc *tokenCache) fetch(ctx context.Context) (cachedToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.tokenURL,
		strings.NewReader(tc.creds.form().Encode()))
	if err != nil {
		return cachedToken{}, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	issued := tc.now()
	resp, err := tc.httpClient.Do(req)
	if err != nil {
		return cachedToken{}, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cachedToken{}, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return cachedToken{}, tokenEndpointError(resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return cachedToken{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return cachedToken{}, errors.New("token response missing access_token")
	}

	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	return cachedToken{value: tr.AccessToken, expiresAt: issued.Add(lifetime - expirySkew)}, nil
}

// tokenEndpointError prefers the OAuth error code and description over the
// raw body.
func tokenEndpointError(status int, body []byte) error {
	var oe oauthError
	if json.Unmarshal(body, &oe) == nil && oe.Code != "" {
		if oe.Description != "" {
			return fmt.Errorf("token endpoint returned %d: %s: %s", status, oe.Code, oe.Description)
		}
		return fmt.Errorf("token endpoint returned %d: %s", status, oe.Code)
	}
	return fmt.Errorf("token endpoint returned %d: %s", status, strings.TrimSpace(string(body)))
}
