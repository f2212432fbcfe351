package push

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aman1117/notifyd/internal/metrics"
	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenEndpoint   = "https://oauth2.googleapis.com/token"
	messagingScope  = "https://www.googleapis.com/auth/firebase.messaging"
	grantType       = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	refreshSafety   = 60 * time.Second
	assertionWindow = time.Hour
)

// cachedBearer is the push subsystem's short-lived credential. Exactly one
// instance backs a Client for the process lifetime, guarded by an RWMutex:
// many concurrent readers, a single writer on refresh.
type cachedBearer struct {
	mu         sync.RWMutex
	token      string
	obtainedAt time.Time
	expiresAt  time.Time
	m          *metrics.Metrics
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// get returns a valid bearer token, refreshing synchronously if the cached
// one is stale or absent. The read path acquires a read lock first; only a
// confirmed-stale cache pays for the write lock and the network round trip.
func (c *cachedBearer) get(ctx context.Context, httpClient *http.Client, sa *serviceAccount) (string, error) {
	c.mu.RLock()
	if c.fresh() {
		token := c.token
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fresh() {
		return c.token, nil
	}

	token, expiresIn, err := fetchAccessToken(ctx, httpClient, sa)
	if err != nil {
		if c.m != nil {
			c.m.BearerRefreshTotal.WithLabelValues("error").Inc()
		}
		return "", fmt.Errorf("token error: %w", err)
	}
	if c.m != nil {
		c.m.BearerRefreshTotal.WithLabelValues("success").Inc()
	}

	now := time.Now()
	c.token = token
	c.obtainedAt = now
	c.expiresAt = now.Add(time.Duration(expiresIn) * time.Second)

	return c.token, nil
}

// fresh reports whether the cached bearer has more than the safety margin
// left before it expires. Caller must hold at least a read lock.
func (c *cachedBearer) fresh() bool {
	return c.token != "" && time.Until(c.expiresAt) > refreshSafety
}

// fetchAccessToken mints a signed JWT assertion for sa and exchanges it for
// an OAuth2 access token via the JWT-bearer grant.
func fetchAccessToken(ctx context.Context, httpClient *http.Client, sa *serviceAccount) (string, int, error) {
	key, err := sa.signingKey()
	if err != nil {
		return "", 0, err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"scope": messagingScope,
		"aud":   tokenEndpoint,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionWindow).Unix(),
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return "", 0, fmt.Errorf("signing assertion: %w", err)
	}

	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var parsed tokenResponse
	if err := decodeJSON(resp.Body, &parsed); err != nil {
		return "", 0, fmt.Errorf("decoding token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", 0, fmt.Errorf("token endpoint returned empty access_token")
	}

	return parsed.AccessToken, parsed.ExpiresIn, nil
}
