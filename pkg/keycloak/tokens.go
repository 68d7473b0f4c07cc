package keycloak

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// validSkew is subtracted when deciding whether a cached token is
	// still usable, so a token is never served right at its edge.
	validSkew = 30 * time.Second

	// refreshMargin is subtracted from the server-reported expiry when
	// storing a fresh token. The cache treats a token as dead strictly
	// before the server does.
	refreshMargin = 60 * time.Second

	// fallbackLifetime covers token responses without an expiry.
	fallbackLifetime = time.Hour
)

// AuthError indicates the service-account token could not be obtained
type AuthError struct {
	err error
}

func (e *AuthError) Error() string {
	return "keycloak: authentication failed: " + e.err.Error()
}

func (e *AuthError) Unwrap() error {
	return e.err
}

// TokenCacheConfig configures a TokenCache
type TokenCacheConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// HTTPClient is used for the token endpoint. Defaults to a client
	// with a 10 second timeout.
	HTTPClient *http.Client

	// Now overrides the clock, for tests
	Now func() time.Time

	// OnRefresh is invoked after every refresh attempt with its outcome
	OnRefresh func(err error)
}

// TokenCache owns the single shared service-account token slot. All
// reads and refreshes are serialized: concurrent callers wait for the
// one in-flight refresh instead of issuing their own.
type TokenCache struct {
	cc        clientcredentials.Config
	client    *http.Client
	now       func() time.Time
	onRefresh func(err error)

	mu        sync.Mutex
	value     string
	expiresAt time.Time
}

// NewTokenCache creates an empty token cache
func NewTokenCache(cfg TokenCacheConfig) *TokenCache {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	onRefresh := cfg.OnRefresh
	if onRefresh == nil {
		onRefresh = func(error) {}
	}
	return &TokenCache{
		cc: clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			// Keycloak accepts credentials in the request body; pinning
			// the style avoids the library probing both.
			AuthStyle: oauth2.AuthStyleInParams,
		},
		client:    client,
		now:       now,
		onRefresh: onRefresh,
	}
}

// Token returns the cached access token, refreshing it when the slot is
// empty or inside the expiry skew window. On refresh failure the slot
// is left empty and an AuthError is returned.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.value != "" && now.Before(c.expiresAt.Add(-validSkew)) {
		return c.value, nil
	}

	c.value = ""
	c.expiresAt = time.Time{}

	tok, err := c.refresh(ctx)
	c.onRefresh(err)
	if err != nil {
		return "", &AuthError{err: err}
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(fallbackLifetime)
	}
	c.value = tok.AccessToken
	c.expiresAt = expiry.Add(-refreshMargin)
	return c.value, nil
}

// Invalidate discards the cached token so the next Token call refreshes
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = ""
	c.expiresAt = time.Time{}
}

// refresh performs the client-credentials grant against the token
// endpoint. Callers hold the cache mutex.
func (c *TokenCache) refresh(ctx context.Context) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	return c.cc.Token(ctx)
}
