package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/platinummonkey/groupsync/pkg/observability"
)

// maxAttempts bounds the 401-triggered retry: the initial request plus
// exactly one retry with a freshly obtained token.
const maxAttempts = 2

// RequestError is a failed call against the Keycloak admin API
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("keycloak: request failed with status %d: %s", e.Status, e.Body)
}

// User is a Keycloak realm user
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Group is a Keycloak realm group
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Config configures a Client
type Config struct {
	// AdminURL is the realm admin API base, e.g.
	// https://kc.example.com/admin/realms/myrealm
	AdminURL string

	// IssuerURL is the public realm URL, e.g.
	// https://kc.example.com/realms/myrealm
	IssuerURL string

	Tokens     *TokenCache
	HTTPClient *http.Client
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// Client calls the Keycloak admin REST API with the cached
// service-account token as a bearer credential
type Client struct {
	adminURL  string
	issuerURL string
	tokens    *TokenCache
	client    *http.Client
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewClient creates a Keycloak admin API client
func NewClient(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Client{
		adminURL:  strings.TrimRight(cfg.AdminURL, "/"),
		issuerURL: strings.TrimRight(cfg.IssuerURL, "/"),
		tokens:    cfg.Tokens,
		client:    client,
		logger:    logger,
		metrics:   cfg.Metrics,
	}
}

// DiscoverTokenEndpoint resolves the realm token endpoint through OIDC
// issuer discovery, falling back to the well-known Keycloak path when
// discovery fails or is disabled.
func DiscoverTokenEndpoint(ctx context.Context, issuerURL string, client *http.Client) string {
	fallback := strings.TrimRight(issuerURL, "/") + "/protocol/openid-connect/token"
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		observability.FromContext(ctx).WithError(err).
			Warn("OIDC discovery failed, using well-known token endpoint")
		return fallback
	}
	return provider.Endpoint().TokenURL
}

// UserByEmail looks up exactly one realm user by primary email. Zero
// matches is an error, never an empty group set. On duplicates the
// first match wins; the ambiguity is logged.
func (c *Client) UserByEmail(ctx context.Context, email string) (*User, error) {
	params := url.Values{}
	params.Set("email", email)
	params.Set("exact", "true")

	var users []User
	if err := c.call(ctx, "/users?"+params.Encode(), nil, &users); err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("keycloak: user %s not found in realm", email)
	}
	if len(users) > 1 {
		c.logger.WithFields(map[string]interface{}{
			"email":   email,
			"matches": len(users),
		}).Warn("multiple realm users match email, using first")
	}
	return &users[0], nil
}

// UserGroups lists the groups a realm user belongs to
func (c *Client) UserGroups(ctx context.Context, userID string) ([]Group, error) {
	var groups []Group
	if err := c.call(ctx, "/users/"+url.PathEscape(userID)+"/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

// Ping checks realm reachability via the public discovery document
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.issuerURL+"/.well-known/openid-configuration", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &RequestError{Status: resp.StatusCode, Body: "discovery document unavailable"}
	}
	return nil
}

// call issues a single admin API request: GET when body is nil, POST
// with a JSON body otherwise. One 401 invalidates the cached token and
// retries with a fresh one; a second 401 is terminal.
func (c *Client) call(ctx context.Context, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("keycloak: failed to marshal request: %w", err)
		}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			c.observe(observability.OutcomeFailure)
			return err
		}

		status, respBody, contentType, err := c.send(ctx, path, payload, token)
		if err != nil {
			c.observe(observability.OutcomeFailure)
			return fmt.Errorf("keycloak: request failed: %w", err)
		}

		if status == http.StatusUnauthorized && attempt < maxAttempts {
			c.logger.Debug("keycloak token rejected, refreshing and retrying")
			c.tokens.Invalidate()
			continue
		}
		if status < 200 || status >= 300 {
			c.observe(observability.OutcomeFailure)
			return &RequestError{Status: status, Body: strings.TrimSpace(string(respBody))}
		}

		c.observe(observability.OutcomeSuccess)
		return c.decode(out, respBody, contentType)
	}
	// Unreachable: the loop always returns on its final attempt.
	return &RequestError{Status: http.StatusUnauthorized, Body: "retries exhausted"}
}

// send performs one HTTP round trip
func (c *Client) send(ctx context.Context, path string, payload []byte, token string) (int, []byte, string, error) {
	method := http.MethodGet
	var reader io.Reader
	if payload != nil {
		method = http.MethodPost
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.adminURL+path, reader)
	if err != nil {
		return 0, nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, "", err
	}
	return resp.StatusCode, respBody, resp.Header.Get("Content-Type"), nil
}

// decode unmarshals JSON responses into out. Non-JSON successful
// responses pass through: into out when it is a *string, otherwise
// they are logged and dropped.
func (c *Client) decode(out interface{}, body []byte, contentType string) error {
	if out == nil {
		return nil
	}
	mediaType := contentType
	if parsed, _, err := mime.ParseMediaType(contentType); err == nil {
		mediaType = parsed
	}
	if mediaType != "application/json" {
		if text, ok := out.(*string); ok {
			*text = string(body)
			return nil
		}
		c.logger.WithField("content_type", contentType).Warn("keycloak response is not JSON, ignoring body")
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("keycloak: failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.UpstreamRequestsTotal.WithLabelValues("keycloak", outcome).Inc()
	}
}
