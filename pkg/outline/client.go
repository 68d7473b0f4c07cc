package outline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/groupsync/pkg/observability"
)

// pageLimit is the page size used for paginated listings
const pageLimit = 100

// APIError is a failed call against the Outline API, either at the
// HTTP level or via the envelope's ok flag
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" || e.Message != "" {
		return fmt.Sprintf("outline: %s: %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("outline: request failed with status %d", e.Status)
}

// User is an Outline user
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Group is an Outline group
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// envelope is the response wrapper carried by every Outline endpoint
type envelope struct {
	OK      bool            `json:"ok"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

// Config configures a Client
type Config struct {
	// Endpoint is the API base, e.g. https://wiki.example.com/api
	Endpoint string

	// APIToken is the static admin API token
	APIToken string

	HTTPClient *http.Client
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// Client calls the Outline admin REST API
type Client struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewClient creates an Outline API client
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
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.APIToken,
		client:   client,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// UserInfo fetches a user profile by id
func (c *Client) UserInfo(ctx context.Context, id string) (*User, error) {
	var user User
	if err := c.post(ctx, "/users.info", map[string]string{"id": id}, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

type groupsListRequest struct {
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
	UserID string `json:"userId,omitempty"`
}

type groupsListData struct {
	Groups []Group `json:"groups"`
}

// ListUserGroups lists the groups a user currently belongs to
func (c *Client) ListUserGroups(ctx context.Context, userID string) ([]Group, error) {
	return c.listGroups(ctx, userID)
}

// ListGroups lists every group that exists on the Outline side
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	return c.listGroups(ctx, "")
}

// listGroups pages through groups.list until a short page
func (c *Client) listGroups(ctx context.Context, userID string) ([]Group, error) {
	var all []Group
	for offset := 0; ; offset += pageLimit {
		var page groupsListData
		req := groupsListRequest{Offset: offset, Limit: pageLimit, UserID: userID}
		if err := c.post(ctx, "/groups.list", req, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Groups...)
		if len(page.Groups) < pageLimit {
			return all, nil
		}
	}
}

// CreateGroup creates a group by name and returns it with its id
func (c *Client) CreateGroup(ctx context.Context, name string) (*Group, error) {
	var group Group
	if err := c.post(ctx, "/groups.create", map[string]string{"name": name}, &group); err != nil {
		return nil, err
	}
	return &group, nil
}

// AddGroupUser adds a user to a group
func (c *Client) AddGroupUser(ctx context.Context, groupID, userID string) error {
	return c.post(ctx, "/groups.add_user", map[string]string{"id": groupID, "userId": userID}, nil)
}

// RemoveGroupUser removes a user from a group
func (c *Client) RemoveGroupUser(ctx context.Context, groupID, userID string) error {
	return c.post(ctx, "/groups.remove_user", map[string]string{"id": groupID, "userId": userID}, nil)
}

// Ping checks API reachability and token validity
func (c *Client) Ping(ctx context.Context) error {
	return c.post(ctx, "/auth.info", struct{}{}, nil)
}

// post issues one POST request and unwraps the response envelope. A
// body that does not parse as JSON is an error, as is ok=false.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("outline: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("outline: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		c.observe(observability.OutcomeFailure)
		return fmt.Errorf("outline: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.observe(observability.OutcomeFailure)
		return fmt.Errorf("outline: failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		c.observe(observability.OutcomeFailure)
		return fmt.Errorf("outline: invalid response: %s", strings.TrimSpace(string(respBody)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.OK {
		c.observe(observability.OutcomeFailure)
		return &APIError{Status: resp.StatusCode, Code: env.Error, Message: env.Message}
	}

	c.observe(observability.OutcomeSuccess)
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("outline: failed to decode response data: %w", err)
	}
	return nil
}

func (c *Client) observe(outcome string) {
	if c.metrics != nil {
		c.metrics.UpstreamRequestsTotal.WithLabelValues("outline", outcome).Inc()
	}
}
