package keycloak

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRealm wires a fake admin API and a fake token endpoint to a
// Client under test
type testRealm struct {
	admin  *httptest.Server
	tokens *fakeTokenEndpoint
	client *Client

	adminRequests atomic.Int64
}

func newTestRealm(t *testing.T, adminHandler func(w http.ResponseWriter, r *http.Request)) *testRealm {
	t.Helper()
	realm := &testRealm{tokens: &fakeTokenEndpoint{expiresIn: 3600}}

	realm.admin = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		realm.adminRequests.Add(1)
		adminHandler(w, r)
	}))
	t.Cleanup(realm.admin.Close)

	tokenServer := httptest.NewServer(realm.tokens.handler())
	t.Cleanup(tokenServer.Close)

	cache := NewTokenCache(TokenCacheConfig{
		TokenURL:     tokenServer.URL,
		ClientID:     "groupsync",
		ClientSecret: "s3cret",
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
	})
	realm.client = NewClient(Config{
		AdminURL:  realm.admin.URL,
		IssuerURL: realm.admin.URL,
		Tokens:    cache,
	})
	return realm
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestClient_UserByEmail(t *testing.T) {
	realm := newTestRealm(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/users", r.URL.Path)
		assert.Equal(t, "alice@example.com", r.URL.Query().Get("email"))
		assert.Equal(t, "true", r.URL.Query().Get("exact"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		writeJSON(w, []User{{ID: "kc-1", Username: "alice", Email: "alice@example.com"}})
	})

	user, err := realm.client.UserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "kc-1", user.ID)
}

func TestClient_UserByEmail_NotFound(t *testing.T) {
	realm := newTestRealm(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []User{})
	})

	_, err := realm.client.UserByEmail(context.Background(), "ghost@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestClient_UserByEmail_FirstMatchWinsOnDuplicates(t *testing.T) {
	realm := newTestRealm(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, []User{
			{ID: "kc-1", Email: "dup@example.com"},
			{ID: "kc-2", Email: "dup@example.com"},
		})
	})

	user, err := realm.client.UserByEmail(context.Background(), "dup@example.com")
	require.NoError(t, err)
	assert.Equal(t, "kc-1", user.ID)
}

func TestClient_UserGroups(t *testing.T) {
	realm := newTestRealm(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/kc-1/groups", r.URL.Path)
		writeJSON(w, []Group{
			{ID: "g-1", Name: "Engineering", Path: "/Engineering"},
			{ID: "g-2", Name: "Docs", Path: "/Docs"},
		})
	})

	groups, err := realm.client.UserGroups(context.Background(), "kc-1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Engineering", groups[0].Name)
}

func TestClient_RetriesOnceOn401(t *testing.T) {
	var adminCalls atomic.Int64
	realm := newTestRealm(t, func(w http.ResponseWriter, r *http.Request) {
		if adminCalls.Add(1) == 1 {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		// The retry must carry a freshly obtained token.
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		writeJSON(w, []Group{{ID: "g-1", Name: "Engineering"}})
	})

	groups, err := realm.client.UserGroups(context.Background(), "kc-1")
	require.NoError(t, err)
	assert.Len(t, groups, 1)
	assert.Equal(t, int64(2), adminCalls.Load())
	assert.Equal(t, int64(2), realm.tokens.requests.Load(), "401 must trigger exactly one token refresh")
}

func TestClient_SecondConsecutive401IsTerminal(t *testing.T) {
	realm := newTestRealm(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	_, err := realm.client.UserGroups(context.Background(), "kc-1")
	require.Error(t, err)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.Status)
	assert.Equal(t, int64(2), realm.adminRequests.Load(), "no third attempt after two 401s")
}

func TestClient_UpstreamErrorStatus(t *testing.T) {
	realm := newTestRealm(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := realm.client.UserGroups(context.Background(), "kc-1")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusInternalServerError, reqErr.Status)
	assert.Equal(t, int64(1), realm.adminRequests.Load(), "5xx must not be retried")
}

func TestClient_NonJSONSuccessIsNotAnError(t *testing.T) {
	realm := newTestRealm(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("maintenance"))
	})

	groups, err := realm.client.UserGroups(context.Background(), "kc-1")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestClient_AuthFailureSurfaces(t *testing.T) {
	realm := newTestRealm(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("admin API must not be reached without a token")
	})
	realm.tokens.failing.Store(true)

	_, err := realm.client.UserGroups(context.Background(), "kc-1")
	require.Error(t, err)
	var authErr *AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.Equal(t, int64(0), realm.adminRequests.Load())
}
