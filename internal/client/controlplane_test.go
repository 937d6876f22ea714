package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/clouddisk/cloudsync/internal/client/handlers"
	"github.com/clouddisk/cloudsync/internal/client/middleware"
	"github.com/clouddisk/cloudsync/internal/client/sync"
	"github.com/clouddisk/cloudsync/internal/cloudsdk/cloudsdktest"
	"github.com/clouddisk/cloudsync/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoutes(t *testing.T, token string) (http.Handler, *Client) {
	t.Helper()
	srv := cloudsdktest.NewServer(t)
	c := newStartedClient(t, newTestConfig(t, srv))
	return SetupRoutes(c, &RouteConfig{Auth: middleware.TokenAuthConfig{Token: token}}), c
}

func serve(h http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestControlPlane_StatusRequiresToken(t *testing.T) {
	h, _ := newTestRoutes(t, "secret")

	w := serve(h, http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(h, http.MethodGet, "/v1/status", "secret")
	require.Equal(t, http.StatusOK, w.Code)

	var resp handlers.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, sync.StateRunning, resp.Sync.State)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestControlPlane_SyncRoutes(t *testing.T) {
	h, c := newTestRoutes(t, "")

	w := serve(h, http.MethodPost, "/v1/sync/now", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(h, http.MethodPost, "/v1/sync/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, c.GetStatus().Running)

	w = serve(h, http.MethodPost, "/v1/sync/now", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(h, http.MethodPost, "/v1/sync/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, c.GetStatus().Running)

	w = serve(h, http.MethodGet, "/v1/sync/mapping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestControlPlane_IndexMetricsAndFallbacks(t *testing.T) {
	h, _ := newTestRoutes(t, "secret")

	w := serve(h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), version.Version)

	w = serve(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cloudsync_")

	w = serve(h, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(h, http.MethodDelete, "/v1/status", "secret")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestControlPlane_RateLimited(t *testing.T) {
	h, _ := newTestRoutes(t, "")

	var limited int
	for range 15 {
		w := serve(h, http.MethodGet, "/", "")
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Positive(t, limited)
	assert.Less(t, limited, 15)
}

func TestControlPlane_CORSRejectsForeignOrigin(t *testing.T) {
	h, _ := newTestRoutes(t, "")

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "syncDir"))
}
