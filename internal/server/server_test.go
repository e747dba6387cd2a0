package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybuilder/polybuilder/internal/config"
	"github.com/polybuilder/polybuilder/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{AllowedOrigins: []string{"*"}},
		Auth:      config.AuthConfig{Type: "none"},
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMin: 6000, BurstSize: 100, CleanupMinutes: 1, DeploysPerHour: 30},
		Security:  config.SecurityConfig{FilterEnabled: true, MaxBodySizeMB: 1},
		Compiler:  config.CompilerConfig{Toolchain: "hardhat", Command: "true", Timeout: time.Second, MaxConcurrent: 1},
		Deploy:    config.DeployConfig{Timeout: time.Second},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) (*httptest.Server, storage.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "server.db"), logger)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })

	srv, err := New(context.Background(), cfg, store, logger)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func post(t *testing.T, url, body string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "ok", body["status"], path)
	}
}

func TestRoutes(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/v1/deployments", "", http.StatusOK},
		{http.MethodGet, "/api/v1/deployments/amoy/0x5FbDB2315678afecb367f032d93F642f64180aa3", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/pipeline/runs/missing", "", http.StatusNotFound},
		{http.MethodGet, "/api/v1/contract-info", "", http.StatusBadRequest},
		{http.MethodPost, "/api/v1/compile", `{"files":[]}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/deploy", `{`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/verify", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/pipeline", `{"network":"amoy"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/analyze", `{"code":"contract A {}"}`, http.StatusServiceUnavailable},
		// unversioned aliases
		{http.MethodPost, "/api/compile", `{"files":[]}`, http.StatusBadRequest},
		{http.MethodPost, "/api/deploy", `{`, http.StatusBadRequest},
		{http.MethodPost, "/api/verify", `{}`, http.StatusBadRequest},
		{http.MethodGet, "/api/contract-info", "", http.StatusBadRequest},
		{http.MethodGet, "/wp-admin/", "", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Type = "api-key"
	ts, store := newTestServer(t, cfg)

	key, err := store.CreateAPIKey(context.Background(), "ci")
	require.NoError(t, err)

	resp := post(t, ts.URL+"/api/v1/compile", `{"files":[]}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = post(t, ts.URL+"/api/v1/compile", `{"files":[]}`, http.Header{"X-Api-Key": {key}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "authenticated request reaches validation")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/auth/whoami", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)
	who, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var identity map[string]any
	require.NoError(t, json.NewDecoder(who.Body).Decode(&identity))
	who.Body.Close()
	assert.Equal(t, true, identity["authenticated"])
	assert.Equal(t, "ci", identity["name"])

	// reads stay open
	get, err := http.Get(ts.URL + "/api/v1/deployments")
	require.NoError(t, err)
	get.Body.Close()
	assert.Equal(t, http.StatusOK, get.StatusCode)
}

func TestDeployLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.DeploysPerHour = 1
	ts, _ := newTestServer(t, cfg)

	assert.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/v1/deploy", `{`, nil).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, post(t, ts.URL+"/api/v1/pipeline", `{`, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, post(t, ts.URL+"/api/v1/compile", `{`, nil).StatusCode, "compile is not a deploy route")
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/pipeline", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}
