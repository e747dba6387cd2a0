//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/polybuilder/polybuilder/internal/config"
	"github.com/polybuilder/polybuilder/internal/server"
	"github.com/polybuilder/polybuilder/internal/storage"
	"github.com/polybuilder/polybuilder/pkg/client"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	TestServer        *httptest.Server
	Store             storage.Store
	stop              func()
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("polybuilder"),
		postgres.WithUsername("polybuilder"),
		postgres.WithPassword("polybuilder"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

func testConfig(connString string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, Host: "0.0.0.0", AllowedOrigins: []string{"https://app.example.com"}},
		Storage: config.StorageConfig{
			Type:     "postgres",
			Postgres: config.PostgresConfig{URL: connString},
		},
		Auth:      config.AuthConfig{Type: "api-key"},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false, DeploysPerHour: 30},
		Security:  config.SecurityConfig{FilterEnabled: true, MaxBodySizeMB: 5},
		Compiler:  config.CompilerConfig{Toolchain: "hardhat", Command: "true", Timeout: 5 * time.Second, MaxConcurrent: 1},
		Deploy:    config.DeployConfig{Timeout: 5 * time.Second},
	}
}

// startServerE starts the polybuilder server in-process against Postgres
func startServerE(ctx context.Context, connString string) (*httptest.Server, storage.Store, func(), error) {
	cfg := testConfig(connString)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	srv, err := server.New(ctx, cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to create server: %w", err)
	}

	return httptest.NewServer(srv.Handler()), store, srv.Close, nil
}

func newClient(apiKey string) *client.Client {
	return client.New(testCtx.TestServer.URL, apiKey)
}

// createTestAPIKey creates a test API key using the store directly
func createTestAPIKey(t *testing.T, name string) string {
	key, err := testCtx.Store.CreateAPIKey(context.Background(), name)
	require.NoError(t, err, "Failed to create API key")
	return key
}

// assertHTTPError asserts that an error is an APIError with the expected status and code
func assertHTTPError(t *testing.T, err error, status int, code string) {
	t.Helper()
	require.Error(t, err, "Expected an error")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "Error should be an APIError: %v", err)
	require.Equal(t, status, apiErr.Status, "Status mismatch")
	require.Equal(t, code, apiErr.Code, "Error code mismatch")
}
