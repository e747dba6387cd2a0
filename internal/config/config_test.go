package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "hardhat", cfg.Compiler.Toolchain)
	assert.Equal(t, 5*time.Second, cfg.Explorer.PollInterval)
	assert.Equal(t, 30, cfg.Explorer.MaxAttempts)
	assert.Equal(t, "v0.8.20+commit.a1b79de6", cfg.Explorer.CompilerVersion)
	assert.Equal(t, 200, cfg.Explorer.Runs)
	assert.True(t, cfg.Compiler.OptimizerEnabled)
	assert.Equal(t, cfg.Explorer.Runs, cfg.Compiler.OptimizerRuns)
	assert.Equal(t, "https://rpc-amoy.polygon.technology", cfg.Networks.AmoyRPC)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("VERIFY_POLL_INTERVAL", "250ms")
	t.Setenv("VERIFY_MAX_ATTEMPTS", "3")
	t.Setenv("COMPILER_TIMEOUT", "45")
	t.Setenv("COMPILER_MAX_CONCURRENT", "0")
	t.Setenv("DATABASE_URL", "postgres://localhost/pb")
	t.Setenv("POLYGON_AMOY_RPC", "http://localhost:8545")
	t.Setenv("VERIFY_RUNS", "1000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Explorer.PollInterval)
	assert.Equal(t, 3, cfg.Explorer.MaxAttempts)
	assert.Equal(t, 45*time.Second, cfg.Compiler.Timeout)
	assert.Equal(t, 1, cfg.Compiler.MaxConcurrent)
	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "http://localhost:8545", cfg.Networks.AmoyRPC)
	assert.Equal(t, 1000, cfg.Compiler.OptimizerRuns, "compiler and verifier share the run count")
}

func TestGetEnvStringSlice(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvStringSlice("ALLOWED_ORIGINS", nil))
	assert.Equal(t, []string{"x"}, getEnvStringSlice("UNSET_ORIGINS_FOR_TEST", []string{"x"}))
}
