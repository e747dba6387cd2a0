package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestSQLiteStore_Deployments(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := &Deployment{
		Network:      "amoy",
		ChainID:      80002,
		ContractName: "MyToken",
		Address:      "0x5FbDB2315678afecb367f032d93F642f64180aa3",
		Deployer:     "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		TxHash:       "0xabc",
		GasUsed:      "120000",
	}
	require.NoError(t, store.RecordDeployment(ctx, d))
	assert.NotEmpty(t, d.ID)
	assert.NotEmpty(t, d.CreatedAt)

	t.Run("get is case-insensitive on address", func(t *testing.T) {
		got, err := store.GetDeployment(ctx, "amoy", strings.ToLower(d.Address))
		require.NoError(t, err)
		assert.Equal(t, d.ID, got.ID)
		assert.Equal(t, int64(80002), got.ChainID)
		assert.Equal(t, "120000", got.GasUsed)
		assert.False(t, got.Verified)
		assert.Empty(t, got.RunID)
	})

	t.Run("get wrong network", func(t *testing.T) {
		_, err := store.GetDeployment(ctx, "polygon", d.Address)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate address on the same network fails", func(t *testing.T) {
		dup := *d
		dup.ID = ""
		assert.Error(t, store.RecordDeployment(ctx, &dup))
	})

	t.Run("mark verified", func(t *testing.T) {
		require.NoError(t, store.MarkVerified(ctx, d.ID, "https://amoy.polygonscan.com/address/x#code", "guid-1"))

		got, err := store.GetDeployment(ctx, "amoy", d.Address)
		require.NoError(t, err)
		assert.True(t, got.Verified)
		assert.Equal(t, "guid-1", got.VerificationGUID)
		assert.NotEmpty(t, got.VerifiedAt)

		assert.ErrorIs(t, store.MarkVerified(ctx, "missing", "", ""), ErrNotFound)
	})
}

func TestSQLiteStore_ListDeploymentsPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		network := "amoy"
		if i%2 == 1 {
			network = "polygon"
		}
		require.NoError(t, store.RecordDeployment(ctx, &Deployment{
			ID:           fmt.Sprintf("dep-%d", i),
			Network:      network,
			ChainID:      1,
			ContractName: "C",
			Address:      fmt.Sprintf("0x%040d", i),
			Verified:     i == 4,
			CreatedAt:    fmt.Sprintf("2024-01-01T00:00:0%d.000000Z", i),
		}))
	}

	page1, err := store.ListDeployments(ctx, DeploymentFilter{}, PaginationParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Data, 2)
	assert.True(t, page1.HasMore)
	assert.Equal(t, "dep-4", page1.Data[0].ID, "newest first")
	assert.Equal(t, "dep-3", page1.Data[1].ID)

	page2, err := store.ListDeployments(ctx, DeploymentFilter{}, PaginationParams{Limit: 2, Cursor: page1.NextCursor})
	require.NoError(t, err)
	require.Len(t, page2.Data, 2)
	assert.Equal(t, "dep-2", page2.Data[0].ID)

	page3, err := store.ListDeployments(ctx, DeploymentFilter{}, PaginationParams{Limit: 2, Cursor: page2.NextCursor})
	require.NoError(t, err)
	require.Len(t, page3.Data, 1)
	assert.False(t, page3.HasMore)
	assert.Empty(t, page3.NextCursor)

	amoy, err := store.ListDeployments(ctx, DeploymentFilter{Network: "amoy"}, PaginationParams{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, amoy.Data, 3)

	verified := true
	v, err := store.ListDeployments(ctx, DeploymentFilter{Verified: &verified}, PaginationParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, v.Data, 1)
	assert.Equal(t, "dep-4", v.Data[0].ID)

	_, err = store.ListDeployments(ctx, DeploymentFilter{}, PaginationParams{Limit: 2, Cursor: "%%%"})
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestSQLiteStore_Runs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := &PipelineRun{
		Network:      "amoy",
		MainContract: "MyToken",
		Stage:        "compiling",
		Message:      "Compiling smart contracts...",
		Status:       json.RawMessage(`{"stage":"compiling","progress":10}`),
	}
	require.NoError(t, store.SaveRun(ctx, run))
	require.NotEmpty(t, run.ID)
	createdAt := run.CreatedAt

	run.Stage = "completed"
	run.Message = "Deployment completed successfully!"
	run.Status = json.RawMessage(`{"stage":"completed","progress":100}`)
	run.Transcript = json.RawMessage(`[{"seq":1}]`)
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.Stage)
	assert.Equal(t, createdAt, got.CreatedAt)
	assert.JSONEq(t, `{"stage":"completed","progress":100}`, string(got.Status))
	assert.JSONEq(t, `[{"seq":1}]`, string(got.Transcript))

	_, err = store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_APIKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key, err := store.CreateAPIKey(ctx, "ci")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, KeyPrefix))

	ak, err := store.ValidateAPIKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "ci", ak.Name)
	assert.Equal(t, hashAPIKey(key), ak.KeyHash)

	_, err = store.ValidateAPIKey(ctx, KeyPrefix+"nope")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := store.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotEmpty(t, keys[0].LastUsedAt)

	require.NoError(t, store.RevokeAPIKey(ctx, ak.ID))
	_, err = store.ValidateAPIKey(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.RevokeAPIKey(ctx, ak.ID), ErrNotFound)

	require.NoError(t, store.Ping(ctx))
}
