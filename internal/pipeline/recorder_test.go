package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybuilder/polybuilder/internal/chains"
	"github.com/polybuilder/polybuilder/internal/config"
	deployments "github.com/polybuilder/polybuilder/internal/deployments/domain"
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/storage"
)

func newRecorderFixture(t *testing.T) (*StoreRecorder, deployments.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	svc := deployments.NewService(store, chains.DefaultRegistry(config.NetworksConfig{}))
	return NewStoreRecorder(store, svc), svc
}

func TestStoreRecorder_CompletedRun(t *testing.T) {
	rec, history := newRecorderFixture(t)
	f := newFixture(WithRecorder(rec))
	req := tokenRequest()
	req.ID = "run-1"
	req.AutoVerify = true

	final, statuses, transcript := f.collect(req)
	require.Equal(t, events.StageCompleted, final.Stage)

	ctx := context.Background()
	stored, err := rec.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "amoy", stored.Network)
	assert.Equal(t, "MyToken", stored.MainContract)
	assert.Equal(t, final.ContractAddress, stored.Status.ContractAddress)
	assert.Equal(t, events.StageCompleted, stored.Status.Stage)
	assert.Len(t, stored.Statuses, len(statuses))
	assert.Equal(t, transcript.Lines(), stored.Logs)
	assert.False(t, stored.CreatedAt.IsZero())

	d, err := history.Get(ctx, "amoy", testAddress)
	require.NoError(t, err)
	assert.Equal(t, "run-1", d.RunID)
	assert.True(t, d.Verified)
	assert.Equal(t, "guid-1", d.VerificationGUID)
	assert.Equal(t, int64(80002), d.ChainID)
}

func TestStoreRecorder_FailedRunHasNoDeployment(t *testing.T) {
	rec, history := newRecorderFixture(t)
	f := newFixture(WithRecorder(rec))
	f.deployer.result.Success = false
	f.deployer.result.Error = "execution reverted"
	req := tokenRequest()
	req.ID = "run-2"

	final, _, _ := f.collect(req)
	require.Equal(t, events.StageError, final.Stage)

	ctx := context.Background()
	stored, err := rec.Get(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, events.StageError, stored.Status.Stage)
	assert.Contains(t, stored.Status.Message, "execution reverted")

	_, err = history.Get(ctx, "amoy", testAddress)
	assert.ErrorIs(t, err, deployments.ErrNotFound)
}

func TestStoreRecorder_UnknownRun(t *testing.T) {
	rec, _ := newRecorderFixture(t)
	_, err := rec.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
