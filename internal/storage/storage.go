// Package storage persists deployment history, pipeline runs and API keys.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/polybuilder/polybuilder/internal/config"
)

// DeploymentStore handles deployment history
type DeploymentStore interface {
	RecordDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, network, address string) (*Deployment, error)
	ListDeployments(ctx context.Context, filter DeploymentFilter, pagination PaginationParams) (*PaginatedResult[Deployment], error)
	MarkVerified(ctx context.Context, id, explorerURL, guid string) error
}

// RunStore handles pipeline run transcripts
type RunStore interface {
	SaveRun(ctx context.Context, run *PipelineRun) error
	GetRun(ctx context.Context, id string) (*PipelineRun, error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	DeploymentStore
	RunStore
	APIKeyStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// Deployment is one successful contract deployment
type Deployment struct {
	ID               string
	RunID            string // pipeline run that produced it, if any
	Network          string
	ChainID          int64
	ContractName     string
	Address          string
	Deployer         string
	TxHash           string
	GasUsed          string
	Verified         bool
	ExplorerURL      string
	VerificationGUID string
	CreatedAt        string
	VerifiedAt       string
}

// PipelineRun is the persisted transcript of one orchestrator invocation.
// Status and Transcript hold the final snapshot and the event list as JSON.
type PipelineRun struct {
	ID           string
	Network      string
	MainContract string
	Stage        string
	Message      string
	Status       json.RawMessage
	Transcript   json.RawMessage
	CreatedAt    string
	UpdatedAt    string
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// DeploymentFilter contains filter options for listing deployments
type DeploymentFilter struct {
	Network  string
	Verified *bool
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
