package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/polybuilder/polybuilder/internal/chains"
	"github.com/polybuilder/polybuilder/internal/storage"
	"github.com/polybuilder/polybuilder/internal/validation"
)

// Common errors returned by the deployment service.
var (
	ErrNotFound       = errors.New("deployment not found")
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidCursor  = errors.New("invalid cursor")
	ErrInvalidRecord  = errors.New("invalid deployment record")
)

// Service defines the deployment history interface.
type Service interface {
	// Record stores a successful deployment.
	Record(ctx context.Context, req RecordRequest) (*Deployment, error)

	// Get retrieves a deployment by network and address.
	Get(ctx context.Context, network, address string) (*Deployment, error)

	// List lists deployments newest first with filtering and pagination.
	List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error)

	// MarkVerified records a successful explorer verification.
	MarkVerified(ctx context.Context, network, address, explorerURL, guid string) error
}

type service struct {
	store    storage.DeploymentStore
	networks *chains.Registry
}

// NewService creates a new deployment history service.
func NewService(store storage.DeploymentStore, networks *chains.Registry) Service {
	return &service{store: store, networks: networks}
}

// Record stores a successful deployment.
func (s *service) Record(ctx context.Context, req RecordRequest) (*Deployment, error) {
	if err := validation.ValidateAddress(req.Address); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if req.ContractName == "" {
		return nil, fmt.Errorf("%w: contract name is required", ErrInvalidRecord)
	}

	network, err := s.networks.Get(req.Network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	d := &storage.Deployment{
		RunID:            req.RunID,
		Network:          network.Name,
		ChainID:          network.ChainID,
		ContractName:     req.ContractName,
		Address:          req.Address,
		Deployer:         req.Deployer,
		TxHash:           req.TxHash,
		GasUsed:          req.GasUsed,
		Verified:         req.Verified,
		ExplorerURL:      req.ExplorerURL,
		VerificationGUID: req.VerificationGUID,
	}
	if d.ExplorerURL == "" {
		d.ExplorerURL = network.AddressURL(req.Address)
	}

	if err := s.store.RecordDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("recording deployment: %w", err)
	}
	return toDeployment(d), nil
}

// Get retrieves a deployment by network and address.
func (s *service) Get(ctx context.Context, network, address string) (*Deployment, error) {
	d, err := s.store.GetDeployment(ctx, network, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting deployment: %w", err)
	}
	return toDeployment(d), nil
}

// List lists deployments with filtering and pagination.
func (s *service) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	result, err := s.store.ListDeployments(ctx, storage.DeploymentFilter{
		Network:  filter.Network,
		Verified: filter.Verified,
	}, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			return nil, ErrInvalidCursor
		}
		return nil, fmt.Errorf("listing deployments: %w", err)
	}

	deployments := make([]Deployment, len(result.Data))
	for i := range result.Data {
		deployments[i] = *toDeployment(&result.Data[i])
	}

	return &ListResult{
		Deployments: deployments,
		HasMore:     result.HasMore,
		NextCursor:  result.NextCursor,
	}, nil
}

// MarkVerified records a successful explorer verification.
func (s *service) MarkVerified(ctx context.Context, network, address, explorerURL, guid string) error {
	d, err := s.store.GetDeployment(ctx, network, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("getting deployment: %w", err)
	}

	if err := s.store.MarkVerified(ctx, d.ID, explorerURL, guid); err != nil {
		return fmt.Errorf("updating verification status: %w", err)
	}
	return nil
}

func toDeployment(d *storage.Deployment) *Deployment {
	out := &Deployment{
		ID:               d.ID,
		RunID:            d.RunID,
		Network:          d.Network,
		ChainID:          d.ChainID,
		ContractName:     d.ContractName,
		Address:          d.Address,
		Deployer:         d.Deployer,
		TxHash:           d.TxHash,
		GasUsed:          d.GasUsed,
		Verified:         d.Verified,
		ExplorerURL:      d.ExplorerURL,
		VerificationGUID: d.VerificationGUID,
		CreatedAt:        parseTime(d.CreatedAt),
	}
	if d.VerifiedAt != "" {
		t := parseTime(d.VerifiedAt)
		out.VerifiedAt = &t
	}
	return out
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
