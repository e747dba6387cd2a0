package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	deployments "github.com/polybuilder/polybuilder/internal/deployments/domain"
	"github.com/polybuilder/polybuilder/internal/events"
	"github.com/polybuilder/polybuilder/internal/storage"
)

// ErrRunNotFound is returned by StoreRecorder.Get for unknown run IDs.
var ErrRunNotFound = errors.New("pipeline run not found")

// DeploymentRecorder adds successful deployments to the history.
type DeploymentRecorder interface {
	Record(ctx context.Context, req deployments.RecordRequest) (*deployments.Deployment, error)
}

// Transcript is the persisted body of a run.
type Transcript struct {
	Statuses []Status       `json:"statuses"`
	Events   []events.Event `json:"events"`
}

// StoredRun is a run as read back from storage.
type StoredRun struct {
	ID           string         `json:"id"`
	Network      string         `json:"network"`
	MainContract string         `json:"mainContract"`
	Status       Status         `json:"status"`
	Statuses     []Status       `json:"statuses"`
	Events       []events.Event `json:"events"`
	Logs         []string       `json:"logs"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// StoreRecorder writes finished runs to a RunStore and, for deployed
// contracts, to the deployment history.
type StoreRecorder struct {
	runs        storage.RunStore
	deployments DeploymentRecorder
}

// NewStoreRecorder creates a StoreRecorder. deployments may be nil.
func NewStoreRecorder(runs storage.RunStore, deployments DeploymentRecorder) *StoreRecorder {
	return &StoreRecorder{runs: runs, deployments: deployments}
}

// RecordRun implements RunRecorder.
func (s *StoreRecorder) RecordRun(ctx context.Context, run Run) error {
	status, err := json.Marshal(run.Final)
	if err != nil {
		return fmt.Errorf("encoding final status: %w", err)
	}
	transcript, err := json.Marshal(Transcript{Statuses: run.Statuses, Events: run.Events})
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}

	err = s.runs.SaveRun(ctx, &storage.PipelineRun{
		ID:           run.ID,
		Network:      run.Network,
		MainContract: run.MainContract,
		Stage:        string(run.Final.Stage),
		Message:      run.Final.Message,
		Status:       status,
		Transcript:   transcript,
	})
	if err != nil {
		return err
	}

	if s.deployments == nil || run.Final.Stage != events.StageCompleted {
		return nil
	}
	verified := run.Final.Verified != nil && *run.Final.Verified
	req := deployments.RecordRequest{
		RunID:        run.ID,
		Network:      run.Network,
		ContractName: run.MainContract,
		Address:      run.Final.ContractAddress,
		Deployer:     run.Deployer,
		TxHash:       run.Final.TransactionHash,
		GasUsed:      run.Final.GasUsed,
		Verified:     verified,
	}
	if verified {
		req.ExplorerURL = run.Final.ExplorerURL
		req.VerificationGUID = run.VerificationGUID
	}
	if _, err := s.deployments.Record(ctx, req); err != nil {
		return fmt.Errorf("recording deployment: %w", err)
	}
	return nil
}

// Get loads a stored run.
func (s *StoreRecorder) Get(ctx context.Context, id string) (*StoredRun, error) {
	row, err := s.runs.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	out := &StoredRun{
		ID:           row.ID,
		Network:      row.Network,
		MainContract: row.MainContract,
		CreatedAt:    parseTime(row.CreatedAt),
		UpdatedAt:    parseTime(row.UpdatedAt),
	}
	if len(row.Status) > 0 {
		if err := json.Unmarshal(row.Status, &out.Status); err != nil {
			return nil, fmt.Errorf("decoding run status: %w", err)
		}
	}
	var t Transcript
	if len(row.Transcript) > 0 {
		if err := json.Unmarshal(row.Transcript, &t); err != nil {
			return nil, fmt.Errorf("decoding run transcript: %w", err)
		}
	}
	out.Statuses = t.Statuses
	out.Events = t.Events
	out.Logs = make([]string, len(t.Events))
	for i, e := range t.Events {
		out.Logs[i] = e.String()
	}
	return out, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
