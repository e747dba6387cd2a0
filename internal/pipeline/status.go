package pipeline

import (
	"errors"
	"fmt"

	"github.com/polybuilder/polybuilder/internal/events"
)

// ErrInvariant reports a status transition that would move the run backwards.
var ErrInvariant = errors.New("pipeline invariant violated")

// Status is a full snapshot of a run. It is passed by value so that
// receivers can keep it without aliasing the orchestrator's copy.
type Status struct {
	Stage           events.Stage `json:"stage"`
	Message         string       `json:"message"`
	Progress        int          `json:"progress"`
	ContractAddress string       `json:"contractAddress,omitempty"`
	TransactionHash string       `json:"transactionHash,omitempty"`
	GasUsed         string       `json:"gasUsed,omitempty"`
	ExplorerURL     string       `json:"explorerUrl,omitempty"`
	// Verified is nil unless verification was requested.
	Verified *bool `json:"verified,omitempty"`
}

// StatusFunc receives every snapshot in order.
type StatusFunc func(Status)

// checkTransition enforces forward-only movement. The error stage may be
// entered from anywhere and drops the accumulated fields.
func checkTransition(cur, next Status) error {
	if cur.Stage.Terminal() {
		return fmt.Errorf("%w: run already %s", ErrInvariant, cur.Stage)
	}
	if next.Stage == events.StageError {
		return nil
	}
	if next.Stage.Rank() < 0 {
		return fmt.Errorf("%w: unknown stage %q", ErrInvariant, next.Stage)
	}
	if next.Stage.Rank() < cur.Stage.Rank() {
		return fmt.Errorf("%w: stage %s after %s", ErrInvariant, next.Stage, cur.Stage)
	}
	if next.Progress < cur.Progress {
		return fmt.Errorf("%w: progress %d after %d", ErrInvariant, next.Progress, cur.Progress)
	}
	if cur.ContractAddress != "" && next.ContractAddress != cur.ContractAddress {
		return fmt.Errorf("%w: contract address changed", ErrInvariant)
	}
	if cur.TransactionHash != "" && next.TransactionHash != cur.TransactionHash {
		return fmt.Errorf("%w: transaction hash changed", ErrInvariant)
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
