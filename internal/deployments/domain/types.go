// Package domain contains the business logic for deployment history.
package domain

import (
	"time"
)

// Deployment represents a recorded deployment.
type Deployment struct {
	ID               string     `json:"id"`
	RunID            string     `json:"runId,omitempty"`
	Network          string     `json:"network"`
	ChainID          int64      `json:"chainId"`
	ContractName     string     `json:"contractName"`
	Address          string     `json:"address"`
	Deployer         string     `json:"deployer,omitempty"`
	TxHash           string     `json:"txHash,omitempty"`
	GasUsed          string     `json:"gasUsed,omitempty"`
	Verified         bool       `json:"verified"`
	ExplorerURL      string     `json:"explorerUrl,omitempty"`
	VerificationGUID string     `json:"verificationGuid,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	VerifiedAt       *time.Time `json:"verifiedAt,omitempty"`
}

// RecordRequest is the request to record a new deployment.
type RecordRequest struct {
	RunID            string
	Network          string
	ContractName     string
	Address          string
	Deployer         string
	TxHash           string
	GasUsed          string
	Verified         bool
	ExplorerURL      string
	VerificationGUID string
}

// ListFilter contains filter options for listing deployments.
type ListFilter struct {
	Network  string
	Verified *bool
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult contains paginated list results.
type ListResult struct {
	Deployments []Deployment
	HasMore     bool
	NextCursor  string
}
