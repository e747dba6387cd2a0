// Package transport provides HTTP request/response types for the deployments domain.
package transport

import (
	"github.com/polybuilder/polybuilder/internal/chains/evm"
	"github.com/polybuilder/polybuilder/internal/compiler"
	"github.com/polybuilder/polybuilder/internal/deployments/domain"
)

// DeployRequest is the HTTP request body for deploying a compiled contract.
type DeployRequest struct {
	ContractName    string             `json:"contractName" validate:"required,solident"`
	Artifact        *compiler.Artifact `json:"artifact" validate:"required"`
	ConstructorArgs []any              `json:"constructorArgs"`
	Network         string             `json:"network" validate:"required,oneof=mumbai amoy polygon"`
	PrivateKey      evm.PrivateKey     `json:"privateKey,omitempty"`
}

// DeployResponse is the response for a deployment.
type DeployResponse struct {
	evm.DeploymentResult
	Logs []string `json:"logs"`
}

// DeploymentListResponse is the response for listing deployments.
type DeploymentListResponse struct {
	Data       []domain.Deployment `json:"data"`
	Pagination Pagination          `json:"pagination"`
}

// Pagination provides pagination metadata.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
