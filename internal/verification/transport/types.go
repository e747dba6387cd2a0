// Package transport provides HTTP request/response types for the verification domain.
package transport

import (
	"encoding/json"

	"github.com/polybuilder/polybuilder/internal/verification/domain"
)

// VerifyRequest is the HTTP request body for verifying a contract.
type VerifyRequest struct {
	ContractAddress string          `json:"contractAddress" validate:"required,eth_addr"`
	ContractName    string          `json:"contractName" validate:"required,solident"`
	SourceCode      string          `json:"sourceCode" validate:"required"`
	ConstructorArgs []any           `json:"constructorArgs"`
	ABI             json.RawMessage `json:"abi,omitempty"`
	Network         string          `json:"network" validate:"required,oneof=mumbai amoy polygon"`
}

// ToDomain converts VerifyRequest to domain.VerifyRequest.
func (r VerifyRequest) ToDomain() domain.VerifyRequest {
	return domain.VerifyRequest{
		ContractAddress: r.ContractAddress,
		ContractName:    r.ContractName,
		SourceCode:      r.SourceCode,
		ConstructorArgs: r.ConstructorArgs,
		ABI:             r.ABI,
		Network:         r.Network,
	}
}

// VerifyResponse is the response for a verification request.
type VerifyResponse struct {
	domain.Result
	Logs []string `json:"logs"`
}

// ContractInfoResponse wraps the explorer's source entry.
type ContractInfoResponse struct {
	Success bool                 `json:"success"`
	Info    *domain.ContractInfo `json:"info,omitempty"`
	Error   string               `json:"error,omitempty"`
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
