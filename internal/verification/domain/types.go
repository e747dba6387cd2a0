package domain

import "encoding/json"

// Kind classifies a failed verification.
type Kind string

const (
	KindConfig   Kind = "config"
	KindRejected Kind = "rejected"
	KindFailed   Kind = "failed"
	KindTimeout  Kind = "timeout"
)

// VerifyRequest asks the explorer to verify single-file source for a
// deployed contract. ABI is optional; without it constructor arguments are
// encoded as strings.
type VerifyRequest struct {
	ContractAddress string          `json:"contractAddress" validate:"required,eth_addr"`
	ContractName    string          `json:"contractName" validate:"required,solident"`
	SourceCode      string          `json:"sourceCode" validate:"required"`
	ConstructorArgs []any           `json:"constructorArgs"`
	ABI             json.RawMessage `json:"abi,omitempty"`
	Network         string          `json:"network" validate:"required"`
}

// Result is the outcome of Verify.
type Result struct {
	Success     bool   `json:"success"`
	ExplorerURL string `json:"explorerUrl,omitempty"`
	GUID        string `json:"guid,omitempty"`
	Error       string `json:"error,omitempty"`
	ErrorKind   Kind   `json:"errorKind,omitempty"`
	Err         error  `json:"-"`
}

// ContractInfo is the explorer's getsourcecode entry for an address.
type ContractInfo struct {
	SourceCode           string `json:"SourceCode"`
	ABI                  string `json:"ABI"`
	ContractName         string `json:"ContractName"`
	CompilerVersion      string `json:"CompilerVersion"`
	OptimizationUsed     string `json:"OptimizationUsed"`
	Runs                 string `json:"Runs"`
	ConstructorArguments string `json:"ConstructorArguments"`
	EVMVersion           string `json:"EVMVersion"`
	Library              string `json:"Library"`
	LicenseType          string `json:"LicenseType"`
	Proxy                string `json:"Proxy"`
	Implementation       string `json:"Implementation"`
	SwarmSource          string `json:"SwarmSource"`
}

// IsVerified reports whether the explorer has source for the address.
func (c ContractInfo) IsVerified() bool {
	return c.SourceCode != ""
}
