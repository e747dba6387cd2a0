// Package client provides a Go client for the PolyBuilder API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a PolyBuilder API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new PolyBuilder client. Compilation and deployment can
// take minutes, so the default timeout is generous.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SourceFile is one Solidity file.
type SourceFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Artifact is a compiled contract.
type Artifact struct {
	ContractName     string          `json:"contractName"`
	SourceName       string          `json:"sourceName,omitempty"`
	ABI              json.RawMessage `json:"abi"`
	Bytecode         string          `json:"bytecode"`
	DeployedBytecode string          `json:"deployedBytecode,omitempty"`
}

// CompileResponse is the result of POST /compile.
type CompileResponse struct {
	Success   bool                 `json:"success"`
	Artifacts map[string]*Artifact `json:"artifacts,omitempty"`
	Warnings  []string             `json:"warnings,omitempty"`
	Errors    []string             `json:"errors,omitempty"`
	Logs      []string             `json:"logs"`
}

// DeployRequest deploys a compiled artifact. PrivateKey may be empty when
// the server holds a signing key.
type DeployRequest struct {
	ContractName    string    `json:"contractName"`
	Artifact        *Artifact `json:"artifact"`
	ConstructorArgs []any     `json:"constructorArgs"`
	Network         string    `json:"network"`
	PrivateKey      string    `json:"privateKey,omitempty"`
}

// CodeMatch compares the bytecode on chain with the artifact.
type CodeMatch struct {
	Match   bool   `json:"match"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DeployResponse is the result of POST /deploy.
type DeployResponse struct {
	Success         bool       `json:"success"`
	ContractAddress string     `json:"contractAddress,omitempty"`
	TransactionHash string     `json:"transactionHash,omitempty"`
	GasUsed         string     `json:"gasUsed,omitempty"`
	Deployer        string     `json:"deployer,omitempty"`
	CodeMatch       *CodeMatch `json:"codeMatch,omitempty"`
	Error           string     `json:"error,omitempty"`
	ErrorKind       string     `json:"errorKind,omitempty"`
	Logs            []string   `json:"logs"`
}

// VerifyRequest submits source code to Polygonscan.
type VerifyRequest struct {
	ContractAddress string          `json:"contractAddress"`
	ContractName    string          `json:"contractName"`
	SourceCode      string          `json:"sourceCode"`
	ConstructorArgs []any           `json:"constructorArgs"`
	ABI             json.RawMessage `json:"abi,omitempty"`
	Network         string          `json:"network"`
}

// VerifyResponse is the result of POST /verify.
type VerifyResponse struct {
	Success     bool     `json:"success"`
	ExplorerURL string   `json:"explorerUrl,omitempty"`
	GUID        string   `json:"guid,omitempty"`
	Error       string   `json:"error,omitempty"`
	ErrorKind   string   `json:"errorKind,omitempty"`
	Logs        []string `json:"logs"`
}

// ContractInfo is the explorer's source entry for an address.
type ContractInfo struct {
	SourceCode      string `json:"SourceCode"`
	ABI             string `json:"ABI"`
	ContractName    string `json:"ContractName"`
	CompilerVersion string `json:"CompilerVersion"`
	LicenseType     string `json:"LicenseType"`
	Proxy           string `json:"Proxy"`
	Implementation  string `json:"Implementation"`
}

// PipelineRequest runs compile, deploy and optional verification.
type PipelineRequest struct {
	Files           []SourceFile `json:"files"`
	MainContract    string       `json:"mainContract"`
	ConstructorArgs []any        `json:"constructorArgs"`
	Network         string       `json:"network"`
	AutoVerify      bool         `json:"autoVerify"`
	PrivateKey      string       `json:"privateKey,omitempty"`
}

// Status is a snapshot of a pipeline run.
type Status struct {
	Stage           string `json:"stage"`
	Message         string `json:"message"`
	Progress        int    `json:"progress"`
	ContractAddress string `json:"contractAddress,omitempty"`
	TransactionHash string `json:"transactionHash,omitempty"`
	GasUsed         string `json:"gasUsed,omitempty"`
	ExplorerURL     string `json:"explorerUrl,omitempty"`
	Verified        *bool  `json:"verified,omitempty"`
}

// Failed reports whether the run ended in the error stage.
func (s Status) Failed() bool { return s.Stage == "error" }

// Event is one progress line of a run.
type Event struct {
	Seq    int       `json:"seq"`
	Time   time.Time `json:"time"`
	Stage  string    `json:"stage"`
	Kind   string    `json:"kind"`
	Icon   string    `json:"icon,omitempty"`
	Detail string    `json:"detail"`
}

func (e Event) String() string {
	if e.Icon == "" {
		return e.Detail
	}
	return e.Icon + " " + e.Detail
}

// RunResponse is the result of POST /pipeline.
type RunResponse struct {
	ID       string   `json:"id"`
	Status   Status   `json:"status"`
	Statuses []Status `json:"statuses"`
	Events   []Event  `json:"events"`
	Logs     []string `json:"logs"`
}

// StoredRun is a pipeline run loaded from history.
type StoredRun struct {
	ID           string    `json:"id"`
	Network      string    `json:"network"`
	MainContract string    `json:"mainContract"`
	Status       Status    `json:"status"`
	Statuses     []Status  `json:"statuses"`
	Events       []Event   `json:"events"`
	Logs         []string  `json:"logs"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Deployment represents a recorded deployment
type Deployment struct {
	ID           string    `json:"id"`
	RunID        string    `json:"runId,omitempty"`
	Network      string    `json:"network"`
	ChainID      int64     `json:"chainId"`
	ContractName string    `json:"contractName"`
	Address      string    `json:"address"`
	Deployer     string    `json:"deployer,omitempty"`
	TxHash       string    `json:"txHash,omitempty"`
	GasUsed      string    `json:"gasUsed,omitempty"`
	Verified     bool      `json:"verified"`
	ExplorerURL  string    `json:"explorerUrl,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ListDeploymentsOptions filters GET /deployments.
type ListDeploymentsOptions struct {
	Network  string
	Verified *bool
	Limit    int
	Cursor   string
}

// ListDeploymentsResponse is a page of deployments.
type ListDeploymentsResponse struct {
	Data       []Deployment `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// AnalysisReport is the AI review of a contract.
type AnalysisReport struct {
	Security []struct {
		Line           int    `json:"line"`
		Issue          string `json:"issue"`
		Severity       string `json:"severity"`
		Recommendation string `json:"recommendation"`
	} `json:"security"`
	Optimizations []struct {
		Line      int    `json:"line"`
		Current   string `json:"current"`
		Optimized string `json:"optimized"`
		GasSaved  string `json:"gasSaved"`
	} `json:"optimizations"`
	Suggestions []struct {
		Line       int    `json:"line"`
		Suggestion string `json:"suggestion"`
		Reason     string `json:"reason"`
		Severity   string `json:"severity"`
	} `json:"suggestions"`
}

// Identity describes the key a request authenticated with.
type Identity struct {
	Authenticated bool   `json:"authenticated"`
	KeyID         string `json:"keyId,omitempty"`
	Name          string `json:"name,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Compile compiles Solidity sources.
func (c *Client) Compile(ctx context.Context, files []SourceFile) (*CompileResponse, error) {
	var resp CompileResponse
	if err := c.post(ctx, "/api/v1/compile", map[string]any{"files": files}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Deploy broadcasts a contract creation transaction.
func (c *Client) Deploy(ctx context.Context, req DeployRequest) (*DeployResponse, error) {
	var resp DeployResponse
	if err := c.post(ctx, "/api/v1/deploy", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify submits source code for an already deployed contract.
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*VerifyResponse, error) {
	var resp VerifyResponse
	if err := c.post(ctx, "/api/v1/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ContractInfo fetches the explorer's source entry for address.
func (c *Client) ContractInfo(ctx context.Context, network, address string) (*ContractInfo, error) {
	q := url.Values{"network": {network}, "address": {address}}
	var resp struct {
		Success bool          `json:"success"`
		Info    *ContractInfo `json:"info"`
		Error   string        `json:"error"`
	}
	if err := c.get(ctx, "/api/v1/contract-info?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Info == nil {
		return nil, &APIError{Code: "EXPLORER_ERROR", Message: resp.Error}
	}
	return resp.Info, nil
}

// RunPipeline runs the whole pipeline and returns once it has finished.
func (c *Client) RunPipeline(ctx context.Context, req PipelineRequest) (*RunResponse, error) {
	var resp RunResponse
	if err := c.post(ctx, "/api/v1/pipeline", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun loads a stored pipeline run.
func (c *Client) GetRun(ctx context.Context, id string) (*StoredRun, error) {
	var resp StoredRun
	if err := c.get(ctx, "/api/v1/pipeline/runs/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListDeployments lists recorded deployments, newest first.
func (c *Client) ListDeployments(ctx context.Context, opts ListDeploymentsOptions) (*ListDeploymentsResponse, error) {
	q := url.Values{}
	if opts.Network != "" {
		q.Set("network", opts.Network)
	}
	if opts.Verified != nil {
		q.Set("verified", strconv.FormatBool(*opts.Verified))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	path := "/api/v1/deployments"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListDeploymentsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetDeployment gets a deployment by network and address
func (c *Client) GetDeployment(ctx context.Context, network, address string) (*Deployment, error) {
	var resp Deployment
	path := fmt.Sprintf("/api/v1/deployments/%s/%s", url.PathEscape(network), url.PathEscape(address))
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Analyze asks the server's AI model to review code.
func (c *Client) Analyze(ctx context.Context, code string) (*AnalysisReport, error) {
	var resp AnalysisReport
	if err := c.post(ctx, "/api/v1/analyze", map[string]string{"code": code}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WhoAmI reports which key the client authenticates with.
func (c *Client) WhoAmI(ctx context.Context) (*Identity, error) {
	var resp Identity
	if err := c.get(ctx, "/api/v1/auth/whoami", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(h http.Header) {
	if c.apiKey != "" {
		h.Set("X-API-Key", c.apiKey)
	}
	h.Set("Accept", "application/json")
}

func parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	errResp.Error.Status = resp.StatusCode
	return &errResp.Error
}
