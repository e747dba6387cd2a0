package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// pendingResult is the checkverifystatus result while the job is queued.
const pendingResult = "Pending in queue"

// apiResponse is the envelope every Etherscan-family endpoint returns.
type apiResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// resultText returns result as text when it is a JSON string.
func (r apiResponse) resultText() string {
	var s string
	if err := json.Unmarshal(r.Result, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(r.Result))
}

// Explorer talks to a Polygonscan-compatible API.
type Explorer struct {
	apiKey     string
	httpClient *http.Client
}

// NewExplorer creates an explorer client.
func NewExplorer(apiKey string, timeout time.Duration) *Explorer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Explorer{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether an API key is set.
func (e *Explorer) Configured() bool {
	return e.apiKey != ""
}

// Submit posts a verifysourcecode request and returns the job GUID.
// A non-"1" status is returned as a rejection carrying the explorer text.
func (e *Explorer) Submit(ctx context.Context, apiURL string, form url.Values) (string, error) {
	form = cloneValues(form)
	form.Set("apikey", e.apiKey)
	form.Set("module", "contract")
	form.Set("action", "verifysourcecode")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.do(req)
	if err != nil {
		return "", err
	}
	if resp.Status != "1" {
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.resultText())
	}
	return resp.resultText(), nil
}

// CheckStatus returns the raw status and result of a verification job.
func (e *Explorer) CheckStatus(ctx context.Context, apiURL, guid string) (status, result string, err error) {
	resp, err := e.get(ctx, apiURL, url.Values{
		"module": {"contract"},
		"action": {"checkverifystatus"},
		"guid":   {guid},
	})
	if err != nil {
		return "", "", err
	}
	return resp.Status, resp.resultText(), nil
}

// SourceCode fetches the getsourcecode entry for address.
func (e *Explorer) SourceCode(ctx context.Context, apiURL, address string) (*ContractInfo, error) {
	resp, err := e.get(ctx, apiURL, url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {address},
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != "1" {
		return nil, fmt.Errorf("%s", resp.resultText())
	}

	var entries []ContractInfo
	if err := json.Unmarshal(resp.Result, &entries); err != nil {
		return nil, fmt.Errorf("decoding getsourcecode result: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no source entry for %s", address)
	}
	return &entries[0], nil
}

func (e *Explorer) get(ctx context.Context, apiURL string, params url.Values) (*apiResponse, error) {
	params.Set("apikey", e.apiKey)

	u, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parsing explorer URL: %w", err)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return e.do(req)
}

func (e *Explorer) do(req *http.Request) (*apiResponse, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading explorer response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("explorer returned HTTP %d", resp.StatusCode)
	}

	var out apiResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding explorer response: %w", err)
	}
	return &out, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+3)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
