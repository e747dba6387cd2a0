package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polybuilder/polybuilder/internal/chains/evm"
	"github.com/polybuilder/polybuilder/internal/deployments/domain"
	"github.com/polybuilder/polybuilder/internal/events"
)

const testAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

// mockService implements Service for testing
type mockService struct {
	deployments map[string]*domain.Deployment
	recorded    []domain.RecordRequest
	listErr     error
}

func newMockService() *mockService {
	return &mockService{deployments: make(map[string]*domain.Deployment)}
}

func (m *mockService) Record(ctx context.Context, req domain.RecordRequest) (*domain.Deployment, error) {
	m.recorded = append(m.recorded, req)
	d := &domain.Deployment{ID: "deploy-new", Network: req.Network, Address: req.Address, ContractName: req.ContractName}
	m.deployments[req.Network+"/"+req.Address] = d
	return d, nil
}

func (m *mockService) Get(ctx context.Context, network, address string) (*domain.Deployment, error) {
	if d, ok := m.deployments[network+"/"+address]; ok {
		return d, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockService) List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var deployments []domain.Deployment
	for _, d := range m.deployments {
		if filter.Network == "" || d.Network == filter.Network {
			deployments = append(deployments, *d)
		}
	}
	return &domain.ListResult{Deployments: deployments}, nil
}

// mockDeployer records the config it was given and emits one log line.
type mockDeployer struct {
	got    *evm.DeploymentConfig
	result evm.DeploymentResult
}

func (m *mockDeployer) Deploy(ctx context.Context, cfg evm.DeploymentConfig, sink events.Sink) evm.DeploymentResult {
	m.got = &cfg
	events.For(sink, events.StageDeploying).Info("🚀", "Deploying %s to %s...", cfg.ContractName, cfg.Network)
	return m.result
}

func setupRouter(svc Service, dep Deployer, defaultKey evm.PrivateKey) *chi.Mux {
	h := NewHandler(svc, dep, defaultKey, nil)
	r := chi.NewRouter()
	h.RegisterReadRoutes(r)
	h.RegisterWriteRoutes(r)
	return r
}

func postDeploy(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/deploy", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const validDeployBody = `{
	"contractName": "MyToken",
	"artifact": {"contractName": "MyToken", "abi": [], "bytecode": "0x6080"},
	"constructorArgs": ["MTK", 1000],
	"network": "amoy"
}`

func TestHandleDeploy_Success(t *testing.T) {
	svc := newMockService()
	dep := &mockDeployer{result: evm.DeploymentResult{
		Success:         true,
		ContractAddress: testAddress,
		TransactionHash: "0xabc",
		GasUsed:         "120000",
		Deployer:        "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
	}}
	r := setupRouter(svc, dep, "0xserverkey")

	w := postDeploy(r, validDeployBody)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, testAddress, resp["contractAddress"])
	assert.Equal(t, "120000", resp["gasUsed"])
	assert.Equal(t, []any{"🚀 Deploying MyToken to amoy..."}, resp["logs"])
	assert.NotContains(t, w.Body.String(), "serverkey")

	require.NotNil(t, dep.got)
	assert.Equal(t, evm.PrivateKey("0xserverkey"), dep.got.PrivateKey, "falls back to the server key")
	assert.Equal(t, []any{"MTK", json.Number("1000")}, dep.got.ConstructorArgs)
	assert.Equal(t, "0x6080", dep.got.Artifact.Bytecode)

	require.Len(t, svc.recorded, 1)
	assert.Equal(t, testAddress, svc.recorded[0].Address)
	assert.Equal(t, "0xabc", svc.recorded[0].TxHash)
}

func TestHandleDeploy_RequestKeyWins(t *testing.T) {
	dep := &mockDeployer{result: evm.DeploymentResult{Success: false, Error: "boom", ErrorKind: evm.KindChain}}
	svc := newMockService()
	r := setupRouter(svc, dep, "0xserverkey")

	body := `{"contractName":"A","artifact":{"abi":[],"bytecode":"0x60"},"network":"polygon","privateKey":"0xclientkey"}`
	w := postDeploy(r, body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, evm.PrivateKey("0xclientkey"), dep.got.PrivateKey)
	assert.NotContains(t, w.Body.String(), "clientkey")
	assert.Empty(t, svc.recorded, "failed deployments are not recorded")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "boom", resp["error"])
}

func TestHandleDeploy_BadRequests(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		defaultKey evm.PrivateKey
		wantMsg    string
	}{
		{"invalid JSON", `nope`, "k", "Invalid JSON"},
		{"missing artifact", `{"contractName":"A","network":"amoy"}`, "k", "artifact is required"},
		{"missing network", `{"contractName":"A","artifact":{"bytecode":"0x60"}}`, "k", "network is required"},
		{"unknown network", `{"contractName":"A","artifact":{"bytecode":"0x60"},"network":"goerli"}`, "k", "network must be one of"},
		{"empty bytecode", `{"contractName":"A","artifact":{"bytecode":""},"network":"amoy"}`, "k", "artifact.bytecode is required"},
		{"no key anywhere", validDeployBody, "", "No private key provided and PRIVATE_KEY not set in environment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dep := &mockDeployer{}
			w := postDeploy(setupRouter(newMockService(), dep, tt.defaultKey), tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Contains(t, resp.Error.Message, tt.wantMsg)
			assert.Nil(t, dep.got, "deployer must not be called")
		})
	}
}

func TestHandleList(t *testing.T) {
	svc := newMockService()
	svc.deployments["amoy/"+testAddress] = &domain.Deployment{ID: "d1", Network: "amoy", Address: testAddress}
	svc.deployments["polygon/0x1"] = &domain.Deployment{ID: "d2", Network: "polygon", Address: "0x1"}
	r := setupRouter(svc, &mockDeployer{}, "")

	req := httptest.NewRequest(http.MethodGet, "/deployments?network=amoy&limit=5", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp DeploymentListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "d1", resp.Data[0].ID)
	assert.Equal(t, 5, resp.Pagination.Limit)

	t.Run("empty list encodes as array", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/deployments?network=mumbai", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Contains(t, w.Body.String(), `"data":[]`)
	})

	t.Run("bad cursor", func(t *testing.T) {
		svc.listErr = domain.ErrInvalidCursor
		defer func() { svc.listErr = nil }()
		req := httptest.NewRequest(http.MethodGet, "/deployments?cursor=zzz", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		svc.listErr = errors.New("db down")
		defer func() { svc.listErr = nil }()
		req := httptest.NewRequest(http.MethodGet, "/deployments", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandleGet(t *testing.T) {
	svc := newMockService()
	svc.deployments["amoy/"+testAddress] = &domain.Deployment{ID: "d1", Network: "amoy", Address: testAddress, ContractName: "MyToken"}
	r := setupRouter(svc, &mockDeployer{}, "")

	req := httptest.NewRequest(http.MethodGet, "/deployments/amoy/"+testAddress, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var d domain.Deployment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, "MyToken", d.ContractName)

	req = httptest.NewRequest(http.MethodGet, "/deployments/amoy/0x0000000000000000000000000000000000000000", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
