package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
)

func TestClient_Compile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/compile" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("X-API-Key = %q, want test-key", got)
		}
		var body struct {
			Files []SourceFile `json:"files"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Files) != 1 {
			t.Errorf("bad body: %v %+v", err, body)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"artifacts": map[string]any{
				"Token": map[string]any{"contractName": "Token", "abi": []any{}, "bytecode": "0x6080"},
			},
			"logs": []string{"✅ Compilation successful"},
		})
	}))
	defer server.Close()

	c := New(server.URL+"/", "test-key")
	resp, err := c.Compile(context.Background(), []SourceFile{{Path: "contracts/Token.sol", Content: "contract Token {}"}})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !resp.Success || resp.Artifacts["Token"].Bytecode != "0x6080" {
		t.Errorf("Compile() = %+v", resp)
	}
}

func TestClient_ListDeployments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/deployments" {
			t.Errorf("Expected path /api/v1/deployments, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("network") != "amoy" || q.Get("verified") != "true" || q.Get("limit") != "5" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data":       []map[string]any{{"network": "amoy", "address": "0xabc", "contractName": "Token", "verified": true}},
			"pagination": map[string]any{"limit": 5, "hasMore": true, "nextCursor": "next"},
		})
	}))
	defer server.Close()

	verified := true
	resp, err := New(server.URL, "").ListDeployments(context.Background(), ListDeploymentsOptions{Network: "amoy", Verified: &verified, Limit: 5})
	if err != nil {
		t.Fatalf("ListDeployments() error = %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ContractName != "Token" {
		t.Errorf("ListDeployments() data = %+v", resp.Data)
	}
	if !resp.Pagination.HasMore || resp.Pagination.NextCursor != "next" {
		t.Errorf("ListDeployments() pagination = %+v", resp.Pagination)
	}
}

func TestClient_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"Deployment not found"}}`))
	}))
	defer server.Close()

	_, err := New(server.URL, "").GetDeployment(context.Background(), "amoy", "0xabc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_NonJSONError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := New(server.URL, "").WhoAmI(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "HTTP_502" {
		t.Fatalf("expected HTTP_502 APIError, got %v", err)
	}
}

func TestClient_ContractInfoFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Contract source code not verified"})
	}))
	defer server.Close()

	_, err := New(server.URL, "").ContractInfo(context.Background(), "amoy", "0xabc")
	if err == nil {
		t.Fatal("expected error for unverified contract")
	}
}

func streamServer(t *testing.T, frames []Frame) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/pipeline/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var req PipelineRequest
		if err := conn.ReadJSON(&req); err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		if req.MainContract != "Token" {
			t.Errorf("MainContract = %q", req.MainContract)
		}
		for _, f := range frames {
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
}

func TestClient_StreamPipeline(t *testing.T) {
	final := Status{Stage: "completed", Progress: 100, ContractAddress: "0xabc"}
	server := streamServer(t, []Frame{
		{Type: "status", Status: &Status{Stage: "compiling", Progress: 10}},
		{Type: "event", Event: &Event{Stage: "compiling", Icon: "🔨", Detail: "Compiling 1 file(s)"}},
		{Type: "status", Status: &final},
		{Type: "done", ID: "run-1", Status: &final},
	})
	defer server.Close()

	var seen []string
	id, status, err := New(server.URL, "").StreamPipeline(context.Background(),
		PipelineRequest{MainContract: "Token", Network: "amoy"},
		func(f Frame) { seen = append(seen, f.Type) },
	)
	if err != nil {
		t.Fatalf("StreamPipeline() error = %v", err)
	}
	if id != "run-1" || status.ContractAddress != "0xabc" {
		t.Errorf("StreamPipeline() = %q, %+v", id, status)
	}
	want := []string{"status", "event", "status"}
	if len(seen) != len(want) {
		t.Fatalf("frames = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestClient_StreamPipelineErrorFrame(t *testing.T) {
	server := streamServer(t, []Frame{
		{Type: "error", Error: &APIError{Code: "INVALID_REQUEST", Message: "Invalid request: network is required"}},
	})
	defer server.Close()

	_, _, err := New(server.URL, "").StreamPipeline(context.Background(), PipelineRequest{MainContract: "Token"}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_REQUEST" {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestClient_StreamPipelineClosedEarly(t *testing.T) {
	server := streamServer(t, []Frame{
		{Type: "status", Status: &Status{Stage: "compiling", Progress: 10}},
	})
	defer server.Close()

	_, _, err := New(server.URL, "").StreamPipeline(context.Background(), PipelineRequest{MainContract: "Token"}, nil)
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080/api/v1/pipeline/stream": "ws://localhost:8080/api/v1/pipeline/stream",
		"https://pb.example.com/api/v1/pipeline/stream": "wss://pb.example.com/api/v1/pipeline/stream",
	}
	for in, want := range tests {
		got, err := websocketURL(in)
		if err != nil || got != want {
			t.Errorf("websocketURL(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := websocketURL("ftp://x"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}
