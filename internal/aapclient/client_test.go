package aapclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyvve/agentmesh/internal/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: &rpcResult{Content: "ok"}}
	json.NewEncoder(w).Encode(resp)
}

func errHandler(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: 1, Message: "boom"}}
	json.NewEncoder(w).Encode(resp)
}

func TestCallAgentSuccess(t *testing.T) {
	srv := newTestServer(t, okHandler)
	reg := mesh.New()
	reg.Register(mesh.AgentCard{Name: "navi", URL: srv.URL})

	c := New(reg)
	result := c.CallAgent(context.Background(), "navi", "do thing", nil, time.Second)
	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Content)
}

func TestCallAgentUnknown(t *testing.T) {
	reg := mesh.New()
	c := New(reg)
	result := c.CallAgent(context.Background(), "ghost", "x", nil, time.Second)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
}

// Parallel fan-out isolation: one agent errors, the others still succeed,
// and wall time tracks the slowest call rather than the sum.
func TestCallAgentsParallelIsolatesFailures(t *testing.T) {
	good := newTestServer(t, okHandler)
	bad := newTestServer(t, errHandler)

	reg := mesh.New()
	reg.Register(mesh.AgentCard{Name: "navi", URL: good.URL})
	reg.Register(mesh.AgentCard{Name: "pulse", URL: bad.URL})
	reg.Register(mesh.AgentCard{Name: "herald", URL: good.URL})

	c := New(reg)
	start := time.Now()
	results := c.CallAgentsParallel(context.Background(), []Request{
		{AgentID: "navi", Task: "t"},
		{AgentID: "pulse", Task: "t"},
		{AgentID: "herald", Task: "t"},
	}, time.Second)
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	assert.True(t, results["navi"].Success)
	assert.True(t, results["herald"].Success)
	assert.False(t, results["pulse"].Success)
	assert.Less(t, elapsed, 500*time.Millisecond)
}
