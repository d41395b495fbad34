package handlers

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
)

type stubAgent struct {
	content   string
	toolCalls []any
	artifacts []any
	err       error
}

func (a *stubAgent) Handle(ctx context.Context, task string, taskContext map[string]any) (string, []any, []any, error) {
	return a.content, a.toolCalls, a.artifacts, a.err
}

func newTestHandlers() *Handlers {
	return New(nil, nil, nil, nil, nil, nil, nil, "0.3.0", "0.1.0")
}

func doAAP(h *Handlers, agentName string, body rpcRequest) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Post("/aap/{agentName}", h.AAPEndpoint)

	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/aap/"+agentName, bytes.NewReader(payload))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAAPEndpointSendTaskSuccess(t *testing.T) {
	h := newTestHandlers()
	h.RegisterAgent("navi", &stubAgent{content: "done", toolCalls: []any{"x"}})

	w := doAAP(h, "navi", rpcRequest{JSONRPC: "2.0", ID: "1", Method: "sendTask", Params: rpcTaskParams{Task: "plan"}})

	require.Equal(t, http.StatusOK, w.Code)
	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "done", resp.Result.Content)
	assert.Equal(t, []any{"x"}, resp.Result.ToolCalls)
	assert.Equal(t, "1", resp.ID)
}

func TestAAPEndpointUnknownAgent(t *testing.T) {
	h := newTestHandlers()

	w := doAAP(h, "ghost", rpcRequest{JSONRPC: "2.0", ID: "1", Method: "sendTask"})

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Nil(t, resp.Result)
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcCodeAgentNotFound, resp.Error.Code)
}

func TestAAPEndpointUnknownMethod(t *testing.T) {
	h := newTestHandlers()
	h.RegisterAgent("navi", &stubAgent{content: "done"})

	w := doAAP(h, "navi", rpcRequest{JSONRPC: "2.0", ID: "1", Method: "doSomethingElse"})

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcCodeMethodNotFound, resp.Error.Code)
}

func TestAAPEndpointAgentError(t *testing.T) {
	h := newTestHandlers()
	h.RegisterAgent("navi", &stubAgent{err: errors.New("boom")})

	w := doAAP(h, "navi", rpcRequest{JSONRPC: "2.0", ID: "1", Method: "sendTask"})

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcCodeInternal, resp.Error.Code)
	assert.Equal(t, "boom", resp.Error.Message)
}

func TestAAPEndpointResultAndErrorAreMutuallyExclusive(t *testing.T) {
	h := newTestHandlers()
	h.RegisterAgent("navi", &stubAgent{content: "done"})

	w := doAAP(h, "navi", rpcRequest{JSONRPC: "2.0", ID: "1", Method: "sendTask"})

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	if resp.Result != nil {
		assert.Nil(t, resp.Error)
	} else {
		assert.NotNil(t, resp.Error)
	}
}

func TestAAPEndpointParseError(t *testing.T) {
	h := newTestHandlers()
	r := chi.NewRouter()
	r.Post("/aap/{agentName}", h.AAPEndpoint)

	req := httptest.NewRequest(http.MethodPost, "/aap/navi", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, rpcCodeParseError, resp.Error.Code)
}
