package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// rpcRequest/rpcResponse mirror the AAP wire format bit-exact: a JSON-RPC
// 2.0 envelope with a single method, "sendTask".
type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      any            `json:"id"`
	Method  string         `json:"method"`
	Params  rpcTaskParams  `json:"params"`
}

type rpcTaskParams struct {
	Task    string         `json:"task"`
	Context map[string]any `json:"context,omitempty"`
}

type rpcResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      any        `json:"id"`
	Result  *rpcResult `json:"result,omitempty"`
	Error   *rpcError  `json:"error,omitempty"`
}

type rpcResult struct {
	Content   string `json:"content"`
	ToolCalls []any  `json:"tool_calls"`
	Artifacts []any  `json:"artifacts"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	rpcCodeParseError     = -32700
	rpcCodeMethodNotFound = -32601
	rpcCodeAgentNotFound  = -32001
	rpcCodeInternal       = -32000
)

// AAPEndpoint returns the JSON-RPC 2.0 handler for the agent registered
// under name. It decodes the request, dispatches to the agent's handler,
// and returns result XOR error — never both, matching strict JSON-RPC.
func (h *Handlers) AAPEndpoint(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agentName")

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, rpcCodeParseError, "parse error")
		return
	}

	if req.Method != "sendTask" {
		writeRPCError(w, req.ID, rpcCodeMethodNotFound, "unknown method: "+req.Method)
		return
	}

	agent, ok := h.lookupAgent(name)
	if !ok {
		writeRPCError(w, req.ID, rpcCodeAgentNotFound, "unknown agent: "+name)
		return
	}

	content, toolCalls, artifacts, err := agent.Handle(r.Context(), req.Params.Task, req.Params.Context)
	if err != nil {
		log.Warn().Str("agent", name).Err(err).Msg("aap: handler returned an error")
		writeRPCError(w, req.ID, rpcCodeInternal, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: &rpcResult{
			Content:   content,
			ToolCalls: nonNil(toolCalls),
			Artifacts: nonNil(artifacts),
		},
	})
}

func nonNil(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

func writeRPCError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &rpcError{Code: code, Message: message},
	})
}
