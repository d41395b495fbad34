// Package aapclient implements the AAP (Agent-to-Agent Protocol) client:
// JSON-RPC 2.0 calls to remote agent endpoints, with per-call timing and
// bounded-parallelism fan-out that tolerates partial failure. Grounded on
// the teacher's internal/notify/service.go DispatchAll (WaitGroup + mutex
// result slice), generalized to a bounded errgroup since the spec calls
// for explicitly bounded parallelism rather than an unbounded fan-out.
package aapclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hyvve/agentmesh/internal/contracts"
	"github.com/hyvve/agentmesh/internal/mesh"
	"golang.org/x/sync/errgroup"
)

// AAPResult is the outcome of one AAP call.
type AAPResult struct {
	AgentID    string            `json:"agent_id"`
	Success    bool              `json:"success"`
	Content    string            `json:"content,omitempty"`
	ToolCalls  []any             `json:"tool_calls,omitempty"`
	Artifacts  []any             `json:"artifacts,omitempty"`
	Error      *contracts.Failure `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

// Request describes one call to be fanned out in parallel.
type Request struct {
	AgentID string
	Task    string
	Context map[string]any
}

type rpcRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      string     `json:"id"`
	Method  string     `json:"method"`
	Params  rpcParams  `json:"params"`
}

type rpcParams struct {
	Task    string         `json:"task"`
	Context map[string]any `json:"context,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  *rpcResult      `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
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

// MaxParallelCalls bounds concurrent in-flight AAP requests within one
// fan-out, matching the spec's explicit "bounded parallelism" requirement.
const MaxParallelCalls = 16

// Client resolves agent URLs from a Registry and calls them over JSON-RPC.
type Client struct {
	registry *mesh.Registry
	http     *http.Client
}

// New constructs a Client bound to a Registry for URL resolution.
func New(registry *mesh.Registry) *Client {
	return &Client{
		registry: registry,
		http:     &http.Client{},
	}
}

// CallAgent posts a sendTask JSON-RPC request to the agent named agentID
// and awaits the response. It never returns a Go error for protocol or
// transport failures — those surface as a failure-shaped AAPResult.
func (c *Client) CallAgent(ctx context.Context, agentID, task string, taskContext map[string]any, timeout time.Duration) AAPResult {
	start := time.Now()

	card, ok := c.registry.Get(agentID)
	if !ok {
		return failure(agentID, start, contracts.ErrNotFound, "unknown agent")
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      agentID + "-" + fmt.Sprint(start.UnixNano()),
		Method:  "sendTask",
		Params:  rpcParams{Task: task, Context: taskContext},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return failure(agentID, start, contracts.ErrValidation, err.Error())
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, card.URL, bytes.NewReader(body))
	if err != nil {
		return failure(agentID, start, contracts.ErrValidation, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return failure(agentID, start, contracts.ErrTimeout, "request timed out")
		}
		if callCtx.Err() == context.Canceled {
			return failure(agentID, start, contracts.ErrCancelled, "request cancelled")
		}
		return failure(agentID, start, contracts.ErrConnection, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return failure(agentID, start, contracts.ErrConnection, fmt.Sprintf("http status %d", resp.StatusCode))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return failure(agentID, start, contracts.ErrValidation, "invalid response body")
	}

	if rpcResp.Error != nil {
		return failure(agentID, start, contracts.ErrConnection, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return failure(agentID, start, contracts.ErrValidation, "missing result")
	}

	return AAPResult{
		AgentID:    agentID,
		Success:    true,
		Content:    rpcResp.Result.Content,
		ToolCalls:  rpcResp.Result.ToolCalls,
		Artifacts:  rpcResp.Result.Artifacts,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// CallAgentsParallel runs every request concurrently, bounded by
// MaxParallelCalls, and returns a mapping agent_id -> AAPResult that
// includes failed calls. One agent's failure never cancels the others;
// overall wall time is bounded by the slowest call, not the sum.
func (c *Client) CallAgentsParallel(ctx context.Context, requests []Request, perCallTimeout time.Duration) map[string]AAPResult {
	results := make(map[string]AAPResult, len(requests))
	var mu lockedMap
	mu.m = results

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxParallelCalls)

	for _, req := range requests {
		req := req
		g.Go(func() error {
			result := c.CallAgent(gctx, req.AgentID, req.Task, req.Context, perCallTimeout)
			mu.set(req.AgentID, result)
			return nil // never propagate per-call failure into the group error
		})
	}
	_ = g.Wait()

	return mu.snapshot()
}

func failure(agentID string, start time.Time, kind contracts.ErrorKind, msg string) AAPResult {
	return AAPResult{
		AgentID:    agentID,
		Success:    false,
		Error:      contracts.NewFailure(kind, msg),
		DurationMs: time.Since(start).Milliseconds(),
	}
}
