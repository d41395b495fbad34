package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hyvve/agentmesh/internal/contracts"
	"github.com/hyvve/agentmesh/internal/uipgw"
	"github.com/rs/zerolog/log"
)

type uipRunRequest struct {
	Task    string         `json:"task"`
	Context map[string]any `json:"context,omitempty"`
}

// UIPEndpoint streams one run's lifecycle for the agent registered under
// name as newline-delimited "data: <json>\n\n" frames. The server runs the
// agent call on its own goroutine and relays frames through a per-run
// channel (internal/uipgw) so the producer never blocks on a slow client;
// it guarantees exactly one RUN_STARTED at the head and exactly one
// RUN_FINISHED at the tail, even when the agent call fails.
func (h *Handlers) UIPEndpoint(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agentName")

	agent, ok := h.lookupAgent(name)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown agent: "+name)
		return
	}

	var req uipRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	runID := uuid.NewString()
	if err := h.Runs.StartRun(r.Context(), runID, name); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	ch := h.Gateway.Subscribe(runID)
	defer h.Gateway.Unsubscribe(runID, ch)

	go h.runUIPTurn(r.Context(), agent, name, runID, req)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			if frame["type"] == "RUN_FINISHED" {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// runUIPTurn executes one agent call and publishes its lifecycle as UIP
// frames. It always emits RUN_STARTED first and RUN_FINISHED last,
// regardless of whether the call succeeds, and records the pairing in the
// run-session store so a reconnecting client can observe it happened even
// if it missed the live frames.
func (h *Handlers) runUIPTurn(ctx context.Context, agent contracts.AgentHandler, agentName, runID string, req uipRunRequest) {
	h.Gateway.Publish(runID, map[string]any{"type": "RUN_STARTED", "runId": runID})

	content, toolCalls, artifacts, err := agent.Handle(ctx, req.Task, req.Context)
	if err != nil {
		log.Warn().Str("agent", agentName).Str("run_id", runID).Err(err).Msg("uip: agent call failed")
		h.Gateway.Publish(runID, map[string]any{
			"type":    "ERROR",
			"runId":   runID,
			"code":    "AGENT_ERROR",
			"message": err.Error(),
		})
	} else {
		if content != "" {
			h.Gateway.Publish(runID, map[string]any{
				"type":      "TEXT_MESSAGE_CHUNK",
				"runId":     runID,
				"messageId": "msg_" + runID,
				"delta":     content,
			})
		}
		for i, tc := range toolCalls {
			publishToolCall(h.Gateway, runID, i, tc)
		}
		for _, art := range artifacts {
			h.Gateway.Publish(runID, map[string]any{
				"type":     "TOOL_CALL_RESULT",
				"runId":    runID,
				"artifact": art,
			})
		}
	}

	h.Gateway.Publish(runID, map[string]any{"type": "RUN_FINISHED", "runId": runID})
	if err := h.Runs.FinishRun(ctx, runID); err != nil {
		log.Debug().Str("run_id", runID).Err(err).Msg("uip: finish_run on an unknown run")
	}
}

func publishToolCall(gw *uipgw.Gateway, runID string, index int, toolCall any) {
	callID := fmt.Sprintf("call_%s_%d", runID, index)
	gw.Publish(runID, map[string]any{"type": "TOOL_CALL_START", "runId": runID, "toolCallId": callID})
	gw.Publish(runID, map[string]any{"type": "TOOL_CALL_ARGS", "runId": runID, "toolCallId": callID, "args": toolCall})
}
