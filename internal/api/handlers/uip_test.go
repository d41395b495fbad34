package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hyvve/agentmesh/internal/sessions"
	"github.com/hyvve/agentmesh/internal/uipgw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUIPTestHandlers() *Handlers {
	return New(nil, nil, nil, nil, nil, sessions.NewStore(), uipgw.NewGateway(), "0.3.0", "0.1.0")
}

func doUIP(t *testing.T, h *Handlers, agentName string, body uipRunRequest) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/uip/{agentName}", h.UIPEndpoint)

	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/uip/"+agentName, bytes.NewReader(payload))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseSSEFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		data := strings.TrimPrefix(chunk, "data: ")
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(data), &frame))
		frames = append(frames, frame)
	}
	return frames
}

func TestUIPEndpointStreamsRunStartedAndFinished(t *testing.T) {
	h := newUIPTestHandlers()
	h.RegisterAgent("navi", &stubAgent{content: "hello"})

	w := doUIP(t, h, "navi", uipRunRequest{Task: "plan"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := parseSSEFrames(t, w.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, "RUN_STARTED", frames[0]["type"])
	assert.Equal(t, "RUN_FINISHED", frames[len(frames)-1]["type"])

	foundChunk := false
	for _, f := range frames {
		if f["type"] == "TEXT_MESSAGE_CHUNK" {
			foundChunk = true
			assert.Equal(t, "hello", f["delta"])
		}
	}
	assert.True(t, foundChunk, "expected a TEXT_MESSAGE_CHUNK frame")
}

func TestUIPEndpointErrorStillEmitsRunFinished(t *testing.T) {
	h := newUIPTestHandlers()
	h.RegisterAgent("navi", &stubAgent{err: errors.New("boom")})

	w := doUIP(t, h, "navi", uipRunRequest{Task: "plan"})

	frames := parseSSEFrames(t, w.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, "RUN_STARTED", frames[0]["type"])
	assert.Equal(t, "RUN_FINISHED", frames[len(frames)-1]["type"])

	foundErr := false
	for _, f := range frames {
		if f["type"] == "ERROR" {
			foundErr = true
			assert.Equal(t, "boom", f["message"])
		}
	}
	assert.True(t, foundErr, "expected an ERROR frame")
}

func TestUIPEndpointUnknownAgent(t *testing.T) {
	h := newUIPTestHandlers()

	w := doUIP(t, h, "ghost", uipRunRequest{Task: "plan"})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUIPEndpointToolCallFraming(t *testing.T) {
	h := newUIPTestHandlers()
	h.RegisterAgent("navi", &stubAgent{content: "", toolCalls: []any{map[string]any{"name": "search"}}})

	w := doUIP(t, h, "navi", uipRunRequest{Task: "plan"})

	frames := parseSSEFrames(t, w.Body.String())
	var startSeen, argsSeen bool
	for _, f := range frames {
		switch f["type"] {
		case "TOOL_CALL_START":
			startSeen = true
		case "TOOL_CALL_ARGS":
			argsSeen = true
		}
	}
	assert.True(t, startSeen)
	assert.True(t, argsSeen)
}

