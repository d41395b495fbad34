// Package handlers implements the three protocol surfaces the runtime
// exposes over HTTP (C8): AAP (per-agent JSON-RPC), UIP (per-agent SSE
// stream), and discovery (manifest serving). Grounded on the teacher's
// internal/api/handlers/handlers.go MCPEndpoint/MCPSSEEndpoint pair —
// decode/dispatch/encode for the RPC side, Flusher + Subscribe/Unsubscribe
// channel for the streaming side.
package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/hyvve/agentmesh/internal/contracts"
	"github.com/hyvve/agentmesh/internal/dashboard"
	"github.com/hyvve/agentmesh/internal/hitl"
	"github.com/hyvve/agentmesh/internal/mesh"
	"github.com/hyvve/agentmesh/internal/router"
	"github.com/hyvve/agentmesh/internal/sessions"
	"github.com/hyvve/agentmesh/internal/tasks"
	"github.com/hyvve/agentmesh/internal/uipgw"
)

// Handlers aggregates the runtime's components behind the HTTP surface.
type Handlers struct {
	Registry  *mesh.Registry
	Router    *router.Router
	Tasks     *tasks.Manager
	HITL      *hitl.Engine
	Emitter   *dashboard.Emitter
	Runs      *sessions.Store
	Gateway   *uipgw.Gateway
	AAPVersion string
	UIPVersion string

	agentsMu sync.RWMutex
	agents   map[string]contracts.AgentHandler
}

// New constructs a Handlers. aapVersion is reported as protocolVersion in
// the global discovery response; uipVersion is stored but no frame carries
// it.
func New(registry *mesh.Registry, rtr *router.Router, tm *tasks.Manager, hitlEngine *hitl.Engine, emitter *dashboard.Emitter, runs *sessions.Store, gw *uipgw.Gateway, aapVersion, uipVersion string) *Handlers {
	return &Handlers{
		Registry:   registry,
		Router:     rtr,
		Tasks:      tm,
		HITL:       hitlEngine,
		Emitter:    emitter,
		Runs:       runs,
		Gateway:    gw,
		AAPVersion: aapVersion,
		UIPVersion: uipVersion,
		agents:     make(map[string]contracts.AgentHandler),
	}
}

// RegisterAgent binds a local agent's handler under name so the AAP and
// UIP endpoints can dispatch to it. The caller is responsible for also
// registering the agent's card in the Registry (see internal/cards).
func (h *Handlers) RegisterAgent(name string, handler contracts.AgentHandler) {
	h.agentsMu.Lock()
	defer h.agentsMu.Unlock()
	h.agents[name] = handler
}

func (h *Handlers) lookupAgent(name string) (contracts.AgentHandler, bool) {
	h.agentsMu.RLock()
	defer h.agentsMu.RUnlock()
	a, ok := h.agents[name]
	return a, ok
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
