package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyvve/agentmesh/internal/cards"
)

// DiscoveryGlobal returns every registered agent's card alongside the
// protocol version and a discovery timestamp.
func (h *Handlers) DiscoveryGlobal(w http.ResponseWriter, r *http.Request) {
	all := h.Registry.ListAll()
	docs := make([]map[string]any, 0, len(all))
	for _, card := range all {
		docs = append(docs, cards.ToJSONLD(card))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"protocolVersion": h.AAPVersion,
		"agents":          docs,
		"discoveredAt":    time.Now().UTC().Format(time.RFC3339),
	})
}

// DiscoveryAgent returns one agent's card as a JSON-LD document.
func (h *Handlers) DiscoveryAgent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "agentName")
	card, ok := h.Registry.Get(name)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown agent: "+name)
		return
	}
	respondJSON(w, http.StatusOK, cards.ToJSONLD(card))
}

// DiscoveryList returns the lightweight {id, name, url, discoveryUrl}
// listing used by clients enumerating the mesh before fetching individual
// cards.
func (h *Handlers) DiscoveryList(w http.ResponseWriter, r *http.Request) {
	all := h.Registry.ListAll()
	out := make([]map[string]any, 0, len(all))
	for _, card := range all {
		out = append(out, map[string]any{
			"id":           card.Name,
			"name":         card.Name,
			"url":          card.URL,
			"discoveryUrl": cards.JoinURL(discoveryBase(r), "discovery/agents/"+card.Name),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(out),
		"agents": out,
	})
}

func discoveryBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host
}
