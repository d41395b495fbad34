package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/hyvve/agentmesh/internal/api/handlers"
	"github.com/hyvve/agentmesh/internal/api/middleware"
	"github.com/hyvve/agentmesh/internal/config"
	"github.com/hyvve/agentmesh/pkg/contracts"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the HTTP router for the three protocol surfaces: AAP
// (per-agent JSON-RPC), UIP (per-agent SSE stream), and discovery
// (global/per-agent/listing). Middleware chain and CORS handling are
// carried from the teacher's router, with the tenant header and
// recipe/kitchen/RAG/MCP route trees dropped.
func NewRouter(cfg *config.Config, h *handlers.Handlers, authChain contracts.AuthProviderChain) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Compress(5))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	if authChain != nil {
		authMW := middleware.NewAuthMiddleware(authChain)
		r.Use(authMW.Handler)
	}

	corsOrigins := parseCORSOrigins()
	isWildcard := len(corsOrigins) == 1 && corsOrigins[0] == "*"
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-API-Key", "X-Service-Token"},
		ExposedHeaders:   []string{"X-Request-Id", "X-Trace-Id"},
		AllowCredentials: !isWildcard,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	// AAP — JSON-RPC 2.0 "sendTask" per hosted agent.
	r.Post("/aap/{agentName}", h.AAPEndpoint)

	// UIP — SSE run stream per gateway-exposed agent.
	r.Post("/uip/{agentName}", h.UIPEndpoint)

	// Discovery — global manifest dump, per-agent card, lightweight listing.
	r.Route("/discovery", func(r chi.Router) {
		r.Get("/", h.DiscoveryGlobal)
		r.Get("/agents", h.DiscoveryList)
		r.Get("/agents/{agentName}", h.DiscoveryAgent)
	})

	return r
}

func parseCORSOrigins() []string {
	originsEnv := os.Getenv("AGENTMESH_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}

	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "agentmesh",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "agentmesh",
		})
	}
}
