// Package server provides the public entry point for initializing the
// agent mesh runtime: the registry, AAP client, discovery loop, router,
// HITL engine, task manager, dashboard emitter, and the HTTP surface that
// fronts them. It lives in pkg/ (not internal/) so a host binary outside
// this module can embed the runtime directly.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hyvve/agentmesh/internal/aapclient"
	"github.com/hyvve/agentmesh/internal/api"
	"github.com/hyvve/agentmesh/internal/api/handlers"
	meshauth "github.com/hyvve/agentmesh/internal/auth"
	"github.com/hyvve/agentmesh/internal/config"
	"github.com/hyvve/agentmesh/internal/dashboard"
	"github.com/hyvve/agentmesh/internal/discovery"
	"github.com/hyvve/agentmesh/internal/hitl"
	"github.com/hyvve/agentmesh/internal/mesh"
	"github.com/hyvve/agentmesh/internal/router"
	"github.com/hyvve/agentmesh/internal/sessions"
	"github.com/hyvve/agentmesh/internal/tasks"
	"github.com/hyvve/agentmesh/internal/telemetry"
	"github.com/hyvve/agentmesh/internal/uipgw"

	"github.com/rs/zerolog/log"
)

// AAPProtocolVersion and UIPProtocolVersion are the defaults from the
// constants table. The AAP version is reported as protocolVersion in the
// global discovery response; the UIP version is passed to the handlers but
// no frame carries it.
const (
	AAPProtocolVersion = "0.3.0"
	UIPProtocolVersion = "0.1.0"
)

// Config is the public configuration for the runtime server.
type Config struct {
	Port         int
	Version      string
	OTELEnabled  bool
	OTELEndpoint string
	ServiceName  string
}

// Server holds every initialized runtime component, exposed so a host
// binary can reach into the mesh directly (e.g. to register a locally
// hosted agent) rather than only through the HTTP surface.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Registry is the in-memory agent card directory (C1).
	Registry *mesh.Registry

	// AAPClient sends JSON-RPC calls to agent endpoints (C2).
	AAPClient *aapclient.Client

	// Discovery scans configured agent URLs and tracks their health (C3).
	Discovery *discovery.Discovery

	// Router selects and dispatches to candidate agents (C4).
	Router *router.Router

	// HITL is the confidence-tiered approval engine (C5).
	HITL *hitl.Engine

	// Tasks runs multi-step agent actions with per-step timeout/retry (C6).
	Tasks *tasks.Manager

	// Dashboard owns the single DashboardState and emits snapshots (C7).
	Dashboard *dashboard.Emitter

	// Handlers is the HTTP handler collection (C8); exposed so a host
	// binary can call RegisterAgent to expose a local agent over AAP/UIP.
	Handlers *handlers.Handlers

	// AuthChain is the pluggable authentication provider chain.
	AuthChain *meshauth.ProviderChain

	// Config is the server configuration.
	Config *Config

	// Port is the port the server should listen on.
	Port int

	discoveryCancel context.CancelFunc
	shutdownFunc    func(context.Context) error
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() *Config {
	cfg := config.Load()
	return &Config{
		Port:         cfg.Port,
		Version:      cfg.Version,
		OTELEnabled:  cfg.Telemetry.Enabled,
		OTELEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  cfg.Telemetry.ServiceName,
	}
}

// New initializes all runtime components and returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, LoadConfig())
}

// NewWithConfig initializes the runtime from the environment configuration,
// with pubCfg.Port (when positive) overriding the port. The other pubCfg
// fields are stored on the Server but not applied.
func NewWithConfig(ctx context.Context, pubCfg *Config) (*Server, error) {
	cfg := config.Load()
	if pubCfg.Port > 0 {
		cfg.Port = pubCfg.Port
	}

	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	return buildServer(ctx, cfg, pubCfg, shutdown)
}

func buildServer(ctx context.Context, cfg *config.Config, pubCfg *Config, shutdown func(context.Context) error) (*Server, error) {
	registry := mesh.New()
	log.Info().Msg("registry initialized")

	aapClient := aapclient.New(registry)
	log.Info().Msg("aap client initialized")

	disco := discovery.New(registry, cfg.Discovery.AgentURLs, time.Duration(cfg.Discovery.ScanIntervalSeconds)*time.Second, cfg.Discovery.AutoRegister)
	discoCtx, discoCancel := context.WithCancel(context.Background())
	disco.Start(discoCtx)
	log.Info().Int("agent_urls", len(cfg.Discovery.AgentURLs)).Msg("discovery loop started")

	rtr := router.New(registry, aapClient, disco)
	log.Info().Msg("router initialized")

	approvalStore := hitl.NewMemoryApprovalStore()
	hitlEngine := hitl.New(approvalStore, time.Duration(cfg.HITL.ApprovalResultTTLSeconds)*time.Second, 0)
	hitlEngine.StartOrphanSweep(cfg.HITL.OrphanSweepInterval)
	log.Info().Msg("hitl engine initialized")

	runStore := sessions.NewStore()
	gateway := uipgw.NewGateway()

	// The UIP writer callback is an external collaborator per the wire
	// contract: the core only guarantees it is invoked off the emission
	// thread and never blocked on. The default here logs at debug level;
	// a host wires dashboard.Emitter.SetCallback to its own transport
	// (e.g. fan out to every subscriber of the gateway agent's UIP stream).
	emitter := dashboard.New(defaultDashboardCallback, time.Duration(cfg.Dashboard.UpdateDebounceMs)*time.Millisecond, cfg.Dashboard.MaxActivities, cfg.Dashboard.MaxAlerts, cfg.Dashboard.MaxActiveTasks)
	log.Info().Msg("dashboard emitter initialized")

	taskMgr := tasks.New(cfg.Tasks.MaxConcurrentTasks, &dashboardTaskObserver{emitter: emitter})
	log.Info().Msg("task manager initialized")

	authChain := meshauth.NewProviderChain()
	apiKeyProvider := meshauth.NewAPIKeyProvider()
	if apiKeyProvider.Enabled() {
		authChain.RegisterProvider(apiKeyProvider)
	}
	svcAcctProvider := meshauth.NewServiceAccountProvider()
	if svcAcctProvider.Enabled() {
		authChain.RegisterProvider(svcAcctProvider)
	}

	h := handlers.New(registry, rtr, taskMgr, hitlEngine, emitter, runStore, gateway, AAPProtocolVersion, UIPProtocolVersion)

	httpRouter := api.NewRouter(cfg, h, authChain)

	return &Server{
		Handler:         httpRouter,
		Registry:        registry,
		AAPClient:       aapClient,
		Discovery:       disco,
		Router:          rtr,
		HITL:            hitlEngine,
		Tasks:           taskMgr,
		Dashboard:       emitter,
		Handlers:        h,
		AuthChain:       authChain,
		Config:          pubCfg,
		Port:            cfg.Port,
		discoveryCancel: discoCancel,
		shutdownFunc:    shutdown,
	}, nil
}

func defaultDashboardCallback(snapshot map[string]any) {
	log.Debug().Interface("snapshot", snapshot).Msg("dashboard: state emitted, no transport wired")
}

// dashboardTaskObserver bridges the Task Manager's lifecycle callbacks onto
// the dashboard's active-tasks widget, so a submitted task shows up on the
// UIP stream without every caller having to mirror state manually.
type dashboardTaskObserver struct {
	emitter *dashboard.Emitter
}

func (o *dashboardTaskObserver) TaskStarted(taskID, name string) {
	o.emitter.StartTask(taskID, name)
}

func (o *dashboardTaskObserver) TaskStepTransitioned(taskID, stepName string, state tasks.State, progressPct int) {
	o.emitter.UpdateTaskStep(taskID, progressPct)
}

func (o *dashboardTaskObserver) TaskFinished(taskID string, result tasks.TaskResult) {
	switch result.State {
	case tasks.StateCompleted:
		o.emitter.CompleteTask(taskID)
	case tasks.StateCancelled:
		o.emitter.CancelTaskDisplay(taskID)
	default:
		o.emitter.FailTask(taskID)
	}
}

// Shutdown stops all background goroutines (discovery scan loop, HITL
// orphan sweep) and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.discoveryCancel != nil {
		s.discoveryCancel()
	}
	if s.Discovery != nil {
		s.Discovery.Stop()
	}
	if s.HITL != nil {
		s.HITL.Stop()
	}
	if s.shutdownFunc != nil {
		return s.shutdownFunc(ctx)
	}
	return nil
}
