// Package config loads runtime configuration for the agent mesh from
// environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the agent mesh runtime.
type Config struct {
	Port      int
	Version   string
	Discovery DiscoveryConfig
	HITL      HITLConfig
	Tasks     TasksConfig
	Dashboard DashboardConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
}

type DiscoveryConfig struct {
	ScanIntervalSeconds     int
	HealthCheckTimeoutSecs  int
	HealthCheckIntervalSecs int
	AgentURLs               []string
	AutoRegister            bool
}

type HITLConfig struct {
	ApprovalResultTTLSeconds int
	OrphanSweepInterval      time.Duration
	ApprovalStoreURL         string
}

type TasksConfig struct {
	DefaultStepTimeoutSeconds int
	MaxConcurrentTasks        int
}

type DashboardConfig struct {
	UpdateDebounceMs int
	MaxActiveTasks   int
	MaxActivities    int
	MaxAlerts        int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	APIKeyHeader string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("AGENTMESH_PORT", 8080),
		Version: envStr("AGENTMESH_VERSION", "0.3.0"),
		Discovery: DiscoveryConfig{
			ScanIntervalSeconds:     envInt("AGENTMESH_DISCOVERY_SCAN_INTERVAL_S", 300),
			HealthCheckTimeoutSecs:  envInt("AGENTMESH_HEALTH_CHECK_TIMEOUT_S", 5),
			HealthCheckIntervalSecs: envInt("AGENTMESH_HEALTH_CHECK_INTERVAL_S", 30),
			AgentURLs:               envList("AGENTMESH_AGENT_URLS"),
			AutoRegister:            envBool("AGENTMESH_DISCOVERY_AUTO_REGISTER", true),
		},
		HITL: HITLConfig{
			ApprovalResultTTLSeconds: envInt("AGENTMESH_APPROVAL_RESULT_TTL_S", 3600),
			OrphanSweepInterval:      time.Duration(envInt("AGENTMESH_ORPHAN_SWEEP_INTERVAL_S", 60)) * time.Second,
			ApprovalStoreURL:         envStr("AGENTMESH_APPROVAL_STORE_URL", ""),
		},
		Tasks: TasksConfig{
			DefaultStepTimeoutSeconds: envInt("AGENTMESH_DEFAULT_STEP_TIMEOUT_S", 30),
			MaxConcurrentTasks:        envInt("AGENTMESH_MAX_CONCURRENT_TASKS", 100),
		},
		Dashboard: DashboardConfig{
			UpdateDebounceMs: envInt("AGENTMESH_UPDATE_DEBOUNCE_MS", 150),
			MaxActiveTasks:   envInt("AGENTMESH_MAX_ACTIVE_TASKS", 10),
			MaxActivities:    envInt("AGENTMESH_MAX_ACTIVITIES", 50),
			MaxAlerts:        envInt("AGENTMESH_MAX_ALERTS", 20),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("AGENTMESH_OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "agentmesh"),
		},
		Auth: AuthConfig{
			APIKeyHeader: envStr("AGENTMESH_API_KEY_HEADER", "Authorization"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
