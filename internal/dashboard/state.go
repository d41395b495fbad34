// Package dashboard owns a single versioned DashboardState and coalesces
// rapid mutations into debounced snapshot emissions, using a single timer
// handle and mutex-guarded mutators.
package dashboard

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// Bounds, matching the spec's configured defaults.
const (
	DefaultMaxActivities = 50
	DefaultMaxAlerts     = 20
	DefaultMaxActiveTasks = 10
)

// ProjectStatus summarizes overall project health.
type ProjectStatus struct {
	Status    string    `json:"status"` // "on-track" | "at-risk" | "off-track"
	Summary   string    `json:"summary,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Metrics carries a named set of numeric values plus a trend indicator.
type Metrics struct {
	Values map[string]float64 `json:"values,omitempty"`
	Trend  string              `json:"trend,omitempty"` // "up" | "down" | "flat"
}

// ActivityItem is a single feed entry.
type ActivityItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
}

// Activity is the truncated activity feed plus a truncation flag.
type Activity struct {
	Items   []ActivityItem `json:"items"`
	HasMore bool           `json:"hasMore"`
}

// Alert is a dismissable notice, newest-first in DashboardState.
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Dismissed bool      `json:"dismissed"`
	CreatedAt time.Time `json:"createdAt"`
}

// Widgets groups the dashboard's renderable panes.
type Widgets struct {
	ProjectStatus *ProjectStatus `json:"projectStatus,omitempty"`
	Metrics       *Metrics       `json:"metrics,omitempty"`
	Activity      *Activity      `json:"activity,omitempty"`
	Alerts        []Alert        `json:"alerts"`
}

// Loading tracks in-flight agent calls.
type Loading struct {
	IsLoading     bool       `json:"isLoading"`
	LoadingAgents []string   `json:"loadingAgents,omitempty"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
}

// ActiveTask is a trimmed projection of a Task Manager task for display.
type ActiveTask struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
}

// DashboardState is the single versioned document the emitter owns.
type DashboardState struct {
	Version       int               `json:"version"`
	TimestampMs   int64             `json:"timestampMs"`
	ActiveProject *string           `json:"activeProject,omitempty"`
	WorkspaceID   *string           `json:"workspaceId,omitempty"`
	UserID        *string           `json:"userId,omitempty"`
	Widgets       Widgets           `json:"widgets"`
	Loading       Loading           `json:"loading"`
	Errors        map[string]string `json:"errors"`
	ActiveTasks   []ActiveTask      `json:"activeTasks"`
}

// ToMap serializes state the way the emitter callback expects: camelCase
// keys, nil-valued fields omitted.
func (s DashboardState) ToMap() map[string]any {
	b, _ := json.Marshal(s)
	var out map[string]any
	_ = json.Unmarshal(b, &out)
	return out
}

func newState() DashboardState {
	return DashboardState{
		Version: 1,
		Errors:  make(map[string]string),
	}
}

// Callback receives a fully serialized snapshot.
type Callback func(snapshot map[string]any)

func warnDropped(kind, reason string) {
	log.Warn().Str("kind", kind).Str("reason", reason).Msg("dashboard: mutation dropped")
}
