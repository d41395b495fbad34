package dashboard

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Emitter owns a DashboardState and coalesces mutations into debounced or
// immediate callback invocations.
type Emitter struct {
	mu    sync.Mutex
	state DashboardState

	callback Callback
	debounce time.Duration
	timer    *time.Timer

	// emitMu serializes callback invocation: it is held across the call
	// itself (not just the snapshot read), so a debounce timer firing
	// concurrently with an immediate emit can never run the callback twice
	// at once.
	emitMu sync.Mutex

	maxActivities  int
	maxAlerts      int
	maxActiveTasks int
}

// New constructs an Emitter. debounce is the UPDATE_DEBOUNCE_MS window.
func New(callback Callback, debounce time.Duration, maxActivities, maxAlerts, maxActiveTasks int) *Emitter {
	if maxActivities <= 0 {
		maxActivities = DefaultMaxActivities
	}
	if maxAlerts <= 0 {
		maxAlerts = DefaultMaxAlerts
	}
	if maxActiveTasks <= 0 {
		maxActiveTasks = DefaultMaxActiveTasks
	}
	return &Emitter{
		state:          newState(),
		callback:       callback,
		debounce:       debounce,
		maxActivities:  maxActivities,
		maxAlerts:      maxAlerts,
		maxActiveTasks: maxActiveTasks,
	}
}

// scheduleEmitLocked coalesces rapid updates: if no timer is pending, start one
// for the debounce window; further calls within the window are no-ops
// beyond the state mutation the caller already applied. Must be called
// with mu held.
func (e *Emitter) scheduleEmitLocked() {
	if e.timer != nil {
		return
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		e.mu.Lock()
		e.timer = nil
		e.state.TimestampMs = nowMs()
		snapshot := e.state.ToMap()
		cb := e.callback
		e.mu.Unlock()
		e.invokeCallback(cb, snapshot)
	})
}

// emitNowLocked cancels any pending timer and invokes the callback
// synchronously. Must be called with mu held; releases mu before invoking
// the callback to avoid holding the state lock during caller-supplied
// code, but serializes the invocation itself through emitMu so it can
// never overlap a concurrent emit.
func (e *Emitter) emitNowLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.state.TimestampMs = nowMs()
	snapshot := e.state.ToMap()
	cb := e.callback
	e.mu.Unlock()
	e.invokeCallback(cb, snapshot)
	e.mu.Lock()
}

// invokeCallback holds emitMu across the callback call so no two
// invocations, whether from a debounce timer or an immediate emit, ever
// run concurrently.
func (e *Emitter) invokeCallback(cb Callback, snapshot map[string]any) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	cb(snapshot)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// SetLoading immediately emits. started_at is set on the true transition
// and cleared on the false transition.
func (e *Emitter) SetLoading(isLoading bool, agents []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	wasLoading := e.state.Loading.IsLoading
	e.state.Loading.IsLoading = isLoading
	e.state.Loading.LoadingAgents = agents
	if isLoading && !wasLoading {
		now := time.Now()
		e.state.Loading.StartedAt = &now
	} else if !isLoading {
		e.state.Loading.StartedAt = nil
	}
	e.emitNowLocked()
}

// SetError records an error for agent (debounced). An empty msg clears
// that agent's error.
func (e *Emitter) SetError(agent, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if msg == "" {
		delete(e.state.Errors, agent)
	} else {
		e.state.Errors[agent] = msg
	}
	e.scheduleEmitLocked()
}

// ClearErrors removes every recorded error (debounced).
func (e *Emitter) ClearErrors() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Errors = make(map[string]string)
	e.scheduleEmitLocked()
}

// SetActiveProject sets the active project id (debounced).
func (e *Emitter) SetActiveProject(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.ActiveProject = &id
	e.scheduleEmitLocked()
}

// SetProjectStatus replaces the project_status widget (debounced).
func (e *Emitter) SetProjectStatus(status ProjectStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Widgets.ProjectStatus = &status
	e.scheduleEmitLocked()
}

// SetMetrics replaces the metrics widget (debounced).
func (e *Emitter) SetMetrics(metrics Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Widgets.Metrics = &metrics
	e.scheduleEmitLocked()
}

// SetActivity replaces the activity widget, truncating to maxActivities
// and setting has_more when truncation occurred (debounced).
func (e *Emitter) SetActivity(items []ActivityItem) {
	e.mu.Lock()
	defer e.mu.Unlock()

	hasMore := false
	if len(items) > e.maxActivities {
		items = items[:e.maxActivities]
		hasMore = true
	}
	e.state.Widgets.Activity = &Activity{Items: items, HasMore: hasMore}
	e.scheduleEmitLocked()
}

// AddAlert prepends a new alert (newest first), truncating to maxAlerts —
// the tail is dropped, never the head — and returns the alert's id.
func (e *Emitter) AddAlert(alertType, title, message, id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id == "" {
		id = randomID()
	}
	alert := Alert{ID: id, Type: alertType, Title: title, Message: message, CreatedAt: time.Now()}
	e.state.Widgets.Alerts = append([]Alert{alert}, e.state.Widgets.Alerts...)
	if len(e.state.Widgets.Alerts) > e.maxAlerts {
		e.state.Widgets.Alerts = e.state.Widgets.Alerts[:e.maxAlerts]
	}
	e.scheduleEmitLocked()
	return id
}

// DismissAlert marks id dismissed without removing it (debounced, since
// the spec does not call this one out as immediate).
func (e *Emitter) DismissAlert(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.state.Widgets.Alerts {
		if e.state.Widgets.Alerts[i].ID == id {
			e.state.Widgets.Alerts[i].Dismissed = true
			break
		}
	}
	e.scheduleEmitLocked()
}

// ClearAlerts removes every alert.
func (e *Emitter) ClearAlerts() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Widgets.Alerts = nil
	e.scheduleEmitLocked()
}

// StartTask adds a new active task, immediate emit. Excess starts beyond
// maxActiveTasks are dropped with a warning rather than evicting an
// existing entry.
func (e *Emitter) StartTask(id, name string) {
	e.mu.Lock()

	if len(e.state.ActiveTasks) >= e.maxActiveTasks {
		warnDropped("task_start", "max_active_tasks exceeded")
		e.mu.Unlock()
		return
	}

	e.state.ActiveTasks = append(e.state.ActiveTasks, ActiveTask{ID: id, Name: name, State: "RUNNING"})
	e.emitNowLocked()
	e.mu.Unlock()
}

// UpdateTaskStep sets progress for an in-flight task (debounced), clamping
// progress into [0, 100].
func (e *Emitter) UpdateTaskStep(id string, progress int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	progress = clampProgress(progress)
	for i := range e.state.ActiveTasks {
		if e.state.ActiveTasks[i].ID == id {
			e.state.ActiveTasks[i].Progress = progress
			break
		}
	}
	e.scheduleEmitLocked()
}

// CompleteTask, FailTask, and CancelTaskDisplay remove a task from the
// active set with an immediate emit; the terminal state is not recorded in
// the snapshot.

func (e *Emitter) CompleteTask(id string) { e.finishTask(id, "COMPLETED") }
func (e *Emitter) FailTask(id string)     { e.finishTask(id, "FAILED") }
func (e *Emitter) CancelTaskDisplay(id string) { e.finishTask(id, "CANCELLED") }

func (e *Emitter) finishTask(id, state string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeTaskLocked(id)
	e.emitNowLocked()
}

// RemoveTask drops id from the active set without a terminal-state
// assumption (immediate emit).
func (e *Emitter) RemoveTask(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeTaskLocked(id)
	e.emitNowLocked()
}

func (e *Emitter) removeTaskLocked(id string) {
	out := e.state.ActiveTasks[:0]
	for _, t := range e.state.ActiveTasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	e.state.ActiveTasks = out
}

func randomID() string {
	return uuid.NewString()
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Snapshot returns the current state for inspection (e.g. tests).
func (e *Emitter) Snapshot() DashboardState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SetCallback swaps the UIP writer callback. Safe to call after
// construction, e.g. once a host binary has a transport ready to receive
// snapshots.
func (e *Emitter) SetCallback(callback Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callback = callback
}
