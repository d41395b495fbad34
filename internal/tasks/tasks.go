// Package tasks executes named sequences of steps with uniform timeout,
// retry, and cooperative-cancellation semantics, bounded by a concurrency
// semaphore. Grounded on the teacher's internal/workflow/engine.go
// executeStep (per-step timeout + retry loop) and ExecuteRecipe/CancelRun
// run-lifecycle bookkeeping, generalized from a dependency-DAG of recipe
// steps to a flat ordered step list, since the spec describes linear
// multi-step tasks rather than branching workflows.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

// State is a task's lifecycle state.
type State string

const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
	StateTimeout   State = "TIMEOUT"
)

// DefaultStepTimeout is used when a Step does not specify its own timeout.
const DefaultStepTimeout = 30 * time.Second

// MaxConcurrentTasks bounds the number of tasks executing at once.
const MaxConcurrentTasks = 100

// Handler is a single step's work function. It receives the previous
// step's result value and the task's shared context.
type Handler func(ctx context.Context, previous any, taskContext map[string]any) (any, error)

// Step describes one unit of work within a task.
type Step struct {
	Name    string
	Handler Handler
	Timeout time.Duration
	Retries int
}

// StepResult records one step's outcome.
type StepResult struct {
	Name       string `json:"name"`
	State      State  `json:"state"`
	Value      any    `json:"value,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// TaskResult is what wait_for_task returns.
type TaskResult struct {
	State       State        `json:"state"`
	Value       any          `json:"value,omitempty"`
	Error       string       `json:"error,omitempty"`
	DurationMs  int64        `json:"duration_ms"`
	StepResults []StepResult `json:"step_results"`
}

// Observer receives immediate progress notifications as a task transitions.
// Implemented by the dashboard's state emitter; nil-safe via NoopObserver.
type Observer interface {
	TaskStarted(taskID, name string)
	TaskStepTransitioned(taskID, stepName string, state State, progressPct int)
	TaskFinished(taskID string, result TaskResult)
}

// NoopObserver discards every notification.
type NoopObserver struct{}

func (NoopObserver) TaskStarted(string, string)                       {}
func (NoopObserver) TaskStepTransitioned(string, string, State, int) {}
func (NoopObserver) TaskFinished(string, TaskResult)                 {}

type task struct {
	id             string
	name           string
	steps          []Step
	taskContext    map[string]any
	overallTimeout time.Duration

	mu              sync.Mutex
	state           State
	stepRes         []StepResult
	value           any
	errMsg          string
	cancelRequested bool
	createdAt       time.Time
	startedAt       time.Time
	endedAt         time.Time

	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns the set of in-flight and completed tasks.
type Manager struct {
	sem      *semaphore.Weighted
	observer Observer

	mu    sync.RWMutex
	tasks map[string]*task
}

// New constructs a Manager with maxConcurrent in-flight tasks. observer may
// be nil, in which case progress notifications are discarded.
func New(maxConcurrent int, observer Observer) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = MaxConcurrentTasks
	}
	if observer == nil {
		observer = NoopObserver{}
	}
	return &Manager{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		observer: observer,
		tasks:    make(map[string]*task),
	}
}

// SubmitTask creates a task in PENDING, enqueues it, and returns its ID
// immediately. Execution proceeds in the background once a concurrency
// slot is available.
func (m *Manager) SubmitTask(name string, steps []Step, taskContext map[string]any, overallTimeout time.Duration) string {
	id := uuid.NewString()
	t := &task{
		id:             id,
		name:           name,
		steps:          steps,
		taskContext:    taskContext,
		overallTimeout: overallTimeout,
		state:          StatePending,
		createdAt:      time.Now(),
		done:           make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[id] = t
	m.mu.Unlock()

	go m.run(t)
	return id
}

func (m *Manager) run(t *task) {
	ctx := context.Background()

	// A cancel landing before the semaphore is acquired has nowhere to
	// record itself other than this flag: t.cancel does not exist yet.
	if t.isCancelRequestedLocked() {
		m.finish(t, StateCancelled, nil, "")
		return
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.finish(t, StateFailed, nil, err.Error())
		return
	}
	defer m.sem.Release(1)

	// A second check: a cancel may have landed while queued behind the
	// semaphore, in the same cancel-func-less window as above.
	if t.isCancelRequestedLocked() {
		m.finish(t, StateCancelled, nil, "")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	if t.overallTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.overallTimeout)
	}

	t.mu.Lock()
	t.cancel = cancel
	t.state = StateRunning
	t.startedAt = time.Now()
	t.mu.Unlock()
	defer cancel()

	m.observer.TaskStarted(t.id, t.name)

	var previous any
	for i, step := range t.steps {
		select {
		case <-runCtx.Done():
			m.finishFromCtx(t, runCtx)
			return
		default:
		}
		if t.isCancelRequestedLocked() {
			m.finish(t, StateCancelled, nil, "")
			return
		}

		result := m.runStep(runCtx, t, step, previous, i)
		t.mu.Lock()
		t.stepRes = append(t.stepRes, result)
		t.mu.Unlock()

		if result.State == StatePending {
			m.finish(t, StateCancelled, nil, "")
			return
		}
		if result.State == StateTimeout {
			m.finish(t, StateTimeout, nil, result.Error)
			return
		}
		if result.State == StateFailed {
			m.finish(t, StateFailed, nil, result.Error)
			return
		}

		previous = result.Value
	}

	m.finish(t, StateCompleted, previous, "")
}

func (m *Manager) runStep(ctx context.Context, t *task, step Step, previous any, index int) StepResult {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = DefaultStepTimeout
	}

	var lastErr error
	lastTimedOut := false
	start := time.Now()
	for attempt := 0; attempt <= step.Retries; attempt++ {
		select {
		case <-ctx.Done():
			return StepResult{Name: step.Name, State: cancelOrTimeoutState(ctx), DurationMs: time.Since(start).Milliseconds()}
		default:
		}

		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		value, err := step.Handler(stepCtx, previous, t.taskContext)
		cancel()

		if err == nil {
			m.observer.TaskStepTransitioned(t.id, step.Name, StateCompleted, progressPct(index+1, len(t.steps)))
			return StepResult{Name: step.Name, State: StateCompleted, Value: value, DurationMs: time.Since(start).Milliseconds()}
		}

		// The task's own context ended (cancel or overall timeout) while the
		// step ran: report that, not a step failure.
		if ctx.Err() != nil {
			return StepResult{Name: step.Name, State: cancelOrTimeoutState(ctx), DurationMs: time.Since(start).Milliseconds()}
		}

		lastErr = err
		lastTimedOut = stepCtx.Err() == context.DeadlineExceeded
		if lastTimedOut {
			log.Warn().Str("task", t.id).Str("step", step.Name).Int("attempt", attempt).Msg("tasks: step timed out")
		}
	}

	state := StateFailed
	if lastTimedOut {
		state = StateTimeout
	}
	m.observer.TaskStepTransitioned(t.id, step.Name, state, progressPct(index, len(t.steps)))
	return StepResult{Name: step.Name, State: state, Error: lastErr.Error(), DurationMs: time.Since(start).Milliseconds()}
}

// cancelOrTimeoutState reports the in-flight step's terminal state when its
// context ends early. A cancellation leaves the step PENDING rather than
// CANCELLED or FAILED, since the step itself never ran to a conclusion.
func cancelOrTimeoutState(ctx context.Context) State {
	if ctx.Err() == context.DeadlineExceeded {
		return StateTimeout
	}
	return StatePending
}

func progressPct(done, total int) int {
	if total == 0 {
		return 100
	}
	pct := done * 100 / total
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func (m *Manager) finishFromCtx(t *task, ctx context.Context) {
	if ctx.Err() == context.DeadlineExceeded {
		m.finish(t, StateTimeout, nil, "overall timeout exceeded")
		return
	}
	m.finish(t, StateCancelled, nil, "")
}

func (m *Manager) finish(t *task, state State, value any, errMsg string) {
	t.mu.Lock()
	t.state = state
	t.value = value
	t.errMsg = errMsg
	t.endedAt = time.Now()
	result := t.toResultLocked()
	t.mu.Unlock()

	close(t.done)
	m.observer.TaskFinished(t.id, result)
}

func (t *task) toResultLocked() TaskResult {
	duration := t.endedAt.Sub(t.startedAt).Milliseconds()
	if t.startedAt.IsZero() {
		duration = 0
	}
	return TaskResult{
		State:       t.state,
		Value:       t.value,
		Error:       t.errMsg,
		DurationMs:  duration,
		StepResults: append([]StepResult(nil), t.stepRes...),
	}
}

// WaitForTask blocks until taskID reaches a terminal state (or ctx is
// cancelled) and returns its result.
func (m *Manager) WaitForTask(ctx context.Context, taskID string) (TaskResult, error) {
	m.mu.RLock()
	t, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return TaskResult{}, fmt.Errorf("unknown task %q", taskID)
	}

	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.toResultLocked(), nil
	case <-ctx.Done():
		return TaskResult{}, ctx.Err()
	}
}

// isCancelRequestedLocked reports whether the task has a pending cancel,
// acquiring t.mu internally.
func (t *task) isCancelRequestedLocked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelRequested
}

// CancelTask records cancellation intent on the task and, if it has
// already started, cancels its run context. cancelRequested is set first
// and independent of t.cancel, which is only assigned once run() has
// acquired a concurrency slot — a task cancelled while still queued (or
// before its first step starts) is caught by run()'s own checks of this
// flag, terminating CANCELLED with no step ever invoked. Returns false
// only if the task is unknown or already terminal.
func (m *Manager) CancelTask(taskID string) bool {
	m.mu.RLock()
	t, ok := m.tasks[taskID]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	t.mu.Lock()
	if isTerminal(t.state) {
		t.mu.Unlock()
		return false
	}
	t.cancelRequested = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return true
}

// CleanupCompleted removes terminal tasks older than maxAge and returns
// the count removed.
func (m *Manager) CleanupCompleted(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		t.mu.Lock()
		terminal := isTerminal(t.state)
		endedAt := t.endedAt
		t.mu.Unlock()

		if terminal && endedAt.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

func isTerminal(s State) bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimeout:
		return true
	default:
		return false
	}
}
