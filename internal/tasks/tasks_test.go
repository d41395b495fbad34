package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoStep(name string) Step {
	return Step{
		Name: name,
		Handler: func(ctx context.Context, previous any, taskContext map[string]any) (any, error) {
			return name, nil
		},
	}
}

func TestSubmitTaskRunsStepsInOrderAndCompletes(t *testing.T) {
	m := New(4, nil)
	id := m.SubmitTask("greet", []Step{echoStep("a"), echoStep("b")}, nil, 0)

	result, err := m.WaitForTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	require.Len(t, result.StepResults, 2)
	assert.Equal(t, "b", result.Value)
}

func TestStepFailureExhaustsRetriesThenFailsTask(t *testing.T) {
	attempts := 0
	failing := Step{
		Name:    "flaky",
		Retries: 2,
		Handler: func(ctx context.Context, previous any, taskContext map[string]any) (any, error) {
			attempts++
			return nil, errors.New("boom")
		},
	}

	m := New(4, nil)
	id := m.SubmitTask("t", []Step{failing}, nil, 0)
	result, err := m.WaitForTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 3, attempts) // 1 initial + 2 retries
}

func TestStepTimeoutFailsTaskWithTimeoutState(t *testing.T) {
	slow := Step{
		Name:    "slow",
		Timeout: 20 * time.Millisecond,
		Handler: func(ctx context.Context, previous any, taskContext map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	m := New(4, nil)
	id := m.SubmitTask("t", []Step{slow}, nil, 0)
	result, err := m.WaitForTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateTimeout, result.State)
}

func TestCancelTaskStopsFurtherStepsAndYieldsCancelled(t *testing.T) {
	started := make(chan struct{})
	blocking := Step{
		Name: "block",
		Handler: func(ctx context.Context, previous any, taskContext map[string]any) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	m := New(4, nil)
	id := m.SubmitTask("t", []Step{blocking, echoStep("never")}, nil, 0)

	<-started
	assert.True(t, m.CancelTask(id))

	result, err := m.WaitForTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, result.State)
	assert.Len(t, result.StepResults, 1)
}

// Cancelling a task while it is queued behind the semaphore (here: a
// manager with one slot, held by a blocking task) must still terminate
// CANCELLED with no step ever run.
func TestCancelTaskBeforeFirstStepStartsRunsNoSteps(t *testing.T) {
	ran := false
	step := Step{
		Name: "should-not-run",
		Handler: func(ctx context.Context, previous any, taskContext map[string]any) (any, error) {
			ran = true
			return nil, nil
		},
	}

	m := New(1, nil)
	// Occupy the only slot with a task that blocks until released.
	release := make(chan struct{})
	blockerStarted := make(chan struct{})
	blocker := Step{
		Name: "blocker",
		Handler: func(ctx context.Context, previous any, taskContext map[string]any) (any, error) {
			close(blockerStarted)
			<-release
			return nil, nil
		},
	}
	m.SubmitTask("blocker", []Step{blocker}, nil, 0)
	<-blockerStarted

	id := m.SubmitTask("queued", []Step{step}, nil, 0)
	require.True(t, m.CancelTask(id))
	close(release)

	result, err := m.WaitForTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, result.State)
	assert.Empty(t, result.StepResults)
	assert.False(t, ran, "a task cancelled before its first step starts must not run any step")
}

func TestCancelTaskOnAlreadyTerminalTaskReturnsFalse(t *testing.T) {
	m := New(4, nil)
	id := m.SubmitTask("t", []Step{echoStep("a")}, nil, 0)
	_, err := m.WaitForTask(context.Background(), id)
	require.NoError(t, err)

	assert.False(t, m.CancelTask(id))
}

func TestOverallTimeoutCapsTotalStepTime(t *testing.T) {
	slow := Step{
		Name: "slow",
		Handler: func(ctx context.Context, previous any, taskContext map[string]any) (any, error) {
			select {
			case <-time.After(500 * time.Millisecond):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	m := New(4, nil)
	id := m.SubmitTask("t", []Step{slow}, nil, 30*time.Millisecond)
	result, err := m.WaitForTask(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateTimeout, result.State)
}

func TestCleanupCompletedRemovesOldTerminalTasks(t *testing.T) {
	m := New(4, nil)
	id := m.SubmitTask("t", []Step{echoStep("a")}, nil, 0)
	_, err := m.WaitForTask(context.Background(), id)
	require.NoError(t, err)

	removed := m.CleanupCompleted(-time.Second) // everything is "older" than a negative cutoff window
	assert.Equal(t, 1, removed)
}

func TestConcurrencyIsBoundedBySemaphore(t *testing.T) {
	const limit = 2
	running := make(chan struct{}, 10)
	release := make(chan struct{})

	m := New(limit, nil)
	blocking := func() Step {
		return Step{
			Name: "hold",
			Handler: func(ctx context.Context, previous any, taskContext map[string]any) (any, error) {
				running <- struct{}{}
				<-release
				return nil, nil
			},
		}
	}

	for i := 0; i < 5; i++ {
		m.SubmitTask("t", []Step{blocking()}, nil, 0)
	}

	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, len(running), limit)
	close(release)
}
