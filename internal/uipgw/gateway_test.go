package uipgw

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublishDelivers(t *testing.T) {
	gw := NewGateway()
	ch := gw.Subscribe("run-1")

	gw.Publish("run-1", map[string]any{"type": "RUN_STARTED"})

	frame := <-ch
	assert.Equal(t, "RUN_STARTED", frame["type"])
}

func TestPublishWithNoSubscriberNeverBlocks(t *testing.T) {
	gw := NewGateway()

	done := make(chan struct{})
	go func() {
		gw.Publish("ghost-run", map[string]any{"type": "RUN_STARTED"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish to an unsubscribed run blocked")
	}
}

func TestPublishDropsOldestOnFullQueue(t *testing.T) {
	gw := NewGateway()
	ch := gw.Subscribe("run-1")

	for i := 0; i < MaxFrameQueue+10; i++ {
		gw.Publish("run-1", map[string]any{"type": "TEXT_MESSAGE_CHUNK", "seq": i})
	}

	require.Len(t, ch, MaxFrameQueue)
	first := <-ch
	assert.NotEqual(t, 0, first["seq"], "oldest frames should have been dropped, not the newest")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	gw := NewGateway()
	ch := gw.Subscribe("run-1")
	gw.Unsubscribe("run-1", ch)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestUnsubscribeIdentityMismatchIsNoop(t *testing.T) {
	gw := NewGateway()
	ch := gw.Subscribe("run-1")
	stale := make(chan map[string]any, 1)

	gw.Unsubscribe("run-1", stale)

	gw.Publish("run-1", map[string]any{"type": "RUN_FINISHED"})
	frame := <-ch
	assert.Equal(t, "RUN_FINISHED", frame["type"])
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	gw := NewGateway()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		runID := "run-" + string(rune('a'+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := gw.Subscribe(runID)
			gw.Publish(runID, map[string]any{"type": "RUN_STARTED", "runId": runID})
			frame := <-ch
			assert.Equal(t, runID, frame["runId"])
			gw.Unsubscribe(runID, ch)
		}()
	}
	wg.Wait()
}

func TestSecondSubscribeReplacesChannel(t *testing.T) {
	gw := NewGateway()
	first := gw.Subscribe("run-1")
	second := gw.Subscribe("run-1")

	gw.Publish("run-1", map[string]any{"type": "RUN_STARTED"})

	select {
	case <-first:
		t.Fatal("replaced channel should not receive new frames")
	default:
	}

	frame := <-second
	assert.Equal(t, "RUN_STARTED", frame["type"])

	gw.Unsubscribe("run-1", first)
	gw.Publish("run-1", map[string]any{"type": "RUN_FINISHED"})
	frame2 := <-second
	assert.Equal(t, "RUN_FINISHED", frame2["type"], "unsubscribe of a stale channel must not affect the active one")
}
