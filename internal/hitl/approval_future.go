package hitl

import (
	"sync"
	"time"
)

// Decision is the terminal outcome of an approval.
type Decision string

const (
	DecisionApproved  Decision = "APPROVED"
	DecisionRejected  Decision = "REJECTED"
	DecisionExpired   Decision = "EXPIRED"
	DecisionCancelled Decision = "CANCELLED"
)

// ApprovalResult is the settled value of an ApprovalFuture.
type ApprovalResult struct {
	Decision   Decision
	DecidedBy  string
	Notes      string
	Timestamp  time.Time
}

// future is a one-shot settable handle: register under lock, await outside
// the lock, settle under lock. This is the generalization of the teacher's
// per-run `gates map[string]chan bool` into a standalone primitive keyed
// by approval id, per spec.md §4.5 and Design Notes §9.
type future struct {
	ch   chan ApprovalResult
	once sync.Once
}

func newFuture() *future {
	return &future{ch: make(chan ApprovalResult, 1)}
}

// settle delivers result to the future exactly once; subsequent calls are
// a no-op (CONFLICT-class double-settle, silently ignored per spec.md §7).
func (f *future) settle(result ApprovalResult) {
	f.once.Do(func() {
		f.ch <- result
	})
}

// futureRegistry owns the set of in-flight futures and the orphan map of
// results that arrived before any waiter registered. ttl bounds how long
// an orphan is retained.
type futureRegistry struct {
	mu       sync.Mutex
	pending  map[string]*future
	orphans  map[string]orphan
	ttl      time.Duration
}

type orphan struct {
	result  ApprovalResult
	expires time.Time
}

func newFutureRegistry(ttl time.Duration) *futureRegistry {
	return &futureRegistry{
		pending: make(map[string]*future),
		orphans: make(map[string]orphan),
		ttl:     ttl,
	}
}

// register creates (or reclaims an orphaned result for) the future keyed
// by id, under a single lock so the "notify arrives first" and "waiter
// registers first" races produce the same settled result either way.
func (r *futureRegistry) register(id string) *future {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := newFuture()
	if o, ok := r.orphans[id]; ok {
		delete(r.orphans, id)
		f.settle(o.result)
		return f
	}
	r.pending[id] = f
	return f
}

// unregister removes the future for id once the waiter is done with it
// (success or timeout), so a later notify for the same id becomes an
// orphan rather than leaking into a stale future.
func (r *futureRegistry) unregister(id string, f *future) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pending[id]; ok && cur == f {
		delete(r.pending, id)
	}
}

// notify settles the pending future for id if one is registered; otherwise
// it records an orphan result with expiration now+ttl.
func (r *futureRegistry) notify(id string, result ApprovalResult) {
	r.mu.Lock()
	f, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	} else {
		r.orphans[id] = orphan{result: result, expires: time.Now().Add(r.ttl)}
	}
	r.mu.Unlock()

	if ok {
		f.settle(result)
	}
}

// sweepOrphans drops expired orphan entries. Intended to run on a ticker
// (once a minute per spec.md §5 resource policy).
func (r *futureRegistry) sweepOrphans(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, o := range r.orphans {
		if now.After(o.expires) {
			delete(r.orphans, id)
			removed++
		}
	}
	return removed
}
