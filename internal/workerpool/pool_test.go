package workerpool

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jihwankim/irrig-core/internal/memtier"
	"github.com/jihwankim/irrig-core/internal/priority"
	"github.com/jihwankim/irrig-core/internal/queue"
)

type countingWatchdog struct{ fed int32 }

func (w *countingWatchdog) Feed(string) { atomic.AddInt32(&w.fed, 1) }

func newTestPool(t *testing.T) (*Pool, *queue.Set, *priority.Manager) {
	t.Helper()
	qs := queue.NewSet(queue.DefaultCapacities())
	pri := priority.New(priority.Config{}, nil)
	alloc := memtier.New(1<<20, 1<<20, nil)
	pool := New(Config{}, qs, pri, alloc, &countingWatchdog{}, nil)
	return pool, qs, pri
}

func TestPoolDispatchesRequestToHandler(t *testing.T) {
	pool, qs, _ := newTestPool(t)
	pool.Start()
	defer pool.Stop()

	var called int32
	done := make(chan struct{})
	req := queue.NewRequest("GET", "/api/status", priority.UiCritical, time.Now().UnixMicro(), 5000)
	req.Dispatch = func(r *queue.Request) { atomic.AddInt32(&called, 1) }
	req.Respond = func(r *queue.Request, err error) { close(done) }

	if err := qs.Enqueue(req); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for request to be processed")
	}

	if atomic.LoadInt32(&called) != 1 {
		t.Fatal("expected handler to be invoked exactly once")
	}
}

func TestPoolRecoversFromHandlerPanic(t *testing.T) {
	pool, qs, _ := newTestPool(t)
	pool.Start()
	defer pool.Stop()

	done := make(chan error, 1)
	req := queue.NewRequest("GET", "/api/status", priority.Normal, time.Now().UnixMicro(), 5000)
	req.Dispatch = func(r *queue.Request) { panic("boom") }
	req.Respond = func(r *queue.Request, err error) { done <- err }

	if err := qs.Enqueue(req); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error to be surfaced after a handler panic")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for panicking request to be processed")
	}
}

func TestPoolSkipsDispatchForRequestExpiredBeforeDequeue(t *testing.T) {
	pool, qs, pri := newTestPool(t)
	pool.Start()
	defer pool.Stop()

	var dispatched int32
	done := make(chan error, 1)
	// Backdate EnqueueUs so the request is already expired by the time a
	// worker picks it up, even though no 30s health-check tick has run.
	req := queue.NewRequest("GET", "/api/status", priority.Normal, time.Now().Add(-time.Hour).UnixMicro(), 1)
	req.Dispatch = func(r *queue.Request) { atomic.AddInt32(&dispatched, 1) }
	req.Respond = func(r *queue.Request, err error) { done <- err }

	if err := qs.Enqueue(req); err != nil {
		t.Fatalf("unexpected enqueue error: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected a timeout error for a request expired before dispatch")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for expired request to be reaped")
	}

	if atomic.LoadInt32(&dispatched) != 0 {
		t.Fatal("expected Dispatch to never be called for an already-expired request")
	}
	if pri.Stats(qs).TimedOut == 0 {
		t.Fatal("expected pre-dispatch expiry to be recorded as a timeout")
	}
}

func TestPoolRoutesByPriorityBand(t *testing.T) {
	pool, qs, _ := newTestPool(t)
	pool.Start()
	defer pool.Stop()

	done := make(chan priority.Priority, 1)
	req := queue.NewRequest("POST", "/api/emergency-stop", priority.Emergency, time.Now().UnixMicro(), 5000)
	req.Dispatch = func(r *queue.Request) {}
	req.Respond = func(r *queue.Request, err error) { done <- r.Priority }

	qs.Enqueue(req)

	select {
	case got := <-done:
		if got != priority.Emergency {
			t.Fatalf("expected Emergency request handled, got %s", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out: emergency request was not picked up by the critical worker")
	}
}
