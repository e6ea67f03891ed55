// Package queue implements the priority queue set of spec.md §4.9 (C9):
// six independent bounded FIFO queues, strict priority across bands, and
// lazy timeout cleanup.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/priority"
)

// Request is one classified unit of work travelling through the pipeline
// (§3/§4.9). The response sink is owned by the request itself: Respond is
// set by the HTTP layer before enqueue and invoked exactly once by the
// worker pool, either after processing or when it finds the request expired.
type Request struct {
	ID           uuid.UUID
	Method       string
	URI          string
	Priority     priority.Priority
	EstimatedMs  int
	RequiresAuth bool
	IsEmergency  bool

	EnqueueUs        int64
	TimeoutMs        int64
	ProcessingStartUs int64

	// Dispatch is resolved from the URI by the HTTP layer and invoked by
	// the worker that dequeues this request.
	Dispatch func(r *Request)

	// Respond delivers a result back to the original caller. It is set by
	// the HTTP layer and called only by the worker pool; the queue set
	// never calls it.
	Respond func(r *Request, err error)
}

// NewRequest allocates a Request with a fresh id and the given enqueue
// timestamp (§3).
func NewRequest(method, uri string, p priority.Priority, nowUs int64, timeoutMs int64) *Request {
	return &Request{
		ID:        uuid.New(),
		Method:    method,
		URI:       uri,
		Priority:  p,
		EnqueueUs: nowUs,
		TimeoutMs: timeoutMs,
	}
}

// Expired reports whether now - enqueue_us > timeout_ms (§4.9
// cleanup_expired predicate).
func (r *Request) Expired(nowUs int64) bool {
	if r.TimeoutMs <= 0 {
		return false
	}
	return nowUs-r.EnqueueUs > r.TimeoutMs*1000
}

type ringQueue struct {
	items    []*Request
	capacity int

	enqueued  uint64
	dequeued  uint64
	timeouts  uint64
}

func newRingQueue(capacity int) *ringQueue {
	return &ringQueue{capacity: capacity}
}

func (q *ringQueue) push(r *Request) bool {
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, r)
	q.enqueued++
	return true
}

func (q *ringQueue) pop() *Request {
	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items = q.items[1:]
	q.dequeued++
	return r
}

// Set is the six-priority queue set of §4.9. A single mutex/condvar pair
// guards all six queues: dequeue operations frequently need to observe
// "any queue non-empty", which a per-queue lock can't express cheaply.
type Set struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queues   [priority.NumPriorities]*ringQueue
}

// DefaultCapacities returns the §4.9 default capacities in priority order.
func DefaultCapacities() [priority.NumPriorities]int {
	return [priority.NumPriorities]int{
		priority.Emergency:      50,
		priority.IoCritical:     100,
		priority.Authentication: 50,
		priority.UiCritical:     100,
		priority.Normal:         200,
		priority.Background:     100,
	}
}

// NewSet constructs a queue set with the given per-priority capacities.
func NewSet(capacities [priority.NumPriorities]int) *Set {
	s := &Set{}
	s.cond = sync.NewCond(&s.mu)
	for p := priority.Emergency; p < priority.NumPriorities; p++ {
		s.queues[p] = newRingQueue(capacities[p])
	}
	return s
}

// Enqueue implements §4.9 enqueue(req): O(1), QueueFull if the target
// queue is at capacity.
func (s *Set) Enqueue(r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.queues[r.Priority].push(r) {
		return apierr.New(apierr.QueueFull, "queue for priority %s is full", r.Priority)
	}
	s.cond.Broadcast()
	return nil
}

// DequeueAny scans priorities from highest to lowest and returns the
// first non-empty queue's head, blocking up to wait if all are empty
// (§4.9 dequeue_any).
func (s *Set) DequeueAny(wait time.Duration) *Request {
	return s.DequeueBand(priority.Emergency, priority.NumPriorities-1, wait)
}

// DequeueBand is DequeueAny restricted to the inclusive [lo, hi] band
// (§4.9 dequeue_band).
func (s *Set) DequeueBand(lo, hi priority.Priority, wait time.Duration) *Request {
	deadline := time.Now().Add(wait)

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		for p := lo; p <= hi; p++ {
			if r := s.queues[p].pop(); r != nil {
				return r
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if !s.waitWithTimeout(remaining) {
			return nil
		}
	}
}

// waitWithTimeout blocks on cond for at most d, returning false on
// timeout. Caller must hold s.mu. sync.Cond has no native timeout, so we
// wake a helper goroutine to broadcast after d elapses.
func (s *Set) waitWithTimeout(d time.Duration) bool {
	done := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
		close(done)
	})
	defer timer.Stop()

	s.cond.Wait()

	select {
	case <-done:
		return false
	default:
		return true
	}
}

// CleanupExpired removes and reports every request whose timeout has
// elapsed across all six queues (§4.9 cleanup_expired).
func (s *Set) CleanupExpired(nowUs int64) []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []*Request
	for p := priority.Emergency; p < priority.NumPriorities; p++ {
		q := s.queues[p]
		kept := q.items[:0]
		for _, r := range q.items {
			if r.Expired(nowUs) {
				q.timeouts++
				expired = append(expired, r)
				continue
			}
			kept = append(kept, r)
		}
		q.items = kept
	}
	return expired
}

// TotalDepth implements priority.QueueDepthSource.
func (s *Set) TotalDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, q := range s.queues {
		total += len(q.items)
	}
	return total
}

// TotalCapacity implements priority.QueueDepthSource.
func (s *Set) TotalCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, q := range s.queues {
		total += q.capacity
	}
	return total
}

// DepthByPriority implements priority.QueueDepthSource.
func (s *Set) DepthByPriority() [priority.NumPriorities]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var depths [priority.NumPriorities]int
	for p, q := range s.queues {
		depths[p] = len(q.items)
	}
	return depths
}

// CapacityByPriority returns each queue's configured capacity, used by
// the metrics collector to report headroom alongside depth.
func (s *Set) CapacityByPriority() [priority.NumPriorities]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var caps [priority.NumPriorities]int
	for p, q := range s.queues {
		caps[p] = q.capacity
	}
	return caps
}

// Invariant check helper (§8 invariant 5): total_enqueued - total_dequeued
// - total_timeouts == depth, per queue.
func (s *Set) counters(p priority.Priority) (enqueued, dequeued, timeouts uint64, depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queues[p]
	return q.enqueued, q.dequeued, q.timeouts, len(q.items)
}
