// Package memtier implements the memory-tier allocation policy of spec.md
// §4.2 (C2): fast-tier vs. large-tier placement by priority, and worker
// creation with stack-placement accounting.
//
// Go does not expose manual goroutine-stack placement, so "tier" here is an
// accounting and fallback-policy abstraction (two byte counters against
// configured capacities) rather than a real custom allocator; see
// SPEC_FULL.md §4.2 and DESIGN.md's C2 entry for the rationale.
package memtier

import (
	"fmt"
	"sync"

	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/logging"
)

// Priority is an allocation's placement priority (§4.2 table).
type Priority int

const (
	Critical Priority = iota
	Normal
	LargeBuffer
	Cache
	TaskStack
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case Normal:
		return "normal"
	case LargeBuffer:
		return "large_buffer"
	case Cache:
		return "cache"
	case TaskStack:
		return "task_stack"
	default:
		return "unknown"
	}
}

// Tier identifies one of the two memory pools.
type Tier int

const (
	TierFast Tier = iota
	TierLarge
)

func (t Tier) String() string {
	if t == TierFast {
		return "fast"
	}
	return "large"
}

// MinStackBytes is the minimum stack size create_worker guarantees (§4.2).
const MinStackBytes = 2 * 1024

// largeTaskStackThreshold is the size at which a TaskStack allocation
// prefers the large tier (§4.2 table).
const largeTaskStackThreshold = 4 * 1024

// Handle is an outstanding allocation's accounting token. free(ptr) in
// spec.md's C2 contract is represented here by Allocator.Free(handle).
type Handle struct {
	tier Tier
	size int
}

// Stats is a snapshot of allocator counters.
type Stats struct {
	FastUsed, FastCapacity   int
	LargeUsed, LargeCapacity int
	Allocations              uint64
	Failures                 uint64
	Fallbacks                uint64
	WorkersCreated           uint64
	WorkerCreateFailures     uint64
	WorkerFallbacks          uint64
}

// Allocator tracks fast/large tier usage and applies the priority placement
// policy of §4.2.
type Allocator struct {
	mu sync.Mutex

	fastCap, largeCap int
	fastUsed, largeUsed int

	allocations, failures, fallbacks uint64
	workersCreated, workerCreateFailures, workerFallbacks uint64

	log *logging.Logger
}

// New creates an Allocator with the given tier capacities in bytes.
func New(fastCapacity, largeCapacity int, log *logging.Logger) *Allocator {
	if log == nil {
		log = logging.Nop()
	}
	return &Allocator{fastCap: fastCapacity, largeCap: largeCapacity, log: log}
}

// Allocate reserves size bytes under priority's placement policy (§4.2
// table). On success it returns a Handle that must later be passed to Free.
func (a *Allocator) Allocate(size int, priority Priority) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.allocations++

	switch priority {
	case Critical:
		if a.reserveLocked(TierFast, size) {
			return &Handle{tier: TierFast, size: size}, nil
		}
		a.failures++
		return nil, apierr.New(apierr.OutOfMemory, "critical allocation of %d bytes exceeds fast tier", size)

	case Normal:
		if a.reserveLocked(TierFast, size) {
			return &Handle{tier: TierFast, size: size}, nil
		}
		if a.reserveLocked(TierLarge, size) {
			a.fallbacks++
			return &Handle{tier: TierLarge, size: size}, nil
		}

	case LargeBuffer, Cache:
		if a.reserveLocked(TierLarge, size) {
			return &Handle{tier: TierLarge, size: size}, nil
		}
		if a.reserveLocked(TierFast, size) {
			a.fallbacks++
			return &Handle{tier: TierFast, size: size}, nil
		}

	case TaskStack:
		preferLarge := size >= largeTaskStackThreshold
		first, second := TierLarge, TierFast
		if !preferLarge {
			first, second = TierFast, TierLarge
		}
		if a.reserveLocked(first, size) {
			return &Handle{tier: first, size: size}, nil
		}
		if a.reserveLocked(second, size) {
			a.fallbacks++
			return &Handle{tier: second, size: size}, nil
		}
	}

	a.failures++
	return nil, apierr.New(apierr.OutOfMemory, "allocation of %d bytes failed for priority %s", size, priority)
}

// reserveLocked attempts to reserve size bytes from tier; caller holds a.mu.
func (a *Allocator) reserveLocked(tier Tier, size int) bool {
	if tier == TierFast {
		if a.fastUsed+size > a.fastCap {
			return false
		}
		a.fastUsed += size
		return true
	}
	if a.largeUsed+size > a.largeCap {
		return false
	}
	a.largeUsed += size
	return true
}

// Free releases an allocation previously returned by Allocate.
func (a *Allocator) Free(h *Handle) {
	if h == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if h.tier == TierFast {
		a.fastUsed -= h.size
		if a.fastUsed < 0 {
			a.fastUsed = 0
		}
		return
	}
	a.largeUsed -= h.size
	if a.largeUsed < 0 {
		a.largeUsed = 0
	}
}

// WorkerPlacement selects which tier a worker's stack should be accounted
// against (§4.2: "places the worker stack per placement").
type WorkerPlacement int

const (
	PlaceFast WorkerPlacement = iota
	PlaceLarge
)

// WorkerHandle represents a running worker created via CreateWorker.
type WorkerHandle struct {
	Name        string
	StackBytes  int
	Tier        Tier
	Priority    Priority
	stackAlloc  *Handle
	stopCh      chan struct{}
	done        chan struct{}
}

// Stop signals the worker body (via its stop channel argument) and waits
// for it to return.
func (w *WorkerHandle) Stop() {
	close(w.stopCh)
	<-w.done
}

// CreateWorker starts a goroutine running body, accounting its requested
// stack size against placement's tier with fallback-on-exhaustion (§4.2).
// body receives a stop channel it must select on to exit cooperatively.
func (a *Allocator) CreateWorker(name string, stackSize int, priority Priority, placement WorkerPlacement, body func(stop <-chan struct{})) (*WorkerHandle, error) {
	if stackSize < MinStackBytes {
		stackSize = MinStackBytes
	}

	wantTier := TierFast
	if placement == PlaceLarge {
		wantTier = TierLarge
	}

	h, err := a.reserveForWorker(wantTier, stackSize)
	fellBack := false
	if err != nil {
		fallbackTier := TierFast
		if wantTier == TierFast {
			fallbackTier = TierLarge
		}
		h, err = a.reserveForWorker(fallbackTier, stackSize)
		if err != nil {
			a.mu.Lock()
			a.workerCreateFailures++
			a.mu.Unlock()
			return nil, apierr.New(apierr.OutOfMemory, "worker %s: no tier has %d bytes available", name, stackSize)
		}
		fellBack = true
		a.log.Warn("worker stack placement fell back to alternate tier", "worker", name, "requested_tier", wantTier.String(), "actual_tier", h.tier.String())
	}

	a.mu.Lock()
	a.workersCreated++
	if fellBack {
		a.workerFallbacks++
	}
	a.mu.Unlock()

	wh := &WorkerHandle{
		Name:       name,
		StackBytes: stackSize,
		Tier:       h.tier,
		Priority:   priority,
		stackAlloc: h,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}

	go func() {
		defer close(wh.done)
		defer a.Free(wh.stackAlloc)
		body(wh.stopCh)
	}()

	return wh, nil
}

func (a *Allocator) reserveForWorker(tier Tier, size int) (*Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.reserveLocked(tier, size) {
		return nil, fmt.Errorf("tier %s exhausted", tier)
	}
	return &Handle{tier: tier, size: size}, nil
}

// Stats returns a snapshot of allocator counters.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		FastUsed: a.fastUsed, FastCapacity: a.fastCap,
		LargeUsed: a.largeUsed, LargeCapacity: a.largeCap,
		Allocations: a.allocations, Failures: a.failures, Fallbacks: a.fallbacks,
		WorkersCreated: a.workersCreated, WorkerCreateFailures: a.workerCreateFailures, WorkerFallbacks: a.workerFallbacks,
	}
}
