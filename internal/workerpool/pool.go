// Package workerpool implements the three-worker pool of spec.md §4.10
// (C10): each worker pinned to a priority band, dequeuing and dispatching
// requests with the mandated health-check, stats, watchdog, and
// heavy-operation-yield cadence.
package workerpool

import (
	"runtime"
	"time"

	"github.com/jihwankim/irrig-core/internal/logging"
	"github.com/jihwankim/irrig-core/internal/memtier"
	"github.com/jihwankim/irrig-core/internal/priority"
	"github.com/jihwankim/irrig-core/internal/queue"
)

// defaults mirror §4.10's named constants.
const (
	defaultHeavyOperationMs      = 500
	defaultWatchdogFeedInterval  = time.Second
	healthCheckInterval          = 30 * time.Second
	statsInterval                = 5 * time.Second
	dequeueWait                  = 100 * time.Millisecond
	idleSleep                    = 10 * time.Millisecond
)

// Watchdog is fed periodically by every worker (§6.3 collaborator
// contract: "feed() must be called at least every
// watchdog_feed_interval_ms per worker").
type Watchdog interface {
	Feed(workerName string)
}

type nopWatchdog struct{}

func (nopWatchdog) Feed(string) {}

// band describes one worker's priority range and memory placement.
type band struct {
	name     string
	lo, hi   priority.Priority
	tier     memtier.WorkerPlacement
	stack    int
}

func bands() []band {
	return []band{
		{name: "critical", lo: priority.Emergency, hi: priority.IoCritical, tier: memtier.PlaceFast, stack: 8192},
		{name: "normal", lo: priority.Authentication, hi: priority.UiCritical, tier: memtier.PlaceLarge, stack: 16384},
		{name: "background", lo: priority.Normal, hi: priority.Background, tier: memtier.PlaceLarge, stack: 16384},
	}
}

// Config carries the §4.10/§4.11 tunables.
type Config struct {
	HeavyOperationThresholdMs int
	WatchdogFeedIntervalMs    int
}

// Pool owns the three band-pinned workers.
type Pool struct {
	queues   *queue.Set
	pri      *priority.Manager
	alloc    *memtier.Allocator
	watchdog Watchdog
	log      *logging.Logger

	heavyThreshold   time.Duration
	watchdogInterval time.Duration

	handles []*memtier.WorkerHandle
}

// New constructs a Pool; workers are not started until Start is called.
func New(cfg Config, queues *queue.Set, pri *priority.Manager, alloc *memtier.Allocator, wd Watchdog, log *logging.Logger) *Pool {
	if log == nil {
		log = logging.Nop()
	}
	if wd == nil {
		wd = nopWatchdog{}
	}
	heavy := cfg.HeavyOperationThresholdMs
	if heavy <= 0 {
		heavy = defaultHeavyOperationMs
	}
	watchdogMs := cfg.WatchdogFeedIntervalMs
	interval := defaultWatchdogFeedInterval
	if watchdogMs > 0 {
		interval = time.Duration(watchdogMs) * time.Millisecond
	}
	return &Pool{
		queues: queues, pri: pri, alloc: alloc, watchdog: wd, log: log,
		heavyThreshold:   time.Duration(heavy) * time.Millisecond,
		watchdogInterval: interval,
	}
}

// Start spawns the three workers as memory-tier-placed goroutines (§4.10,
// §5 "Worker stacks are placed in the large memory tier when requested").
func (p *Pool) Start() {
	for _, b := range bands() {
		b := b
		h, err := p.alloc.CreateWorker(b.name, b.stack, priorityForTier(b.tier), b.tier, func(stop <-chan struct{}) {
			p.runWorker(b, stop)
		})
		if err != nil {
			p.log.Error("failed to create worker, pool degraded", "worker", b.name, "error", err.Error())
			continue
		}
		p.handles = append(p.handles, h)
	}
}

func priorityForTier(t memtier.WorkerPlacement) memtier.Priority {
	if t == memtier.PlaceFast {
		return memtier.Critical
	}
	return memtier.TaskStack
}

// Stop signals every worker to exit and waits for them.
func (p *Pool) Stop() {
	for _, h := range p.handles {
		h.Stop()
	}
}

// runWorker implements the §4.10 worker loop body. Workers never return
// except in response to the stop channel closing (§4.10: "a worker that
// returns from its body is a defect" — the only return path here is the
// explicit stop case).
func (p *Pool) runWorker(b band, stop <-chan struct{}) {
	lastHealthCheck := time.Now()
	lastStats := time.Now()
	lastWatchdogFeed := time.Now()

	for {
		select {
		case <-stop:
			return
		default:
		}

		now := time.Now()

		if now.Sub(lastHealthCheck) >= healthCheckInterval {
			p.healthCheck()
			lastHealthCheck = now
		}
		if now.Sub(lastStats) >= statsInterval {
			_ = p.pri.Stats(p.queues)
			lastStats = now
		}
		if p.pri.Mode() == priority.ModeEmergency {
			p.pri.CheckEmergencyTimeout()
		}

		req := p.queues.DequeueBand(b.lo, b.hi, dequeueWait)
		if req == nil {
			time.Sleep(idleSleep)
		} else {
			p.process(req)
		}

		if time.Since(lastWatchdogFeed) >= p.watchdogInterval {
			p.watchdog.Feed(b.name)
			lastWatchdogFeed = time.Now()
		}
	}
}

// healthCheck sweeps expired requests and logs their count (§4.9
// cleanup_expired, invoked by the worker's 30s tick per §4.10 step 1).
func (p *Pool) healthCheck() {
	expired := p.queues.CleanupExpired(time.Now().UnixMicro())
	for _, r := range expired {
		p.pri.RecordTimeout()
		if r.Respond != nil {
			r.Respond(r, errTimeout(r))
		}
	}
	if len(expired) > 0 {
		p.log.Warn("queue health check reaped expired requests", "count", len(expired))
	}
}

// process dispatches one request, records timing, and yields if the
// handler took longer than the heavy-operation threshold (§4.10 steps
// 5-6). Expiry is checked once more immediately before dispatch (§5:
// detected "by cleanup_expired() and by workers before dispatch") since
// a request can age out between being dequeued and reaching here.
func (p *Pool) process(r *queue.Request) {
	if r.Expired(time.Now().UnixMicro()) {
		p.pri.RecordTimeout()
		if r.Respond != nil {
			r.Respond(r, errTimeout(r))
		}
		return
	}

	r.ProcessingStartUs = time.Now().UnixMicro()
	start := time.Now()

	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				p.log.Error("request handler panicked, recovering", "uri", r.URI)
				err = errPanic(r)
			}
		}()
		if r.Dispatch != nil {
			r.Dispatch(r)
		}
	}()

	elapsed := time.Since(start)
	p.pri.RecordDispatch(r.Priority, elapsed)

	if r.Respond != nil {
		r.Respond(r, err)
	}

	if elapsed > p.heavyThreshold {
		runtime.Gosched()
	}
}
