// Package metrics exposes the controller's internal state as Prometheus
// metrics via a custom collector, grounded on the pull-based
// Describe/Collect pattern rather than a push client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jihwankim/irrig-core/internal/auth"
	"github.com/jihwankim/irrig-core/internal/iomanager"
	"github.com/jihwankim/irrig-core/internal/memtier"
	"github.com/jihwankim/irrig-core/internal/priority"
	"github.com/jihwankim/irrig-core/internal/queue"
)

// Collector implements prometheus.Collector by pulling live snapshots
// from each subsystem at scrape time rather than maintaining its own
// counters (avoids double bookkeeping across C7/C9/C10/C11/C12).
type Collector struct {
	io    *iomanager.Manager
	queues *queue.Set
	pri   *priority.Manager
	authc *auth.Core
	alloc *memtier.Allocator

	queueDepth     *prometheus.Desc
	queueCapacity  *prometheus.Desc
	systemMode     *prometheus.Desc
	ioUpdateCycles *prometheus.Desc
	ioErrors       *prometheus.Desc
	activePoints   *prometheus.Desc
	authSessions   *prometheus.Desc
	authFailed     *prometheus.Desc
	tierUsed       *prometheus.Desc
	tierCapacity   *prometheus.Desc
	avgProcessing  *prometheus.Desc
}

// New constructs a Collector over the live subsystem handles.
func New(io *iomanager.Manager, queues *queue.Set, pri *priority.Manager, authc *auth.Core, alloc *memtier.Allocator) *Collector {
	const ns = "irrig"
	return &Collector{
		io: io, queues: queues, pri: pri, authc: authc, alloc: alloc,

		queueDepth:     prometheus.NewDesc(ns+"_queue_depth", "Current depth of a priority queue.", []string{"priority"}, nil),
		queueCapacity:  prometheus.NewDesc(ns+"_queue_capacity", "Configured capacity of a priority queue.", []string{"priority"}, nil),
		systemMode:     prometheus.NewDesc(ns+"_system_mode", "1 for the currently active system mode, 0 otherwise.", []string{"mode"}, nil),
		ioUpdateCycles: prometheus.NewDesc(ns+"_io_update_cycles_total", "Total I/O polling cycles completed.", nil, nil),
		ioErrors:       prometheus.NewDesc(ns+"_io_errors_total", "Total I/O read/write errors observed.", nil, nil),
		activePoints:   prometheus.NewDesc(ns+"_io_active_points", "Number of configured I/O points.", nil, nil),
		authSessions:   prometheus.NewDesc(ns+"_auth_active_sessions", "Number of active authentication sessions.", nil, nil),
		authFailed:     prometheus.NewDesc(ns+"_auth_failed_logins_total", "Total failed login attempts.", nil, nil),
		tierUsed:       prometheus.NewDesc(ns+"_memtier_used_bytes", "Bytes currently reserved in a memory tier.", []string{"tier"}, nil),
		tierCapacity:   prometheus.NewDesc(ns+"_memtier_capacity_bytes", "Configured capacity of a memory tier.", []string{"tier"}, nil),
		avgProcessing:  prometheus.NewDesc(ns+"_request_avg_processing_ms", "Exponentially-smoothed average processing time per priority.", []string{"priority"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepth
	ch <- c.queueCapacity
	ch <- c.systemMode
	ch <- c.ioUpdateCycles
	ch <- c.ioErrors
	ch <- c.activePoints
	ch <- c.authSessions
	ch <- c.authFailed
	ch <- c.tierUsed
	ch <- c.tierCapacity
	ch <- c.avgProcessing
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	depths := c.queues.DepthByPriority()
	caps := c.queues.CapacityByPriority()
	for p := priority.Emergency; p < priority.NumPriorities; p++ {
		ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(depths[p]), p.String())
		ch <- prometheus.MustNewConstMetric(c.queueCapacity, prometheus.GaugeValue, float64(caps[p]), p.String())
	}

	mode := c.pri.Mode()
	for _, m := range []priority.SystemMode{priority.ModeNormal, priority.ModeLoadShedding, priority.ModeEmergency, priority.ModeMaintenance} {
		v := 0.0
		if m == mode {
			v = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.systemMode, prometheus.GaugeValue, v, m.String())
	}

	stats := c.pri.Stats(c.queues)
	for p := priority.Emergency; p < priority.NumPriorities; p++ {
		ch <- prometheus.MustNewConstMetric(c.avgProcessing, prometheus.GaugeValue, stats.AvgProcessingMs[p], p.String())
	}

	ioStats := c.io.Stats()
	ch <- prometheus.MustNewConstMetric(c.ioUpdateCycles, prometheus.CounterValue, float64(ioStats.UpdateCycles))
	ch <- prometheus.MustNewConstMetric(c.ioErrors, prometheus.CounterValue, float64(ioStats.TotalErrors))
	ch <- prometheus.MustNewConstMetric(c.activePoints, prometheus.GaugeValue, float64(ioStats.ActivePointCount))

	authStats := c.authc.Stats()
	ch <- prometheus.MustNewConstMetric(c.authSessions, prometheus.GaugeValue, float64(authStats.ActiveSessions))
	ch <- prometheus.MustNewConstMetric(c.authFailed, prometheus.CounterValue, float64(authStats.FailedLogins))

	memStats := c.alloc.Stats()
	ch <- prometheus.MustNewConstMetric(c.tierUsed, prometheus.GaugeValue, float64(memStats.FastUsed), "fast")
	ch <- prometheus.MustNewConstMetric(c.tierUsed, prometheus.GaugeValue, float64(memStats.LargeUsed), "large")
	ch <- prometheus.MustNewConstMetric(c.tierCapacity, prometheus.GaugeValue, float64(memStats.FastCapacity), "fast")
	ch <- prometheus.MustNewConstMetric(c.tierCapacity, prometheus.GaugeValue, float64(memStats.LargeCapacity), "large")
}
