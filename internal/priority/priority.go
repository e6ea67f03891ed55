// Package priority implements the system-mode state machine and admission
// control of spec.md §4.11 (C11).
package priority

import (
	"sync"
	"time"

	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/logging"
)

// Priority is one of the six request priority bands, ordered from most to
// least critical (index 0 is highest).
type Priority int

const (
	Emergency Priority = iota
	IoCritical
	Authentication
	UiCritical
	Normal
	Background
	NumPriorities
)

func (p Priority) String() string {
	switch p {
	case Emergency:
		return "Emergency"
	case IoCritical:
		return "IoCritical"
	case Authentication:
		return "Authentication"
	case UiCritical:
		return "UiCritical"
	case Normal:
		return "Normal"
	case Background:
		return "Background"
	default:
		return "Unknown"
	}
}

// Degrade returns the next-lower priority, or p unchanged if already the
// lowest (§4.8 load-shedding degrade-by-one-step).
func (p Priority) Degrade() Priority {
	if p+1 >= NumPriorities {
		return p
	}
	return p + 1
}

// SystemMode is the top-level operating mode (§4.11).
type SystemMode int

const (
	ModeNormal SystemMode = iota
	ModeLoadShedding
	ModeEmergency
	ModeMaintenance
)

func (m SystemMode) String() string {
	switch m {
	case ModeNormal:
		return "Normal"
	case ModeLoadShedding:
		return "LoadShedding"
	case ModeEmergency:
		return "Emergency"
	case ModeMaintenance:
		return "Maintenance"
	default:
		return "Unknown"
	}
}

// Stats is the statistics snapshot of §4.11 "Statistics".
type Stats struct {
	RequestsByPriority    [NumPriorities]uint64
	AvgProcessingMs       [NumPriorities]float64
	MinProcessingMs       [NumPriorities]float64
	MaxProcessingMs       [NumPriorities]float64
	Dropped               uint64
	TimedOut              uint64
	EmergencyActivations  uint64
	LoadSheddingActivations uint64
	QueueDepths           [NumPriorities]int
	CPUUtilizationPercent float64
	UptimeSeconds         float64
}

// QueueDepthSource reports current depth/capacity for the load metric.
// The queue set (C9) implements this.
type QueueDepthSource interface {
	TotalDepth() int
	TotalCapacity() int
	DepthByPriority() [NumPriorities]int
}

// Manager owns SystemMode and enforces admission control (§4.11). It does
// not itself decide when to shed load; enable_load_shedding is advisory
// and driven by a caller observing the load metric.
type Manager struct {
	mu   sync.Mutex
	mode SystemMode

	emergencyEnteredUs int64
	emergencyTTLUs     int64

	loadSheddingThresholdPct float64

	startTime time.Time
	clock     func() int64

	stats Stats

	log *logging.Logger
}

// Config carries the tunables of §4.11 (default load_shedding_threshold
// 80%).
type Config struct {
	LoadSheddingThresholdPercent float64
}

// New constructs a Manager in Normal mode.
func New(cfg Config, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	threshold := cfg.LoadSheddingThresholdPercent
	if threshold <= 0 {
		threshold = 80
	}
	return &Manager{
		mode:                     ModeNormal,
		loadSheddingThresholdPct: threshold,
		startTime:                time.Now(),
		clock:                    func() int64 { return time.Now().UnixMicro() },
		log:                      log,
	}
}

// Mode returns the current system mode.
func (m *Manager) Mode() SystemMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// EnterEmergency transitions to Emergency with the given TTL (§4.11 graph).
func (m *Manager) EnterEmergency(ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = ModeEmergency
	m.emergencyEnteredUs = m.clock()
	m.emergencyTTLUs = ttl.Microseconds()
	m.stats.EmergencyActivations++
	m.log.Warn("entering emergency mode", "ttl_ms", ttl.Milliseconds())
}

// ExitEmergency returns to Normal from Emergency (manual exit or timeout).
func (m *Manager) ExitEmergency() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeEmergency {
		return
	}
	m.mode = ModeNormal
	m.log.Info("exiting emergency mode")
}

// CheckEmergencyTimeout transitions Emergency back to Normal if the TTL has
// elapsed (§4.11 "Emergency timeout", checked by a worker each tick).
func (m *Manager) CheckEmergencyTimeout() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeEmergency {
		return false
	}
	if m.clock()-m.emergencyEnteredUs > m.emergencyTTLUs {
		m.mode = ModeNormal
		m.log.Info("emergency TTL elapsed, returning to normal")
		return true
	}
	return false
}

// EnableLoadShedding toggles LoadShedding mode. It is a no-op while in
// Emergency or Maintenance (those modes take precedence).
func (m *Manager) EnableLoadShedding(enable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeEmergency || m.mode == ModeMaintenance {
		return
	}
	if enable {
		if m.mode != ModeLoadShedding {
			m.stats.LoadSheddingActivations++
		}
		m.mode = ModeLoadShedding
	} else if m.mode == ModeLoadShedding {
		m.mode = ModeNormal
	}
}

// EnterMaintenance enters Maintenance from any state (§4.11: "orthogonal
// mode enterable from any state").
func (m *Manager) EnterMaintenance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = ModeMaintenance
}

// ExitMaintenance leaves Maintenance, returning to Normal.
func (m *Manager) ExitMaintenance() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == ModeMaintenance {
		m.mode = ModeNormal
	}
}

// Admit applies the §4.11 admission rules table, returning the (possibly
// degraded) priority to enqueue at, or an error if the request must be
// rejected.
func (m *Manager) Admit(p Priority) (Priority, error) {
	m.mu.Lock()
	mode := m.mode
	m.mu.Unlock()

	switch mode {
	case ModeEmergency:
		if p > IoCritical {
			return p, apierr.New(apierr.NotAllowed, "priority %s rejected under emergency mode", p)
		}
		return p, nil
	case ModeLoadShedding:
		if p == Background {
			return p, apierr.New(apierr.NotAllowed, "background priority rejected under load shedding")
		}
		if p == UiCritical {
			return Normal, nil
		}
		if p == Normal {
			return Background, nil
		}
		return p, nil
	case ModeMaintenance:
		if p >= UiCritical {
			return p, apierr.New(apierr.NotAllowed, "priority %s rejected under maintenance mode", p)
		}
		return p, nil
	default:
		return p, nil
	}
}

// LoadMetric computes total_queued/total_capacity as a percentage, clamped
// to [0,100] (§4.11 "Load metric").
func (m *Manager) LoadMetric(src QueueDepthSource) float64 {
	cap := src.TotalCapacity()
	if cap <= 0 {
		return 0
	}
	pct := float64(src.TotalDepth()) / float64(cap) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ShouldShed reports whether the load metric has crossed the configured
// threshold; callers use this to decide whether to call EnableLoadShedding.
func (m *Manager) ShouldShed(src QueueDepthSource) bool {
	return m.LoadMetric(src) >= m.loadSheddingThresholdPct
}

// RecordDispatch records a processed request's priority and processing
// duration into the exponentially-smoothed statistics (§4.11 "(prev +
// new)/2").
func (m *Manager) RecordDispatch(p Priority, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms := float64(d.Microseconds()) / 1000.0
	m.stats.RequestsByPriority[p]++
	if m.stats.RequestsByPriority[p] == 1 {
		m.stats.AvgProcessingMs[p] = ms
		m.stats.MinProcessingMs[p] = ms
		m.stats.MaxProcessingMs[p] = ms
		return
	}
	m.stats.AvgProcessingMs[p] = (m.stats.AvgProcessingMs[p] + ms) / 2
	if ms < m.stats.MinProcessingMs[p] {
		m.stats.MinProcessingMs[p] = ms
	}
	if ms > m.stats.MaxProcessingMs[p] {
		m.stats.MaxProcessingMs[p] = ms
	}
}

// RecordDrop increments the dropped-request counter.
func (m *Manager) RecordDrop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Dropped++
}

// RecordTimeout increments the timed-out-request counter.
func (m *Manager) RecordTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.TimedOut++
}

// Stats returns a statistics snapshot, folding in live queue depths.
func (m *Manager) Stats(src QueueDepthSource) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := m.stats
	if src != nil {
		snap.QueueDepths = src.DepthByPriority()
	}
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
