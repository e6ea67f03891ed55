// Package iomanager implements the I/O manager of spec.md §4.7 (C7): the
// exclusive owner of PointRuntime state, the polling task, and safe-state
// discipline around output writes.
package iomanager

import (
	"context"
	"sync"
	"time"

	"github.com/jihwankim/irrig-core/internal/alarm"
	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/gpio"
	"github.com/jihwankim/irrig-core/internal/iopoint"
	"github.com/jihwankim/irrig-core/internal/logging"
	"github.com/jihwankim/irrig-core/internal/shiftreg"
	"github.com/jihwankim/irrig-core/internal/signal"
)

// Clock supplies monotonic microsecond timestamps (§6.3 collaborator
// contract). time.Now() satisfies it via nowUs below; tests substitute a
// deterministic clock.
type Clock func() int64

func nowUs() int64 { return time.Now().UnixMicro() }

// mutexBudget is the bounded wait spec.md §4.7 allows readers before
// failing with Timeout.
const mutexBudget = 100 * time.Millisecond

// lockPollInterval is the spin step used while waiting out mutexBudget.
const lockPollInterval = time.Millisecond

// tryLockBounded attempts to acquire m.mu within mutexBudget, polling at
// lockPollInterval. Returns apierr.Timeout if the budget is exhausted
// (§4.7, §5: "Mutex acquisition uses a 100 ms budget and fails with
// Timeout rather than blocking indefinitely").
func (m *Manager) tryLockBounded() error {
	if m.mu.TryLock() {
		return nil
	}
	deadline := m.clock() + mutexBudget.Microseconds()
	for m.clock() < deadline {
		time.Sleep(lockPollInterval)
		if m.mu.TryLock() {
			return nil
		}
	}
	return apierr.New(apierr.Timeout, "timed out waiting %s for I/O mutex", mutexBudget)
}

// Manager owns PointRuntime[] exclusively and runs the polling task.
type Manager struct {
	mu       sync.Mutex
	runtime  map[iopoint.PointId]*iopoint.PointRuntime
	cfg      *iopoint.IoConfiguration
	gp       *gpio.Controller
	sr       *shiftreg.Driver
	clock    Clock
	log      *logging.Logger

	pollInterval time.Duration
	pollCancel   context.CancelFunc
	pollDone     chan struct{}
	polling      bool

	totalErrors uint64
	cycles      uint64
}

// New constructs a Manager bound to an already-safe-stated gp/sr pair and
// an initial configuration. Safe-state initialization order (§4.7.b):
// construct drivers with their own safe-state init BEFORE calling New.
func New(cfg *iopoint.IoConfiguration, gp *gpio.Controller, sr *shiftreg.Driver, pollInterval time.Duration, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Nop()
	}
	m := &Manager{
		gp: gp, sr: sr, clock: nowUs, log: log,
		pollInterval: pollInterval,
	}
	m.rebuildRuntimeLocked(cfg)
	return m
}

// rebuildRuntimeLocked replaces cfg/runtime wholesale, clearing SMA/alarm
// state (§4.7 reload_config contract). Caller must hold m.mu, or call this
// only before the manager is shared (construction time).
func (m *Manager) rebuildRuntimeLocked(cfg *iopoint.IoConfiguration) {
	m.cfg = cfg
	m.runtime = make(map[iopoint.PointId]*iopoint.PointRuntime, len(cfg.Points))
	for id := range cfg.Points {
		m.runtime[id] = &iopoint.PointRuntime{}
	}
}

// StartPolling launches the polling task (§4.7: "single cooperative
// worker"). It must be called only after output safe-state init (gp/sr)
// has completed and runtime digital flags are zeroed (step b, c of §4.7).
func (m *Manager) StartPolling(ctx context.Context) {
	m.mu.Lock()
	if m.polling {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.pollCancel = cancel
	m.pollDone = make(chan struct{})
	m.polling = true
	m.mu.Unlock()

	go m.pollLoop(ctx)
}

// StopPolling stops the polling task and waits for it to exit.
func (m *Manager) StopPolling() {
	m.mu.Lock()
	if !m.polling {
		m.mu.Unlock()
		return
	}
	cancel := m.pollCancel
	done := m.pollDone
	m.mu.Unlock()

	cancel()
	<-done
}

func (m *Manager) pollLoop(ctx context.Context) {
	defer close(m.pollDone)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.polling = false
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.UpdateInputs()
		}
	}
}

// UpdateInputs runs the per-cycle read/condition/alarm pipeline for every
// configured input point (§4.7). It returns the aggregate error count for
// this cycle and is the sole mutator of PointRuntime.
func (m *Manager) UpdateInputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	errs := 0
	now := m.clock()
	if m.cfg.Wiring.NumInputChips > 0 {
		m.sr.RefreshInputs()
	}

	for id, pc := range m.cfg.Points {
		if pc.IsOutput() {
			continue
		}
		rt := m.runtime[id]

		switch pc.Kind.Tag {
		case iopoint.KindGpioAnalogIn:
			raw := float64(m.gp.ReadAnalog(pc.Kind.Pin))
			m.updateAnalog(pc, rt, raw, now)
		case iopoint.KindGpioBinaryIn:
			level := m.gp.Read(pc.Kind.Pin)
			m.updateDigitalInput(pc, rt, level, now)
		case iopoint.KindShiftRegBinaryIn:
			level := m.sr.GetInputBit(pc.Kind.ChipIndex, pc.Kind.BitIndex)
			m.updateDigitalInput(pc, rt, level, now)
		}

		if rt.HasError {
			errs++
		}
	}

	m.cycles++
	m.totalErrors += uint64(errs)
	return errs
}

func (m *Manager) updateAnalog(pc *iopoint.IoPointConfig, rt *iopoint.PointRuntime, raw float64, now int64) {
	prev := rt.Conditioned
	hasPrev := rt.UpdateCount > 0

	rt.Raw = raw
	rt.Conditioned = signal.Condition(raw, &pc.Signal, &rt.SMA)
	rt.LastUpdateUs = now
	rt.UpdateCount++

	if pc.Alarm.Enabled {
		alarm.Evaluate(&pc.Alarm, &rt.Alarms, alarm.Sample{
			Value: rt.Conditioned, HasPrev: hasPrev, Prev: prev, NowUs: now,
		})
	}
}

func (m *Manager) updateDigitalInput(pc *iopoint.IoPointConfig, rt *iopoint.PointRuntime, level bool, now int64) {
	rt.Digital = level != pc.Inverted
	rt.Raw = boolToFloat(rt.Digital)
	rt.Conditioned = rt.Raw
	rt.LastUpdateUs = now
	rt.UpdateCount++
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// SetBinaryOutput applies inversion and writes to hardware, then updates
// runtime (§4.7). It fails with WrongKind if id is not an output point.
func (m *Manager) SetBinaryOutput(id iopoint.PointId, state bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pc, ok := m.cfg.Points[id]
	if !ok {
		return apierr.New(apierr.NotFound, "point %s not found", id)
	}
	if !pc.IsOutput() {
		return apierr.New(apierr.WrongKind, "point %s is not an output", id)
	}

	hwLevel := state != pc.Inverted

	switch pc.Kind.Tag {
	case iopoint.KindGpioBinaryOut:
		m.gp.Write(pc.Kind.Pin, hwLevel)
	case iopoint.KindShiftRegBinaryOut:
		m.sr.SetBit(pc.Kind.ChipIndex, pc.Kind.BitIndex, hwLevel)
		m.sr.CommitOutputs()
	}

	rt := m.runtime[id]
	rt.Digital = state
	rt.Raw = boolToFloat(state)
	rt.Conditioned = rt.Raw
	rt.LastUpdateUs = m.clock()
	rt.UpdateCount++

	return nil
}

// GetBinaryOutput returns the current output state for id (§4.7).
func (m *Manager) GetBinaryOutput(id iopoint.PointId) (bool, error) {
	rt, pc, err := m.lockedLookup(id)
	if err != nil {
		return false, err
	}
	if !pc.IsOutput() {
		return false, apierr.New(apierr.WrongKind, "point %s is not an output", id)
	}
	return rt.Digital, nil
}

// GetBinaryInput returns the current digital input state for id.
func (m *Manager) GetBinaryInput(id iopoint.PointId) (bool, error) {
	rt, pc, err := m.lockedLookup(id)
	if err != nil {
		return false, err
	}
	if !pc.IsBinaryInput() {
		return false, apierr.New(apierr.WrongKind, "point %s is not a binary input", id)
	}
	return rt.Digital, nil
}

// GetAnalogRaw returns the current raw analog sample for id.
func (m *Manager) GetAnalogRaw(id iopoint.PointId) (float64, error) {
	rt, pc, err := m.lockedLookup(id)
	if err != nil {
		return 0, err
	}
	if !pc.IsAnalog() {
		return 0, apierr.New(apierr.WrongKind, "point %s is not analog", id)
	}
	return rt.Raw, nil
}

// GetAnalogConditioned returns the current conditioned analog value for id.
func (m *Manager) GetAnalogConditioned(id iopoint.PointId) (float64, error) {
	rt, pc, err := m.lockedLookup(id)
	if err != nil {
		return 0, err
	}
	if !pc.IsAnalog() {
		return 0, apierr.New(apierr.WrongKind, "point %s is not analog", id)
	}
	return rt.Conditioned, nil
}

// GetRuntime copies the full runtime record for id.
func (m *Manager) GetRuntime(id iopoint.PointId) (iopoint.PointRuntime, error) {
	if err := m.tryLockBounded(); err != nil {
		return iopoint.PointRuntime{}, err
	}
	defer m.mu.Unlock()
	rt, ok := m.runtime[id]
	if !ok {
		return iopoint.PointRuntime{}, apierr.New(apierr.NotFound, "point %s not found", id)
	}
	return *rt, nil
}

func (m *Manager) lockedLookup(id iopoint.PointId) (*iopoint.PointRuntime, *iopoint.IoPointConfig, error) {
	if err := m.tryLockBounded(); err != nil {
		return nil, nil, err
	}
	defer m.mu.Unlock()
	pc, ok := m.cfg.Points[id]
	if !ok {
		return nil, nil, apierr.New(apierr.NotFound, "point %s not found", id)
	}
	return m.runtime[id], pc, nil
}

// Config returns the currently active IoConfiguration.
func (m *Manager) Config() *iopoint.IoConfiguration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// AcknowledgeAlarm clears a manual-reset-pending alarm rule on id.
func (m *Manager) AcknowledgeAlarm(id iopoint.PointId, rule int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt, ok := m.runtime[id]
	if !ok {
		return apierr.New(apierr.NotFound, "point %s not found", id)
	}
	alarm.Acknowledge(&rt.Alarms, rule)
	return nil
}

// ReloadConfig stops polling, rebuilds runtime from cfg (clearing
// SMA/alarm state), re-applies safe state to all outputs, and resumes
// polling (§4.7).
func (m *Manager) ReloadConfig(ctx context.Context, cfg *iopoint.IoConfiguration) {
	m.StopPolling()

	m.mu.Lock()
	m.rebuildRuntimeLocked(cfg)
	m.mu.Unlock()

	m.gp.SafeStateInit()
	m.sr.SafeStateInit()

	m.StartPolling(ctx)
}

// Statistics is the snapshot backing GET /api/io/statistics (§6.1).
type Statistics struct {
	UpdateCycles     uint64
	TotalErrors      uint64
	LastUpdateTimeUs int64
	PollingActive    bool
	ActivePointCount int
}

// Stats returns a statistics snapshot.
func (m *Manager) Stats() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	var last int64
	for _, rt := range m.runtime {
		if rt.LastUpdateUs > last {
			last = rt.LastUpdateUs
		}
	}

	return Statistics{
		UpdateCycles:     m.cycles,
		TotalErrors:      m.totalErrors,
		LastUpdateTimeUs: last,
		PollingActive:    m.polling,
		ActivePointCount: len(m.runtime),
	}
}
