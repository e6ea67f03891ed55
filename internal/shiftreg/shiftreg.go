// Package shiftreg implements the shift-register driver of spec.md §4.4
// (C4): a mutex-guarded output/input mirror and the authoritative
// safe-state initialization sequence.
package shiftreg

import (
	"sync"
	"time"

	"github.com/jihwankim/irrig-core/internal/gpio"
	"github.com/jihwankim/irrig-core/internal/iopoint"
)

// clockPulse is the minimum high/low duration for a clock pulse (§4.4).
const clockPulse = time.Microsecond

// latchSettle / loadSettle are the minimum durations the latch/load lines
// must be held for a commit/refresh to take effect (§4.4).
const latchSettle = 5 * time.Microsecond
const loadSettle = 5 * time.Microsecond

// Driver owns out_mirror/in_mirror under a mutex and drives the wiring
// described by an iopoint.ShiftRegisterWiring.
type Driver struct {
	mu sync.Mutex

	wiring iopoint.ShiftRegisterWiring
	gp     *gpio.Controller

	outMirror []byte
	inMirror  []byte

	outputEnableActive bool
	initialized        bool

	sleep func(time.Duration)
}

// New creates a Driver for wiring, driven through gp. gp's clock/latch/data
// (and optional output-enable) pins must already be configured as outputs
// on the Controller; the load/clock/data input pins must be configured as
// outputs too (they are driven by this side) except the data-in pin which
// is a digital input read through gp.
func New(wiring iopoint.ShiftRegisterWiring, gp *gpio.Controller) *Driver {
	return &Driver{
		wiring:    wiring,
		gp:        gp,
		outMirror: make([]byte, wiring.NumOutputChips),
		inMirror:  make([]byte, wiring.NumInputChips),
		sleep:     time.Sleep,
	}
}

// SafeStateInit runs the authoritative 5-step initialization sequence of
// §4.4. Only after this returns may any consumer call SetBit.
func (d *Driver) SafeStateInit() {
	d.mu.Lock()
	defer d.mu.Unlock()

	// 1. Assert output-enable inactive.
	if d.wiring.HasOutputEnable() {
		d.gp.Write(d.wiring.OutEnablePin, true) // active-low OE: true = inactive
	}
	d.outputEnableActive = false

	// 2. Configure clock/latch/data pins as outputs driven low.
	d.gp.Write(d.wiring.OutClockPin, false)
	d.gp.Write(d.wiring.OutLatchPin, false)
	d.gp.Write(d.wiring.OutDataPin, false)

	// 3. Zero out_mirror.
	for i := range d.outMirror {
		d.outMirror[i] = 0
	}

	// 4. commit_outputs() — hardware now latches zeros.
	d.commitOutputsLocked()

	// 5. Assert output-enable active.
	if d.wiring.HasOutputEnable() {
		d.gp.Write(d.wiring.OutEnablePin, false) // active-low OE: false = active
	}
	d.outputEnableActive = true
	d.initialized = true
}

// IsInitialized reports whether SafeStateInit has completed.
func (d *Driver) IsInitialized() bool { return d.initialized }

// SetBit modifies out_mirror only; it does not touch hardware. The caller
// must follow with CommitOutputs to latch the change.
func (d *Driver) SetBit(chip, bit int, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v {
		d.outMirror[chip] |= 1 << uint(bit)
	} else {
		d.outMirror[chip] &^= 1 << uint(bit)
	}
}

// GetBit returns the current out_mirror value of chip/bit.
func (d *Driver) GetBit(chip, bit int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outMirror[chip]&(1<<uint(bit)) != 0
}

// OutMirror returns a copy of the output mirror (for tests/diagnostics).
func (d *Driver) OutMirror() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]byte, len(d.outMirror))
	copy(out, d.outMirror)
	return out
}

// InMirror returns a copy of the input mirror (for tests/diagnostics).
func (d *Driver) InMirror() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	in := make([]byte, len(d.inMirror))
	copy(in, d.inMirror)
	return in
}

// GetInputBit returns the last-refreshed value of an input chip/bit.
func (d *Driver) GetInputBit(chip, bit int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inMirror[chip]&(1<<uint(bit)) != 0
}

// CommitOutputs drives the hardware from out_mirror (§4.4: drop latch,
// shift MSB-first from the highest chip down, raise latch).
func (d *Driver) CommitOutputs() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commitOutputsLocked()
}

func (d *Driver) commitOutputsLocked() {
	d.gp.Write(d.wiring.OutLatchPin, false)

	for chip := len(d.outMirror) - 1; chip >= 0; chip-- {
		b := d.outMirror[chip]
		for bit := 7; bit >= 0; bit-- {
			level := b&(1<<uint(bit)) != 0
			d.gp.Write(d.wiring.OutDataPin, level)
			d.gp.Write(d.wiring.OutClockPin, true)
			d.sleep(clockPulse)
			d.gp.Write(d.wiring.OutClockPin, false)
			d.sleep(clockPulse)
		}
	}

	d.gp.Write(d.wiring.OutLatchPin, true)
	d.sleep(latchSettle)
}

// RefreshInputs pulses the load line and clocks in numInputChips*8 bits
// into in_mirror (§4.4).
func (d *Driver) RefreshInputs() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gp.Write(d.wiring.InLoadPin, false)
	d.sleep(loadSettle)
	d.gp.Write(d.wiring.InLoadPin, true)

	for chip := 0; chip < len(d.inMirror); chip++ {
		var b byte
		for bit := 7; bit >= 0; bit-- {
			level := d.gp.Read(d.wiring.InDataPin)
			if level {
				b |= 1 << uint(bit)
			}
			d.gp.Write(d.wiring.InClockPin, true)
			d.sleep(clockPulse)
			d.gp.Write(d.wiring.InClockPin, false)
			d.sleep(clockPulse)
		}
		d.inMirror[chip] = b
	}
}
