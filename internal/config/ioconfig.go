package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/iopoint"
)

// wireDoc / pointDoc mirror the persisted JSON shape of spec.md §6.2: IEEE-754
// doubles, unknown fields ignored, missing optional fields take documented
// defaults.
type wireDoc struct {
	Wiring wireWiring          `json:"wiring"`
	Points map[string]wirePoint `json:"points"`
}

type wireWiring struct {
	OutClockPin    int `json:"outClockPin"`
	OutLatchPin    int `json:"outLatchPin"`
	OutDataPin     int `json:"outDataPin"`
	OutEnablePin   *int `json:"outEnablePin"`
	InClockPin     int `json:"inClockPin"`
	InLoadPin      int `json:"inLoadPin"`
	InDataPin      int `json:"inDataPin"`
	NumOutputChips int `json:"numOutputChips"`
	NumInputChips  int `json:"numInputChips"`
}

type wirePoint struct {
	Id          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Kind        string       `json:"kind"`
	Pin         int          `json:"pin"`
	PullUp      bool         `json:"pullUp"`
	ChipIndex   int          `json:"chipIndex"`
	BitIndex    int          `json:"bitIndex"`
	OutputKind  string       `json:"outputKind"`
	FlowRate    float64      `json:"flowRateMLPerSecond"`
	Emitters    int          `json:"emitterCount"`
	CalDate     string       `json:"calibrationDate"`
	Calibrated  bool         `json:"isCalibrated"`
	Notes       string       `json:"notes"`
	Inverted    bool         `json:"inverted"`
	RangeMin    float64      `json:"rangeMin"`
	RangeMax    float64      `json:"rangeMax"`
	Signal      wireSignal   `json:"signal"`
	Alarm       wireAlarm    `json:"alarm"`
}

type wireSignal struct {
	Enabled   bool             `json:"enabled"`
	Filter    string           `json:"filter"`
	SMAWindow int              `json:"smaWindow"`
	Gain      *float64         `json:"gain"`
	Offset    float64          `json:"offset"`
	Scaling   *float64         `json:"scaling"`
	Precision int              `json:"precision"`
	Units     string           `json:"units"`
	Lookup    [][2]float64     `json:"lookup"`
}

type wireAlarm struct {
	Enabled                       bool    `json:"enabled"`
	HistorySize                   int     `json:"historySize"`
	RateOfChangeThreshold         float64 `json:"rateOfChangeThreshold"`
	DisconnectedThreshold         float64 `json:"disconnectedThreshold"`
	MaxValueThreshold             float64 `json:"maxValueThreshold"`
	StuckWindowSamples            int     `json:"stuckWindowSamples"`
	StuckDeltaThreshold           float64 `json:"stuckDeltaThreshold"`
	PersistenceSamples            int     `json:"persistenceSamples"`
	ClearHysteresisValue          float64 `json:"clearHysteresisValue"`
	ClearSamples                  int     `json:"clearSamples"`
	RequiresManualReset           bool    `json:"requiresManualReset"`
	ConsecutiveGoodToRestoreTrust int     `json:"consecutiveGoodToRestoreTrust"`
}

// Validator accumulates configuration validation errors, grounded on
// pkg/scenario/validator/validator.go's accumulate-then-report shape.
type Validator struct {
	Errors []string
	adc    map[int]bool
}

// NewValidator creates a Validator. adcPins, if non-nil, restricts which
// pins may be used for GpioAnalogIn points.
func NewValidator(adcPins map[int]bool) *Validator {
	return &Validator{adc: adcPins}
}

func (v *Validator) fail(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks doc against the invariants of spec.md §3/§4.1 and, if
// valid, returns the constructed IoConfiguration.
func (v *Validator) Validate(doc *wireDoc) (*iopoint.IoConfiguration, error) {
	wiring := iopoint.ShiftRegisterWiring{
		OutClockPin: doc.Wiring.OutClockPin, OutLatchPin: doc.Wiring.OutLatchPin, OutDataPin: doc.Wiring.OutDataPin,
		OutEnablePin: -1,
		InClockPin:   doc.Wiring.InClockPin, InLoadPin: doc.Wiring.InLoadPin, InDataPin: doc.Wiring.InDataPin,
		NumOutputChips: doc.Wiring.NumOutputChips, NumInputChips: doc.Wiring.NumInputChips,
	}
	if doc.Wiring.OutEnablePin != nil {
		wiring.OutEnablePin = *doc.Wiring.OutEnablePin
	}
	if wiring.NumOutputChips < 0 || wiring.NumInputChips < 0 {
		v.fail("wiring: chip counts must be non-negative")
	}

	points := make(map[iopoint.PointId]*iopoint.IoPointConfig, len(doc.Points))
	usedGpio := map[int]string{}
	usedShiftOut := map[[2]int]string{}
	usedShiftIn := map[[2]int]string{}

	for key, wp := range doc.Points {
		id := iopoint.PointId(wp.Id)
		if id == "" {
			id = iopoint.PointId(key)
		}
		if len(id) > iopoint.MaxPointIdBytes {
			v.fail("point %s: id exceeds %d bytes", id, iopoint.MaxPointIdBytes)
			continue
		}
		if _, dup := points[id]; dup {
			v.fail("point %s: duplicate id", id)
			continue
		}

		cfg := &iopoint.IoPointConfig{
			Id: id, Name: wp.Name, Description: wp.Description,
			Inverted: wp.Inverted, RangeMin: wp.RangeMin, RangeMax: wp.RangeMax,
		}

		if !v.buildKind(&cfg.Kind, wp, wiring, usedGpio, usedShiftOut, usedShiftIn, string(id)) {
			continue
		}

		v.buildSignal(&cfg.Signal, wp.Signal, string(id))
		v.buildAlarm(&cfg.Alarm, wp.Alarm, string(id))

		points[id] = cfg
	}

	if len(v.Errors) > 0 {
		return nil, apierr.New(apierr.InvalidConfig, "%d validation error(s): %v", len(v.Errors), v.Errors)
	}

	return &iopoint.IoConfiguration{Wiring: wiring, Points: points}, nil
}

func (v *Validator) buildKind(kind *iopoint.PointKind, wp wirePoint, wiring iopoint.ShiftRegisterWiring, usedGpio map[int]string, usedShiftOut, usedShiftIn map[[2]int]string, id string) bool {
	switch wp.Kind {
	case "GpioAnalogIn":
		if v.adc != nil && !v.adc[wp.Pin] {
			v.fail("point %s: pin %d is not ADC-capable", id, wp.Pin)
			return false
		}
		if owner, dup := usedGpio[wp.Pin]; dup {
			v.fail("point %s: pin %d already used by %s", id, wp.Pin, owner)
			return false
		}
		usedGpio[wp.Pin] = id
		kind.Tag = iopoint.KindGpioAnalogIn
		kind.Pin = wp.Pin
		return true

	case "GpioBinaryIn":
		if owner, dup := usedGpio[wp.Pin]; dup {
			v.fail("point %s: pin %d already used by %s", id, wp.Pin, owner)
			return false
		}
		usedGpio[wp.Pin] = id
		kind.Tag = iopoint.KindGpioBinaryIn
		kind.Pin = wp.Pin
		kind.PullUp = wp.PullUp
		return true

	case "GpioBinaryOut":
		if owner, dup := usedGpio[wp.Pin]; dup {
			v.fail("point %s: pin %d already used by %s", id, wp.Pin, owner)
			return false
		}
		usedGpio[wp.Pin] = id
		kind.Tag = iopoint.KindGpioBinaryOut
		kind.Pin = wp.Pin
		return true

	case "ShiftRegBinaryIn":
		if wp.ChipIndex < 0 || wp.ChipIndex >= wiring.NumInputChips || wp.BitIndex < 0 || wp.BitIndex > 7 {
			v.fail("point %s: chip/bit index out of wiring bounds", id)
			return false
		}
		key := [2]int{wp.ChipIndex, wp.BitIndex}
		if owner, dup := usedShiftIn[key]; dup {
			v.fail("point %s: shift-in chip %d bit %d already used by %s", id, wp.ChipIndex, wp.BitIndex, owner)
			return false
		}
		usedShiftIn[key] = id
		kind.Tag = iopoint.KindShiftRegBinaryIn
		kind.ChipIndex, kind.BitIndex = wp.ChipIndex, wp.BitIndex
		return true

	case "ShiftRegBinaryOut":
		if wp.ChipIndex < 0 || wp.ChipIndex >= wiring.NumOutputChips || wp.BitIndex < 0 || wp.BitIndex > 7 {
			v.fail("point %s: chip/bit index out of wiring bounds", id)
			return false
		}
		key := [2]int{wp.ChipIndex, wp.BitIndex}
		if owner, dup := usedShiftOut[key]; dup {
			v.fail("point %s: shift-out chip %d bit %d already used by %s", id, wp.ChipIndex, wp.BitIndex, owner)
			return false
		}
		usedShiftOut[key] = id
		kind.Tag = iopoint.KindShiftRegBinaryOut
		kind.ChipIndex, kind.BitIndex = wp.ChipIndex, wp.BitIndex
		kind.OutputKind = parseOutputKind(wp.OutputKind)
		kind.FlowRateMLPerSec = wp.FlowRate
		kind.EmitterCount = wp.Emitters
		kind.CalibrationDate = wp.CalDate
		kind.IsCalibrated = wp.Calibrated
		kind.Notes = wp.Notes
		return true

	default:
		v.fail("point %s: unknown kind %q", id, wp.Kind)
		return false
	}
}

func parseOutputKind(s string) iopoint.OutputKind {
	switch s {
	case "lighting":
		return iopoint.OutputLighting
	case "pump":
		return iopoint.OutputPump
	case "fan":
		return iopoint.OutputFan
	case "heater":
		return iopoint.OutputHeater
	case "solenoid", "":
		return iopoint.OutputSolenoid
	default:
		return iopoint.OutputGeneric
	}
}

func (v *Validator) buildSignal(out *iopoint.SignalConfig, wp wireSignal, id string) {
	out.Enabled = wp.Enabled
	out.Offset = wp.Offset
	out.Units = wp.Units
	out.Gain = 1
	if wp.Gain != nil {
		out.Gain = *wp.Gain
	}
	out.Scaling = 1
	if wp.Scaling != nil {
		out.Scaling = *wp.Scaling
	}

	switch wp.Filter {
	case "SimpleMovingAverage":
		out.Filter = iopoint.FilterSMA
		out.SMAWindow = wp.SMAWindow
		if out.SMAWindow < 1 || out.SMAWindow > 16 {
			v.fail("point %s: sma window %d out of [1,16]", id, out.SMAWindow)
		}
	case "", "None":
		out.Filter = iopoint.FilterNone
	default:
		v.fail("point %s: unknown filter %q", id, wp.Filter)
	}

	if wp.Precision < 0 || wp.Precision > 6 {
		v.fail("point %s: precision %d out of [0,6]", id, wp.Precision)
	}
	out.Precision = wp.Precision

	if len(wp.Lookup) == 0 {
		return
	}
	if len(wp.Lookup) < 2 || len(wp.Lookup) > 16 {
		v.fail("point %s: lookup table must have 2..16 entries", id)
		return
	}
	out.Lookup = make([]iopoint.LookupPoint, len(wp.Lookup))
	for i, p := range wp.Lookup {
		out.Lookup[i] = iopoint.LookupPoint{X: p[0], Y: p[1]}
		if i > 0 && out.Lookup[i].X <= out.Lookup[i-1].X {
			v.fail("point %s: lookup table not strictly x-increasing at entry %d", id, i)
		}
	}
}

func (v *Validator) buildAlarm(out *iopoint.AlarmConfig, wp wireAlarm, id string) {
	out.Enabled = wp.Enabled
	out.HistorySize = wp.HistorySize
	if out.HistorySize == 0 {
		out.HistorySize = iopoint.RuntimeHistoryCap
	}
	if out.HistorySize < 1 || out.HistorySize > 1000 {
		v.fail("point %s: alarm history size %d out of [1,1000]", id, out.HistorySize)
	}
	out.Rules = iopoint.AlarmRuleParams{
		RateOfChangeThreshold: wp.RateOfChangeThreshold,
		DisconnectedThreshold: wp.DisconnectedThreshold,
		MaxValueThreshold:     wp.MaxValueThreshold,
		StuckWindowSamples:    wp.StuckWindowSamples,
		StuckDeltaThreshold:   wp.StuckDeltaThreshold,
	}
	out.PersistenceSamples = wp.PersistenceSamples
	if out.PersistenceSamples < 1 {
		out.PersistenceSamples = 1
	}
	out.ClearSamples = wp.ClearSamples
	if out.ClearSamples < 1 {
		out.ClearSamples = 1
	}
	out.ClearHysteresisValue = wp.ClearHysteresisValue
	out.RequiresManualReset = wp.RequiresManualReset
	out.ConsecutiveGoodToRestoreTrust = wp.ConsecutiveGoodToRestoreTrust
	if out.ConsecutiveGoodToRestoreTrust < 1 {
		out.ConsecutiveGoodToRestoreTrust = 1
	}
}

// IoConfigStore loads, validates, and atomically serves an IoConfiguration
// (C1, §4.1). Reload swaps the whole value; on validation failure the old
// configuration remains in force.
type IoConfigStore struct {
	path    string
	current atomic.Pointer[iopoint.IoConfiguration]
	adc     map[int]bool
}

// NewIoConfigStore creates a store bound to path. Load must be called
// before Get returns anything meaningful.
func NewIoConfigStore(path string, adcPins map[int]bool) *IoConfigStore {
	return &IoConfigStore{path: path, adc: adcPins}
}

// Get returns the currently active configuration.
func (s *IoConfigStore) Get() *iopoint.IoConfiguration {
	return s.current.Load()
}

// Load reads and validates the configuration at s.path, swapping it in on
// success. This is used for the initial load; Reload is identical but
// named for the operational "reload" use case of §4.1.
func (s *IoConfigStore) Load() error {
	return s.reloadFrom(s.path)
}

// Reload re-reads and re-validates s.path (§4.1: "the only mutation").
func (s *IoConfigStore) Reload() error {
	return s.reloadFrom(s.path)
}

// LoadBytes validates raw JSON bytes directly, without touching the
// filesystem (used by tests).
func (s *IoConfigStore) LoadBytes(data []byte) error {
	cfg, err := parseAndValidate(data, s.adc)
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	return nil
}

func (s *IoConfigStore) reloadFrom(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apierr.New(apierr.InvalidConfig, "read %s: %v", path, err)
	}
	return s.LoadBytes(data)
}

func parseAndValidate(data []byte, adc map[int]bool) (*iopoint.IoConfiguration, error) {
	var doc wireDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, apierr.New(apierr.InvalidConfig, "parse json: %v", err)
	}
	v := NewValidator(adc)
	return v.Validate(&doc)
}
