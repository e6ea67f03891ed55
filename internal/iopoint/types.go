// Package iopoint holds the shared I/O data model (spec.md §3): point
// identifiers, point kinds, signal and alarm configuration, the immutable
// per-epoch IoConfiguration, and the mutable per-point PointRuntime.
package iopoint

// PointId is a stable identifier for an I/O point within a configuration
// epoch. Keys are unique within an IoConfiguration.
type PointId string

// MaxPointIdBytes is the maximum encoded length of a PointId.
const MaxPointIdBytes = 32

// PointKindTag discriminates the PointKind variants.
type PointKindTag int

const (
	KindGpioAnalogIn PointKindTag = iota
	KindGpioBinaryIn
	KindGpioBinaryOut
	KindShiftRegBinaryIn
	KindShiftRegBinaryOut
)

func (k PointKindTag) String() string {
	switch k {
	case KindGpioAnalogIn:
		return "GpioAnalogIn"
	case KindGpioBinaryIn:
		return "GpioBinaryIn"
	case KindGpioBinaryOut:
		return "GpioBinaryOut"
	case KindShiftRegBinaryIn:
		return "ShiftRegBinaryIn"
	case KindShiftRegBinaryOut:
		return "ShiftRegBinaryOut"
	default:
		return "Unknown"
	}
}

// OutputKind classifies a shift-register binary output's real-world load.
type OutputKind int

const (
	OutputSolenoid OutputKind = iota
	OutputLighting
	OutputPump
	OutputFan
	OutputHeater
	OutputGeneric
)

func (k OutputKind) String() string {
	switch k {
	case OutputSolenoid:
		return "solenoid"
	case OutputLighting:
		return "lighting"
	case OutputPump:
		return "pump"
	case OutputFan:
		return "fan"
	case OutputHeater:
		return "heater"
	default:
		return "generic"
	}
}

// PointKind is a tagged union over the five hardware-address shapes a point
// can take. Only the fields relevant to Tag are meaningful.
type PointKind struct {
	Tag PointKindTag

	// GpioAnalogIn / GpioBinaryIn / GpioBinaryOut
	Pin    int
	PullUp bool // GpioBinaryIn only

	// ShiftRegBinaryIn / ShiftRegBinaryOut
	ChipIndex int
	BitIndex  int

	// ShiftRegBinaryOut only
	OutputKind         OutputKind
	FlowRateMLPerSec   float64
	EmitterCount       int
	CalibrationDate    string
	IsCalibrated       bool
	Notes              string
}

// FilterKind selects the point's filter stage.
type FilterKind int

const (
	FilterNone FilterKind = iota
	FilterSMA
)

// LookupPoint is one (x, y) knot of a piecewise-linear lookup table.
type LookupPoint struct {
	X, Y float64
}

// SignalConfig is the per-point signal-conditioning configuration (§4.5).
type SignalConfig struct {
	Enabled   bool
	Filter    FilterKind
	SMAWindow int // valid when Filter == FilterSMA, in [1,16]
	Gain      float64
	Offset    float64
	Scaling   float64
	Precision int // decimal places, [0,6]
	Units     string
	Lookup    []LookupPoint // nil/empty disables lookup; else >=2 entries, strictly x-increasing
}

// AlarmRuleParams holds the four independent alarm-rule parameter sets
// (§3 AlarmRules).
type AlarmRuleParams struct {
	RateOfChangeThreshold float64
	DisconnectedThreshold float64
	MaxValueThreshold     float64
	StuckWindowSamples    int
	StuckDeltaThreshold   float64
}

// AlarmConfig is the per-point alarm configuration (§3/§4.6).
type AlarmConfig struct {
	Enabled                      bool
	HistorySize                  int // [1,1000]; runtime ring buffer is fixed at RuntimeHistoryCap (§9 open question)
	Rules                        AlarmRuleParams
	PersistenceSamples           int
	ClearHysteresisValue         float64
	ClearSamples                 int
	RequiresManualReset          bool
	ConsecutiveGoodToRestoreTrust int
}

// IoPointConfig is one point's complete static configuration (§3).
type IoPointConfig struct {
	Id          PointId
	Name        string
	Description string
	Kind        PointKind
	Inverted    bool
	RangeMin    float64
	RangeMax    float64
	Signal      SignalConfig
	Alarm       AlarmConfig
}

// IsOutput reports whether this point kind drives hardware.
func (c *IoPointConfig) IsOutput() bool {
	return c.Kind.Tag == KindGpioBinaryOut || c.Kind.Tag == KindShiftRegBinaryOut
}

// IsAnalog reports whether this point produces a conditioned floating value.
func (c *IoPointConfig) IsAnalog() bool {
	return c.Kind.Tag == KindGpioAnalogIn
}

// IsBinaryInput reports whether this point is a digital input.
func (c *IoPointConfig) IsBinaryInput() bool {
	return c.Kind.Tag == KindGpioBinaryIn || c.Kind.Tag == KindShiftRegBinaryIn
}

// ShiftRegisterWiring describes the physical wiring of the output and input
// shift-register chains (§3).
type ShiftRegisterWiring struct {
	OutClockPin   int
	OutLatchPin   int
	OutDataPin    int
	OutEnablePin  int // -1 if absent
	InClockPin    int
	InLoadPin     int
	InDataPin     int
	NumOutputChips int
	NumInputChips  int
}

// HasOutputEnable reports whether an output-enable pin was configured.
func (w *ShiftRegisterWiring) HasOutputEnable() bool {
	return w.OutEnablePin >= 0
}

// IoConfiguration is the complete, immutable-per-epoch I/O configuration
// (§3). A new IoConfiguration is produced and atomically swapped in on
// every successful reload (§4.1).
type IoConfiguration struct {
	Wiring ShiftRegisterWiring
	Points map[PointId]*IoPointConfig
}

// SortedPointIds returns point ids in stable (lexical) order, for
// deterministic iteration (e.g. route registration, listing endpoints).
func (c *IoConfiguration) SortedPointIds() []PointId {
	ids := make([]PointId, 0, len(c.Points))
	for id := range c.Points {
		ids = append(ids, id)
	}
	// insertion sort is fine: point counts are small (tens, not thousands)
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
	return ids
}

// RuntimeHistoryCap is the authoritative alarm-sample history depth used by
// StuckSignal regardless of the configured AlarmConfig.HistorySize (§9 open
// question: "treat 20 as authoritative").
const RuntimeHistoryCap = 20

// NumAlarmRules is the count of independent alarm rules per point (§3).
const NumAlarmRules = 4

const (
	RuleRateOfChange = iota
	RuleDisconnected
	RuleMaxValue
	RuleStuckSignal
)

// SMAState is the per-point simple-moving-average filter state (§3).
type SMAState struct {
	Buffer [16]float64
	Head   int
	Count  int
	Sum    float64
}

// AlarmRuntimeState is the per-rule mutable alarm state machine data (§3/§4.6).
type AlarmRuntimeState struct {
	Active              [NumAlarmRules]bool
	ActivationCount      [NumAlarmRules]int
	FirstActivatedUs     [NumAlarmRules]int64
	PersistenceCounter   [NumAlarmRules]int
	ClearCounter         [NumAlarmRules]int
	History              [RuntimeHistoryCap]float64
	HistoryHead          int
	HistoryCount         int
	ConsecutiveGood      int
	TrustRestored        bool
}

// AnyActive reports whether any of the four rules is currently Active.
func (a *AlarmRuntimeState) AnyActive() bool {
	for _, v := range a.Active {
		if v {
			return true
		}
	}
	return false
}

// PointRuntime is the per-point mutable state owned exclusively by the I/O
// manager (C7) (§3).
type PointRuntime struct {
	Raw           float64
	Conditioned   float64
	Digital       bool
	HasError      bool
	LastUpdateUs  int64
	UpdateCount   uint64
	ErrorCount    uint64
	SMA           SMAState
	Alarms        AlarmRuntimeState
}

// AlarmActive is the OR of the four rule states (§4.6).
func (r *PointRuntime) AlarmActive() bool {
	return r.Alarms.AnyActive()
}
