package iomanager

import (
	"context"
	"testing"
	"time"

	"github.com/jihwankim/irrig-core/internal/apierr"
	"github.com/jihwankim/irrig-core/internal/gpio"
	"github.com/jihwankim/irrig-core/internal/iopoint"
	"github.com/jihwankim/irrig-core/internal/shiftreg"
)

func testCfg() *iopoint.IoConfiguration {
	wiring := iopoint.ShiftRegisterWiring{NumOutputChips: 1, NumInputChips: 1}
	return &iopoint.IoConfiguration{
		Wiring: wiring,
		Points: map[iopoint.PointId]*iopoint.IoPointConfig{
			"R0": {
				Id:   "R0",
				Kind: iopoint.PointKind{Tag: iopoint.KindShiftRegBinaryOut, ChipIndex: 0, BitIndex: 0},
			},
			"AI0": {
				Id:   "AI0",
				Kind: iopoint.PointKind{Tag: iopoint.KindGpioAnalogIn, Pin: 1},
				Signal: iopoint.SignalConfig{Enabled: true, Gain: 1, Scaling: 1, Precision: 2},
			},
			"DI0": {
				Id:   "DI0",
				Kind: iopoint.PointKind{Tag: iopoint.KindGpioBinaryIn, Pin: 2},
			},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *gpio.SimHardware) {
	t.Helper()
	hw := gpio.NewSimHardware()
	gp := gpio.New(hw)
	cfg := testCfg()
	for _, pc := range cfg.Points {
		switch pc.Kind.Tag {
		case iopoint.KindGpioAnalogIn:
			gp.ConfigureAnalog(pc.Kind.Pin)
		case iopoint.KindGpioBinaryIn:
			gp.ConfigureInput(pc.Kind.Pin)
		}
	}
	gp.SafeStateInit()
	sr := shiftreg.New(cfg.Wiring, gp)
	sr.SafeStateInit()

	m := New(cfg, gp, sr, 10*time.Millisecond, nil)
	return m, hw
}

func TestSetBinaryOutputWritesHardwareAndRuntime(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.SetBinaryOutput("R0", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := m.GetBinaryOutput("R0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatal("expected output state true")
	}
}

func TestSetBinaryOutputWrongKindRejected(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.SetBinaryOutput("AI0", true)
	if apierr.KindOf(err) != apierr.WrongKind {
		t.Fatalf("expected WrongKind, got %v", err)
	}
}

func TestUpdateInputsConditionsAnalogValue(t *testing.T) {
	m, hw := newTestManager(t)
	hw.SetAnalog(1, 2000)

	m.UpdateInputs()

	raw, err := m.GetAnalogRaw("AI0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if raw != 2000 {
		t.Fatalf("expected raw 2000, got %v", raw)
	}
	cond, _ := m.GetAnalogConditioned("AI0")
	if cond != 2000 {
		t.Fatalf("expected conditioned 2000 with identity signal config, got %v", cond)
	}
}

func TestUpdateInputsReadsDigitalInput(t *testing.T) {
	m, hw := newTestManager(t)
	hw.SetDigitalInput(2, true)

	m.UpdateInputs()

	v, err := m.GetBinaryInput("DI0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected digital input true")
	}
}

func TestGetRuntimeUnknownPointNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.GetRuntime("nope")
	if apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestStartStopPollingRunsCycles(t *testing.T) {
	m, hw := newTestManager(t)
	hw.SetAnalog(1, 1234)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartPolling(ctx)
	time.Sleep(35 * time.Millisecond)
	m.StopPolling()

	stats := m.Stats()
	if stats.UpdateCycles == 0 {
		t.Fatal("expected at least one poll cycle to have run")
	}
	if stats.PollingActive {
		t.Fatal("expected polling to be stopped")
	}
}

func TestGetRuntimeTimesOutWhenMutexHeld(t *testing.T) {
	m, _ := newTestManager(t)

	m.mu.Lock()
	release := make(chan struct{})
	go func() {
		<-release
		m.mu.Unlock()
	}()
	defer close(release)

	_, err := m.GetRuntime("R0")
	if apierr.KindOf(err) != apierr.Timeout {
		t.Fatalf("expected Timeout once the mutex budget is exhausted, got %v", err)
	}
}

func TestReloadConfigClearsRuntimeState(t *testing.T) {
	m, hw := newTestManager(t)
	hw.SetAnalog(1, 500)
	m.UpdateInputs()

	rt, _ := m.GetRuntime("AI0")
	if rt.UpdateCount == 0 {
		t.Fatal("expected update count to be nonzero before reload")
	}

	ctx := context.Background()
	m.ReloadConfig(ctx, testCfg())

	rt2, err := m.GetRuntime("AI0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rt2.UpdateCount != 0 {
		t.Fatal("expected runtime state to be reset after reload")
	}
}
