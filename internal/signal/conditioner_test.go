package signal

import (
	"math"
	"testing"

	"github.com/jihwankim/irrig-core/internal/iopoint"
)

func approxEqual(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestIdentityPipelineRoundsInput(t *testing.T) {
	cfg := &iopoint.SignalConfig{Filter: iopoint.FilterNone, Gain: 1, Offset: 0, Scaling: 1, Precision: 0}
	sma := &iopoint.SMAState{}
	got := Condition(7, cfg, sma)
	if got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}

func TestSMAWindow3Sequence(t *testing.T) {
	cfg := &iopoint.SignalConfig{Filter: iopoint.FilterSMA, SMAWindow: 3, Gain: 1, Scaling: 1, Precision: 2}
	sma := &iopoint.SMAState{}
	inputs := []float64{1.0, 2.0, 3.0, 4.0}
	want := []float64{1.00, 1.50, 2.00, 3.00}
	for i, raw := range inputs {
		got := Condition(raw, cfg, sma)
		if !approxEqual(got, want[i], 1e-9) {
			t.Fatalf("sample %d: got %v want %v", i, got, want[i])
		}
	}
}

func TestSMAWindowOneReturnsRawEachTime(t *testing.T) {
	cfg := &iopoint.SignalConfig{Filter: iopoint.FilterSMA, SMAWindow: 1, Gain: 1, Scaling: 1, Precision: 2}
	sma := &iopoint.SMAState{}
	for _, raw := range []float64{1, 5, -3, 9.5} {
		got := Condition(raw, cfg, sma)
		if got != raw {
			t.Fatalf("window=1: got %v want %v", got, raw)
		}
	}
}

func TestLookupClampsAndMatchesKnots(t *testing.T) {
	table := []iopoint.LookupPoint{{X: 0, Y: 0}, {X: 10, Y: 100}, {X: 20, Y: 100}}
	cfg := &iopoint.SignalConfig{Gain: 1, Scaling: 1, Precision: 2, Lookup: table}
	sma := &iopoint.SMAState{}

	if got := Condition(-5, cfg, sma); got != 0 {
		t.Fatalf("below x0: got %v want 0", got)
	}
	if got := Condition(25, cfg, sma); got != 100 {
		t.Fatalf("above xn: got %v want 100", got)
	}
	if got := Condition(10, cfg, sma); got != 100 {
		t.Fatalf("at knot: got %v want 100", got)
	}
	if got := Condition(5, cfg, sma); got != 50 {
		t.Fatalf("midpoint: got %v want 50", got)
	}
}

func TestLookupCoincidentXReturnsLeftEndpoint(t *testing.T) {
	table := []iopoint.LookupPoint{{X: 0, Y: 1}, {X: 5, Y: 2}, {X: 5, Y: 9}, {X: 10, Y: 3}}
	cfg := &iopoint.SignalConfig{Gain: 1, Scaling: 1, Precision: 2, Lookup: table}
	sma := &iopoint.SMAState{}
	if got := Condition(5, cfg, sma); got != 2 {
		t.Fatalf("coincident x: got %v want 2 (left endpoint)", got)
	}
}

func TestRoundingHalfAwayFromZero(t *testing.T) {
	cfg := &iopoint.SignalConfig{Gain: 1, Scaling: 1, Precision: 0}
	sma := &iopoint.SMAState{}
	if got := Condition(2.5, cfg, sma); got != 3 {
		t.Fatalf("2.5 should round to 3, got %v", got)
	}
	if got := Condition(-2.5, cfg, sma); got != -3 {
		t.Fatalf("-2.5 should round to -3, got %v", got)
	}
}

func TestGainOffsetScalingOrder(t *testing.T) {
	// v = (raw + offset) * gain * scaling
	cfg := &iopoint.SignalConfig{Offset: 2, Gain: 3, Scaling: 2, Precision: 0}
	sma := &iopoint.SMAState{}
	got := Condition(1, cfg, sma) // (1+2)*3*2 = 18
	if got != 18 {
		t.Fatalf("expected 18, got %v", got)
	}
}
