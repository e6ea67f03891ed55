package priority

import (
	"testing"
	"time"
)

type fakeDepthSource struct {
	depth [NumPriorities]int
	cap   int
}

func (f fakeDepthSource) TotalDepth() int {
	total := 0
	for _, d := range f.depth {
		total += d
	}
	return total
}
func (f fakeDepthSource) TotalCapacity() int               { return f.cap }
func (f fakeDepthSource) DepthByPriority() [NumPriorities]int { return f.depth }

func TestAdmitNormalModeAdmitsAll(t *testing.T) {
	m := New(Config{}, nil)
	for p := Emergency; p < NumPriorities; p++ {
		if _, err := m.Admit(p); err != nil {
			t.Fatalf("expected %s to be admitted in normal mode: %v", p, err)
		}
	}
}

func TestAdmitEmergencyRejectsBelowIoCritical(t *testing.T) {
	m := New(Config{}, nil)
	m.EnterEmergency(10 * time.Second)

	if _, err := m.Admit(Normal); err == nil {
		t.Fatal("expected Normal to be rejected under emergency")
	}
	if _, err := m.Admit(IoCritical); err != nil {
		t.Fatalf("expected IoCritical to be admitted under emergency: %v", err)
	}
	if _, err := m.Admit(Emergency); err != nil {
		t.Fatalf("expected Emergency to be admitted under emergency: %v", err)
	}
}

func TestAdmitLoadSheddingDegradesAndRejectsBackground(t *testing.T) {
	m := New(Config{}, nil)
	m.EnableLoadShedding(true)

	if _, err := m.Admit(Background); err == nil {
		t.Fatal("expected Background to be rejected under load shedding")
	}
	got, err := m.Admit(UiCritical)
	if err != nil || got != Normal {
		t.Fatalf("expected UiCritical to degrade to Normal, got %s err %v", got, err)
	}
	got, err = m.Admit(Normal)
	if err != nil || got != Background {
		t.Fatalf("expected Normal to degrade to Background, got %s err %v", got, err)
	}
}

func TestAdmitMaintenanceRejectsUiCriticalAndBelow(t *testing.T) {
	m := New(Config{}, nil)
	m.EnterMaintenance()

	if _, err := m.Admit(UiCritical); err == nil {
		t.Fatal("expected UiCritical to be rejected under maintenance")
	}
	if _, err := m.Admit(Normal); err == nil {
		t.Fatal("expected Normal to be rejected under maintenance")
	}
	if _, err := m.Admit(Authentication); err != nil {
		t.Fatalf("expected Authentication to be admitted under maintenance: %v", err)
	}
}

func TestEmergencyTimeoutReturnsToNormal(t *testing.T) {
	m := New(Config{}, nil)
	var now int64
	m.clock = func() int64 { return now }

	m.EnterEmergency(10 * time.Millisecond)
	if m.CheckEmergencyTimeout() {
		t.Fatal("expected timeout check to be false immediately after entering")
	}

	now += int64((11 * time.Millisecond).Microseconds())
	if !m.CheckEmergencyTimeout() {
		t.Fatal("expected timeout check to fire after ttl elapses")
	}
	if m.Mode() != ModeNormal {
		t.Fatalf("expected mode Normal after timeout, got %s", m.Mode())
	}
}

func TestLoadMetricClampedAndThreshold(t *testing.T) {
	m := New(Config{LoadSheddingThresholdPercent: 50}, nil)
	src := fakeDepthSource{cap: 100, depth: [NumPriorities]int{0, 0, 0, 0, 0, 60}}

	if got := m.LoadMetric(src); got != 60 {
		t.Fatalf("expected load metric 60, got %v", got)
	}
	if !m.ShouldShed(src) {
		t.Fatal("expected ShouldShed true at 60%% with 50%% threshold")
	}

	over := fakeDepthSource{cap: 100, depth: [NumPriorities]int{0, 0, 0, 0, 0, 150}}
	if got := m.LoadMetric(over); got != 100 {
		t.Fatalf("expected load metric clamped to 100, got %v", got)
	}
}

func TestDegradeSaturatesAtBackground(t *testing.T) {
	if got := Background.Degrade(); got != Background {
		t.Fatalf("expected Background to saturate, got %s", got)
	}
	if got := Normal.Degrade(); got != Background {
		t.Fatalf("expected Normal to degrade to Background, got %s", got)
	}
}

func TestRecordDispatchExponentialSmoothing(t *testing.T) {
	m := New(Config{}, nil)
	m.RecordDispatch(Normal, 10*time.Millisecond)
	m.RecordDispatch(Normal, 30*time.Millisecond)

	stats := m.Stats(nil)
	if stats.AvgProcessingMs[Normal] != 20 {
		t.Fatalf("expected smoothed average 20ms, got %v", stats.AvgProcessingMs[Normal])
	}
}
