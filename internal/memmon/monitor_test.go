package memmon

import (
	"testing"
	"time"

	"github.com/keyflow/keyflow/internal/model"
)

func sampleAt(percent float64) model.MemorySample {
	return model.MemorySample{Timestamp: time.Now(), PercentUsed: percent}
}

func TestObserveTrace(t *testing.T) {
	m := New(DefaultThresholds(), nil)

	trace := []float64{60, 82, 90, 65, 55}
	want := []model.Pressure{
		model.PressureLow,
		model.PressureHigh,
		model.PressureHigh,
		model.PressureHigh, // inside the dead-band, stays latched
		model.PressureLow,
	}
	for i, pct := range trace {
		got := m.Observe(sampleAt(pct))
		if got != want[i] {
			t.Fatalf("step %d (%.0f%%): got %s, want %s", i, pct, got, want[i])
		}
	}
}

func TestObserveNoFlapAroundThreshold(t *testing.T) {
	m := New(DefaultThresholds(), nil)

	m.Observe(sampleAt(81))
	if m.Pressure() != model.PressureHigh {
		t.Fatalf("expected High at 81%%, got %s", m.Pressure())
	}
	// Oscillation just under the entry threshold must not change the level.
	for i := 0; i < 20; i++ {
		pct := 79.0
		if i%2 == 0 {
			pct = 81
		}
		if got := m.Observe(sampleAt(pct)); got != model.PressureHigh {
			t.Fatalf("oscillation step %d: got %s, want High", i, got)
		}
	}
	// 80*0.7 = 56: only a drop under that releases the latch.
	if got := m.Observe(sampleAt(57)); got != model.PressureHigh {
		t.Fatalf("57%% should stay latched, got %s", got)
	}
	if got := m.Observe(sampleAt(55)); got != model.PressureLow {
		t.Fatalf("55%% should release to Low, got %s", got)
	}
}

func TestObserveCriticalBypassesDeadBand(t *testing.T) {
	m := New(DefaultThresholds(), nil)

	if got := m.Observe(sampleAt(95)); got != model.PressureCritical {
		t.Fatalf("expected immediate Critical at 95%%, got %s", got)
	}
}

func TestObserveEdgeCallbacks(t *testing.T) {
	type edge struct{ prev, next model.Pressure }
	var edges []edge
	m := New(DefaultThresholds(), func(prev, next model.Pressure, _ model.MemorySample) {
		edges = append(edges, edge{prev, next})
	})

	for _, pct := range []float64{60, 82, 90, 65, 55} {
		m.Observe(sampleAt(pct))
	}

	want := []edge{
		{model.PressureLow, model.PressureHigh},
		{model.PressureHigh, model.PressureLow},
	}
	if len(edges) != len(want) {
		t.Fatalf("got %d edges, want %d: %v", len(edges), len(want), edges)
	}
	for i, e := range edges {
		if e != want[i] {
			t.Fatalf("edge %d: got %s->%s, want %s->%s", i, e.prev, e.next, want[i].prev, want[i].next)
		}
	}
}

func TestObserveDegradedKeepsLevel(t *testing.T) {
	m := New(DefaultThresholds(), nil)

	m.Observe(sampleAt(85))
	if m.Pressure() != model.PressureHigh {
		t.Fatalf("setup: expected High, got %s", m.Pressure())
	}
	got := m.Observe(model.MemorySample{Timestamp: time.Now(), Degraded: true})
	if got != model.PressureHigh {
		t.Fatalf("degraded sample must keep the latched level, got %s", got)
	}
}

func TestObserveFallingJumpsToRawLevel(t *testing.T) {
	m := New(DefaultThresholds(), nil)

	m.Observe(sampleAt(95)) // Critical, enter 92, exit 64.4
	if got := m.Observe(sampleAt(66)); got != model.PressureCritical {
		t.Fatalf("66%% should stay Critical, got %s", got)
	}
	// Dropping under the exit bound lands on the raw classification of the
	// sample, not one level down.
	if got := m.Observe(sampleAt(60)); got != model.PressureLow {
		t.Fatalf("60%% should release straight to Low, got %s", got)
	}
}

func TestSampleFuncOverride(t *testing.T) {
	fixed := sampleAt(70)
	m := New(DefaultThresholds(), nil, WithSampleFunc(func() model.MemorySample { return fixed }))
	if got := m.Sample(); got.PercentUsed != 70 {
		t.Fatalf("expected injected sample, got %.0f%%", got.PercentUsed)
	}
	m.Observe(m.Sample())
	if got := m.LastSample(); got.PercentUsed != 70 {
		t.Fatalf("expected last sample retained, got %.0f%%", got.PercentUsed)
	}
}
