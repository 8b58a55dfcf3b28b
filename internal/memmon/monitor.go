// Package memmon samples process and system memory and classifies pressure.
package memmon

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/keyflow/keyflow/internal/model"
)

// exitFactor is the dead-band ratio: a latched level is only left once usage
// drops below enterThreshold*exitFactor.
const exitFactor = 0.7

// DefaultInterval is the monitoring tick shared by all consumers.
const DefaultInterval = 30 * time.Second

// Thresholds holds the percent-used boundaries for pressure classification.
type Thresholds struct {
	ElevatedPercent float64
	HighPercent     float64
	CriticalPercent float64
}

// DefaultThresholds returns the stock pressure boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ElevatedPercent: 65,
		HighPercent:     80,
		CriticalPercent: 92,
	}
}

func (t Thresholds) enter(p model.Pressure) float64 {
	switch p {
	case model.PressureCritical:
		return t.CriticalPercent
	case model.PressureHigh:
		return t.HighPercent
	case model.PressureElevated:
		return t.ElevatedPercent
	default:
		return 0
	}
}

func (t Thresholds) raw(percent float64) model.Pressure {
	switch {
	case percent >= t.CriticalPercent:
		return model.PressureCritical
	case percent >= t.HighPercent:
		return model.PressureHigh
	case percent >= t.ElevatedPercent:
		return model.PressureElevated
	default:
		return model.PressureLow
	}
}

// ChangeFunc receives edge-triggered pressure transitions.
type ChangeFunc func(prev, next model.Pressure, sample model.MemorySample)

// Monitor samples memory on a fixed interval and reports pressure edges.
type Monitor struct {
	thresholds Thresholds
	interval   time.Duration
	sampleFn   func() model.MemorySample
	onChange   ChangeFunc

	mu    sync.Mutex
	level model.Pressure
	last  model.MemorySample

	proc *process.Process
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval overrides the monitoring tick.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSampleFunc replaces the real memory reader. Used in tests.
func WithSampleFunc(fn func() model.MemorySample) Option {
	return func(m *Monitor) { m.sampleFn = fn }
}

// New creates a Monitor with the given thresholds.
func New(thresholds Thresholds, onChange ChangeFunc, opts ...Option) *Monitor {
	m := &Monitor{
		thresholds: thresholds,
		interval:   DefaultInterval,
		onChange:   onChange,
		level:      model.PressureLow,
	}
	m.sampleFn = m.readSample
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Sample reads current memory usage. Synchronous and cheap; a failed read
// yields a zeroed sample tagged Degraded instead of an error.
func (m *Monitor) Sample() model.MemorySample {
	return m.sampleFn()
}

func (m *Monitor) readSample() model.MemorySample {
	sample := model.MemorySample{Timestamp: time.Now()}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	sample.HeapUsed = ms.HeapAlloc
	sample.HeapTotal = ms.HeapSys

	vm, err := mem.VirtualMemory()
	if err != nil {
		return model.MemorySample{Timestamp: sample.Timestamp, Degraded: true}
	}
	sample.PercentUsed = vm.UsedPercent

	if m.proc == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return model.MemorySample{Timestamp: sample.Timestamp, Degraded: true}
		}
		m.proc = p
	}
	info, err := m.proc.MemoryInfo()
	if err != nil {
		return model.MemorySample{Timestamp: sample.Timestamp, Degraded: true}
	}
	sample.RSS = info.RSS

	if sample.PercentUsed < 0 {
		sample.PercentUsed = 0
	}
	if sample.PercentUsed > 100 {
		sample.PercentUsed = 100
	}
	return sample
}

// Observe classifies a sample against the latched level and fires the
// change callback on edge transitions. Returns the resulting level.
//
// Rising transitions are immediate (Critical in particular bypasses the
// dead-band). Falling transitions only happen once usage drops under the
// latched level's enter threshold times exitFactor.
func (m *Monitor) Observe(sample model.MemorySample) model.Pressure {
	m.mu.Lock()
	prev := m.level
	next := prev

	if !sample.Degraded {
		raw := m.thresholds.raw(sample.PercentUsed)
		switch {
		case raw >= prev:
			next = raw
		case sample.PercentUsed < m.thresholds.enter(prev)*exitFactor:
			next = raw
		}
	}

	m.level = next
	m.last = sample
	m.mu.Unlock()

	if next != prev && m.onChange != nil {
		m.onChange(prev, next, sample)
	}
	return next
}

// Pressure returns the current latched pressure level.
func (m *Monitor) Pressure() model.Pressure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// LastSample returns the most recent sample seen by Observe.
func (m *Monitor) LastSample() model.MemorySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Run samples on the fixed interval until ctx is cancelled. One immediate
// sample is taken before the first tick so consumers start from a real
// reading.
func (m *Monitor) Run(ctx context.Context) {
	m.Observe(m.Sample())

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Observe(m.Sample())
		}
	}
}
