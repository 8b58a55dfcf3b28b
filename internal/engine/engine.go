// Package engine wires the session: it accumulates keystroke counters,
// triggers computation on a cadence, merges results into the published
// stats state, and owns the monitor, mode controller, and worker
// supervisor for the session's lifetime.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/keyflow/keyflow/internal/accel"
	"github.com/keyflow/keyflow/internal/compute"
	"github.com/keyflow/keyflow/internal/memmon"
	"github.com/keyflow/keyflow/internal/mode"
	"github.com/keyflow/keyflow/internal/model"
	"github.com/keyflow/keyflow/internal/worker"
)

// Defaults for the aggregation cadence.
const (
	DefaultCadenceKeys     = 20
	DefaultCadenceInterval = 10 * time.Second
	DefaultIdleTimeout     = 30 * time.Second

	// maxContentRunes bounds the rolling text sample handed to content
	// metrics; older input scrolls off.
	maxContentRunes = 4000
)

// Options configures a session engine.
type Options struct {
	Thresholds      memmon.Thresholds
	MonitorInterval time.Duration
	Backoff         time.Duration
	QueueCapacity   int
	Params          compute.Params
	CadenceKeys     int
	CadenceInterval time.Duration
	IdleTimeout     time.Duration
	// PinnedMode fixes the processing mode for the session. Nil means
	// automatic selection.
	PinnedMode *model.ProcessingMode
	// Acceleration enables the software acceleration capability.
	Acceleration bool
	Logf         func(format string, args ...any)
	// SampleFunc replaces the real memory reader. Used in tests.
	SampleFunc func() model.MemorySample
}

func (o *Options) fill() {
	if o.Thresholds == (memmon.Thresholds{}) {
		o.Thresholds = memmon.DefaultThresholds()
	}
	if o.Params == (compute.Params{}) {
		o.Params = compute.DefaultParams()
	}
	if o.CadenceKeys <= 0 {
		o.CadenceKeys = DefaultCadenceKeys
	}
	if o.CadenceInterval <= 0 {
		o.CadenceInterval = DefaultCadenceInterval
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
}

// Engine is the session-owned context object. Construct with New, start
// with StartSession; there is no package-level state.
type Engine struct {
	opts Options

	monitor    *memmon.Monitor
	controller *mode.Controller
	sup        *worker.Supervisor
	backend    *compute.Backend
	capability accel.Capability

	mu               sync.Mutex
	state            model.StatsState
	content          []rune
	lastKeyAt        time.Time
	keysSinceCompute int
	running          bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	subMu        sync.Mutex
	statsSubs    []func(model.StatsState)
	pressureSubs []func(model.MemorySample)
}

// New creates an Engine. Nothing runs until StartSession.
func New(opts Options) *Engine {
	opts.fill()
	return &Engine{opts: opts}
}

// OnStatsUpdated registers a push subscriber for state snapshots.
func (e *Engine) OnStatsUpdated(fn func(model.StatsState)) {
	e.subMu.Lock()
	e.statsSubs = append(e.statsSubs, fn)
	e.subMu.Unlock()
}

// OnPressureWarning registers a diagnostic subscriber.
func (e *Engine) OnPressureWarning(fn func(model.MemorySample)) {
	e.subMu.Lock()
	e.pressureSubs = append(e.pressureSubs, fn)
	e.subMu.Unlock()
}

// StartSession spins up the monitor, controller, supervisor, and backend.
func (e *Engine) StartSession() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.state = model.StatsState{SessionStart: time.Now()}
	e.content = nil
	e.lastKeyAt = time.Time{}
	e.keysSinceCompute = 0
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.sup = worker.New(worker.Options{
		Backoff:       e.opts.Backoff,
		QueueCapacity: e.opts.QueueCapacity,
		Params:        e.opts.Params,
		Logf:          e.opts.Logf,
	})

	e.controller = mode.NewController(e.opts.Acceleration, func(m model.ProcessingMode) {
		e.sup.SetStrategy(m)
		e.mu.Lock()
		e.state.Mode = m
		snapshot := e.state
		e.mu.Unlock()
		e.publishStats(snapshot)
	})
	if e.opts.PinnedMode != nil {
		e.controller.Pin(*e.opts.PinnedMode)
	}

	monOpts := []memmon.Option{}
	if e.opts.MonitorInterval > 0 {
		monOpts = append(monOpts, memmon.WithInterval(e.opts.MonitorInterval))
	}
	if e.opts.SampleFunc != nil {
		monOpts = append(monOpts, memmon.WithSampleFunc(e.opts.SampleFunc))
	}
	e.monitor = memmon.New(e.opts.Thresholds, e.onPressureChange, monOpts...)

	calc := compute.NewCalculator(e.opts.Params)
	e.capability = accel.Detect(e.opts.Acceleration, compute.NewCalculator(e.opts.Params))
	e.backend = compute.NewBackend(accelAdapter{e.capability}, e.sup, calc, e.opts.Logf)

	e.sup.Start()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.monitor.Run(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.consumeWorkerEvents()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.cadenceLoop(ctx)
	}()
}

// StopSession tears everything down and returns the final state. In-flight
// computations are discarded; the counters in the returned state are
// authoritative.
func (e *Engine) StopSession() model.StatsState {
	e.mu.Lock()
	if !e.running {
		final := e.state
		e.mu.Unlock()
		return final
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	e.sup.Stop()
	e.wg.Wait()

	e.mu.Lock()
	final := e.state
	e.mu.Unlock()
	return final
}

// SubmitKeyEvent records one keystroke. Returns immediately; any triggered
// computation is dispatched asynchronously or served by a synchronous tier.
func (e *Engine) SubmitKeyEvent(ev model.KeyEvent) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.state.KeyCount++
	e.state.TotalChars++
	if ev.IsError {
		e.state.ErrorCount++
	} else if ev.Char != 0 {
		e.content = append(e.content, ev.Char)
		if len(e.content) > maxContentRunes {
			e.content = append([]rune(nil), e.content[len(e.content)-maxContentRunes:]...)
		}
	}

	// Typing time accumulates from per-keystroke deltas. A gap above the
	// idle timeout starts a new sub-session anchor instead of counting as
	// typing time, so WPM is not diluted by idle gaps.
	if !e.lastKeyAt.IsZero() {
		if delta := ev.Timestamp.Sub(e.lastKeyAt); delta > 0 && delta <= e.opts.IdleTimeout {
			e.state.TypingTime += delta
		}
	}
	e.lastKeyAt = ev.Timestamp

	e.keysSinceCompute++
	var task *model.PendingTask
	if e.keysSinceCompute >= e.opts.CadenceKeys {
		t := e.buildTaskLocked()
		task = &t
	}
	e.mu.Unlock()

	if task != nil {
		e.backend.Compute(*task, e.deliver)
	}
}

// SetProcessingMode applies a manual pin, or returns to automatic selection
// when name is "auto" or empty.
func (e *Engine) SetProcessingMode(name string) bool {
	if e.controller == nil {
		return false
	}
	if name == "" || name == "auto" {
		e.controller.Unpin()
		return true
	}
	m, ok := model.ParseProcessingMode(name)
	if !ok {
		return false
	}
	e.controller.Pin(m)
	return true
}

// RequestImmediateOptimization runs the accelerator's optimize operation
// and relays a memory-optimize control message to the worker.
func (e *Engine) RequestImmediateOptimization(level int, emergency bool) model.OptimizeReport {
	if e.sup != nil {
		e.sup.Optimize(level, emergency)
	}
	if e.capability == nil {
		return model.OptimizeReport{Timestamp: time.Now()}
	}
	return e.capability.Optimize(level, emergency)
}

// Snapshot returns the current published state.
func (e *Engine) Snapshot() model.StatsState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Finalize converts the current state into a persistable session snapshot.
func (e *Engine) Finalize() model.SessionSnapshot {
	s := e.Snapshot()
	return model.SessionSnapshot{
		StartedAt:       s.SessionStart,
		EndedAt:         time.Now(),
		KeyCount:        s.KeyCount,
		ErrorCount:      s.ErrorCount,
		TypingTimeMs:    s.TypingTime.Milliseconds(),
		WPM:             s.Result.WPM,
		Accuracy:        s.Result.Accuracy,
		WordCount:       s.Result.WordCount,
		CharacterCount:  s.Result.CharacterCount,
		PageCount:       s.Result.PageCount,
		ComplexityScore: s.Result.ComplexityScore,
		Mode:            s.Mode.String(),
		Tier:            s.Result.TierUsed.String(),
	}
}

// Reset clears the session counters after an explicit save.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.state = model.StatsState{
		SessionStart: time.Now(),
		Mode:         e.state.Mode,
		Pressure:     e.state.Pressure,
	}
	e.content = nil
	e.lastKeyAt = time.Time{}
	e.keysSinceCompute = 0
	e.mu.Unlock()
}

// buildTaskLocked snapshots the counters into a computation task. Caller
// holds e.mu.
func (e *Engine) buildTaskLocked() model.PendingTask {
	e.keysSinceCompute = 0
	return model.PendingTask{
		KeyCount:         e.state.KeyCount,
		TypingTime:       e.state.TypingTime,
		ContentSnapshot:  string(e.content),
		ErrorCount:       e.state.ErrorCount,
		ModeAtSubmission: e.controller.Mode(),
	}
}

// cadenceLoop triggers a computation on the timed cadence when keystrokes
// arrived since the last one.
func (e *Engine) cadenceLoop(ctx context.Context) {
	ticker := time.NewTicker(e.opts.CadenceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			due := e.running && e.keysSinceCompute > 0
			var task model.PendingTask
			if due {
				task = e.buildTaskLocked()
			}
			e.mu.Unlock()
			if due {
				e.backend.Compute(task, e.deliver)
			}
		}
	}
}

// consumeWorkerEvents relays supervisor events into state merges and
// diagnostics. Errors are logged and the previous state retained.
func (e *Engine) consumeWorkerEvents() {
	for ev := range e.sup.Events() {
		switch ev.Kind {
		case worker.EventResult:
			e.deliver(ev.Result)
		case worker.EventError:
			e.logf("computation failed: %v", ev.Err)
		case worker.EventPressureWarning:
			e.publishPressure(ev.Sample)
		}
	}
}

// deliver merges a computation result last-write-wins and publishes.
func (e *Engine) deliver(res model.ComputationResult) {
	e.mu.Lock()
	e.state.Result = res
	e.state.ComputedAt = time.Now()
	snapshot := e.state
	e.mu.Unlock()
	e.publishStats(snapshot)
}

// onPressureChange feeds the mode controller and surfaces diagnostics on
// worrying edges.
func (e *Engine) onPressureChange(prev, next model.Pressure, sample model.MemorySample) {
	e.mu.Lock()
	e.state.Pressure = next
	e.mu.Unlock()

	e.controller.OnPressureChange(prev, next, sample)
	if next >= model.PressureHigh {
		e.publishPressure(sample)
	}
	if next >= model.PressureCritical && e.capability != nil {
		// Emergency release alongside the forced Lite mode.
		e.capability.Optimize(4, true)
	}
}

func (e *Engine) publishStats(s model.StatsState) {
	e.subMu.Lock()
	subs := make([]func(model.StatsState), len(e.statsSubs))
	copy(subs, e.statsSubs)
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

func (e *Engine) publishPressure(sample model.MemorySample) {
	e.subMu.Lock()
	subs := make([]func(model.MemorySample), len(e.pressureSubs))
	copy(subs, e.pressureSubs)
	e.subMu.Unlock()
	for _, fn := range subs {
		fn(sample)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.opts.Logf != nil {
		e.opts.Logf(format, args...)
	}
}

// accelAdapter narrows the capability to the backend's accelerator surface.
type accelAdapter struct {
	cap accel.Capability
}

func (a accelAdapter) Available() bool { return a.cap.Available() }

func (a accelAdapter) Compute(task model.PendingTask) (model.ComputationResult, error) {
	return a.cap.Compute(task)
}
