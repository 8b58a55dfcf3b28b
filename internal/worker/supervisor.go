// Package worker owns the session's single background computation worker:
// spawn, ready-gated task queue, control-message relay, crash detection,
// bounded-backoff restart, and shutdown.
package worker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/keyflow/keyflow/internal/compute"
	"github.com/keyflow/keyflow/internal/model"
)

// State tracks the worker handle lifecycle.
type State int

// Worker handle states.
const (
	StateCreated State = iota
	StateInitializing
	StateReady
	StateBusy
	StateDraining
	StateCrashed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateDraining:
		return "draining"
	case StateCrashed:
		return "crashed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// EventKind discriminates supervisor events.
type EventKind int

// Supervisor event kinds.
const (
	EventReady EventKind = iota
	EventResult
	EventError
	EventPressureWarning
	EventExited
)

// Event is one message from the supervisor to its consumer.
type Event struct {
	Kind   EventKind
	Result model.ComputationResult
	Err    error
	Sample model.MemorySample
}

type commandKind int

const (
	cmdCalculate commandKind = iota
	cmdSetStrategy
	cmdOptimize
	cmdShutdown
)

type command struct {
	kind      commandKind
	task      model.PendingTask
	mode      model.ProcessingMode
	level     int
	emergency bool
}

// Defaults.
const (
	DefaultBackoff       = 30 * time.Second
	DefaultQueueCapacity = 50
)

// Submission errors.
var (
	ErrStopped   = errors.New("worker supervisor stopped")
	ErrQueueFull = errors.New("worker queue full")
)

// Options configures a Supervisor.
type Options struct {
	// Backoff is the fixed delay before respawning a crashed worker.
	// Repeated crashes never shorten it.
	Backoff time.Duration
	// QueueCapacity bounds the pending-task queue; the oldest entries are
	// evicted beyond it.
	QueueCapacity int
	// Params are the formula constants handed to the worker's calculator.
	Params compute.Params
	// Strategy is the initial computation strategy.
	Strategy model.ProcessingMode
	// Logf receives supervision log lines. May be nil.
	Logf func(format string, args ...any)
	// BeforeCompute, when set, runs inside the worker before every
	// computation. Tests use it to inject faults.
	BeforeCompute func(task model.PendingTask)
}

// Metrics is a point-in-time snapshot of supervision counters.
type Metrics struct {
	Processed   uint64
	Dropped     uint64
	Crashes     uint64
	State       State
	LastEventAt time.Time
}

// Supervisor owns exactly one background worker goroutine. All public
// operations return immediately; results and faults surface on Events().
type Supervisor struct {
	opts Options

	submitCh chan model.PendingTask
	ctrlCh   chan command
	events   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu      sync.Mutex
	state   State
	metrics Metrics
}

// New creates a Supervisor. Call Start to spawn the worker.
func New(opts Options) *Supervisor {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = DefaultQueueCapacity
	}
	return &Supervisor{
		opts:     opts,
		submitCh: make(chan model.PendingTask, opts.QueueCapacity),
		ctrlCh:   make(chan command, 16),
		events:   make(chan Event, 64),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the supervision loop and spawns the worker.
func (s *Supervisor) Start() {
	go s.loop()
}

// Events returns the supervisor's event stream. The channel closes after
// Stop once the worker has terminated.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Submit enqueues a computation task. Never blocks; returns ErrStopped
// after Stop and ErrQueueFull when the intake buffer cannot take more.
func (s *Supervisor) Submit(task model.PendingTask) error {
	select {
	case <-s.stopCh:
		return ErrStopped
	default:
	}
	select {
	case s.submitCh <- task:
		return nil
	default:
		s.countDropped()
		return ErrQueueFull
	}
}

// SetStrategy relays a strategy-change control message. Best-effort: it
// reconfigures the live worker and the strategy used for future respawns,
// and may be processed after an already-queued computation.
func (s *Supervisor) SetStrategy(m model.ProcessingMode) {
	s.control(command{kind: cmdSetStrategy, mode: m})
}

// Optimize relays a memory-optimize request to the worker.
func (s *Supervisor) Optimize(level int, emergency bool) {
	s.control(command{kind: cmdOptimize, level: level, emergency: emergency})
}

func (s *Supervisor) control(cmd command) {
	select {
	case <-s.stopCh:
	case s.ctrlCh <- cmd:
	default:
		// Control messages are advisory; drop rather than block.
	}
}

// Stop terminates the worker and discards anything in flight. Safe because
// every task is re-derivable from current counters. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
}

// State returns the current handle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MetricsSnapshot returns supervision counters.
func (s *Supervisor) MetricsSnapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics
	m.State = s.state
	return m
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.metrics.LastEventAt = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) countDropped() {
	s.mu.Lock()
	s.metrics.Dropped++
	s.mu.Unlock()
}

func (s *Supervisor) countProcessed() {
	s.mu.Lock()
	s.metrics.Processed++
	s.metrics.LastEventAt = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) countCrash() {
	s.mu.Lock()
	s.metrics.Crashes++
	s.mu.Unlock()
}

// loop is the dedicated supervisor task: it owns the pending queue, the
// worker instance, and the restart timer.
func (s *Supervisor) loop() {
	defer close(s.done)
	defer close(s.events)

	var (
		pending   []model.PendingTask
		workerIn  chan command
		workerOut chan Event
		ready     bool
		busy      bool
		respawn   <-chan time.Time
		strategy  = s.opts.Strategy
	)

	spawn := func() {
		workerIn = make(chan command, 4)
		workerOut = make(chan Event, 16)
		ready = false
		busy = false
		s.setState(StateInitializing)
		go runWorker(workerIn, workerOut, s.opts.Params, strategy, s.opts.BeforeCompute)
	}

	dispatch := func() {
		// Single worker: one task in flight, drained in submission order.
		if !ready || busy || len(pending) == 0 || workerIn == nil {
			return
		}
		task := pending[0]
		pending = pending[1:]
		busy = true
		s.setState(StateBusy)
		workerIn <- command{kind: cmdCalculate, task: task}
	}

	enqueue := func(task model.PendingTask) {
		pending = append(pending, task)
		// Bounded queue: evict oldest, best-effort.
		for len(pending) > s.opts.QueueCapacity {
			pending = pending[1:]
			s.countDropped()
		}
		dispatch()
	}

	s.setState(StateCreated)
	spawn()

	for {
		select {
		case <-s.stopCh:
			s.setState(StateDraining)
			if workerIn != nil {
				select {
				case workerIn <- command{kind: cmdShutdown}:
				default:
				}
				close(workerIn)
				drainWorker(workerOut)
			}
			s.setState(StateTerminated)
			return

		case task := <-s.submitCh:
			enqueue(task)

		case cmd := <-s.ctrlCh:
			if cmd.kind == cmdSetStrategy {
				strategy = cmd.mode
			}
			if workerIn == nil {
				break
			}
			select {
			case workerIn <- cmd:
			default:
				// Worker inbox saturated; control is advisory.
			}

		case <-respawn:
			respawn = nil
			s.logf("respawning worker after backoff")
			spawn()

		case ev := <-workerOut:
			switch ev.Kind {
			case EventReady:
				ready = true
				busy = false
				s.setState(StateReady)
				s.publish(ev)
				dispatch()
			case EventResult:
				busy = false
				s.setState(StateReady)
				s.countProcessed()
				s.publish(ev)
				dispatch()
			case EventError:
				if isCrash(ev.Err) {
					// Crash drops all in-flight and queued tasks.
					s.countCrash()
					s.setState(StateCrashed)
					pending = nil
					close(workerIn)
					workerIn = nil
					ready = false
					busy = false
					s.logf("worker crashed: %v (restart in %s)", ev.Err, s.opts.Backoff)
					s.publish(ev)
					respawn = time.After(s.opts.Backoff)
					break
				}
				// Single calculation failed; worker stays alive.
				busy = false
				s.setState(StateReady)
				s.publish(ev)
				dispatch()
			case EventPressureWarning:
				s.publish(ev)
			case EventExited:
				s.publish(ev)
			}
		}
	}
}

// drainWorker discards worker events until the exit marker so a worker
// mid-computation never blocks on a full outbox at teardown. The timeout
// bounds the wait on a hung worker.
func drainWorker(out <-chan Event) {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-out:
			if ev.Kind == EventExited {
				return
			}
		case <-timeout:
			return
		}
	}
}

func (s *Supervisor) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		// Consumer fell behind; events are advisory snapshots.
		s.countDropped()
	}
}

func (s *Supervisor) logf(format string, args ...any) {
	if s.opts.Logf != nil {
		s.opts.Logf(format, args...)
	}
}

type crashError struct {
	cause error
}

func (e crashError) Error() string { return fmt.Sprintf("worker panic: %v", e.cause) }

func (e crashError) Unwrap() error { return e.cause }

func isCrash(err error) bool {
	var ce crashError
	return errors.As(err, &ce)
}
