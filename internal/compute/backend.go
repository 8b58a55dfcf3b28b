package compute

import (
	"errors"
	"sync"

	"github.com/keyflow/keyflow/internal/model"
)

// ErrUnavailable marks a tier that cannot serve requests.
var ErrUnavailable = errors.New("compute tier unavailable")

// Accelerator is the native-tier surface. Implementations are
// capability-detected once at startup and injected.
type Accelerator interface {
	Available() bool
	Compute(task model.PendingTask) (model.ComputationResult, error)
}

// Submitter enqueues a task with the background worker. A submission error
// means the worker path is unusable right now; the reply for an accepted
// task arrives asynchronously through the supervisor's events.
type Submitter interface {
	Submit(task model.PendingTask) error
}

// Backend is the three-tier fallback chain: native accelerator, background
// worker, inline minimal calculator. It never surfaces a hard failure; the
// caller always ends up with a best-effort result, synchronously from the
// accelerator/inline tiers or asynchronously from the worker.
//
// Compute is serialized under a mutex: the accelerator and inline tiers
// share calculator scratch state, and Compute is reached from both the
// keystroke path and the cadence goroutine.
type Backend struct {
	accel  Accelerator
	sub    Submitter
	inline *Calculator
	logf   func(format string, args ...any)

	mu             sync.Mutex
	accelDemoted   bool
	accelLogged    bool
	workerWarnOnce bool
}

// NewBackend wires the tier chain. logf may be nil.
func NewBackend(accel Accelerator, sub Submitter, inline *Calculator, logf func(string, ...any)) *Backend {
	b := &Backend{accel: accel, sub: sub, inline: inline, logf: logf}
	if accel == nil || !accel.Available() {
		b.accelDemoted = true
	}
	return b
}

// Compute runs task through the highest usable tier. deliver is invoked
// exactly once for the accelerator and inline tiers; for the worker tier
// the result arrives through the supervisor's event stream instead, and
// deliver is not called. A worker crash may drop the task entirely, which
// is acceptable: every task is a pure recomputation from current counters.
func (b *Backend) Compute(task model.PendingTask, deliver func(model.ComputationResult)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.accelDemoted {
		res, err := b.accel.Compute(task)
		if err == nil {
			res.TierUsed = model.TierAccelerator
			deliver(res)
			return
		}
		// Permanent demotion for the session; log once, not per call.
		b.accelDemoted = true
		if !b.accelLogged {
			b.accelLogged = true
			b.log("accelerator tier unavailable, demoting for session: %v", err)
		}
	}

	if b.sub != nil {
		if err := b.sub.Submit(task); err == nil {
			return
		} else if !b.workerWarnOnce {
			b.workerWarnOnce = true
			b.log("worker tier rejected task, using inline calculator: %v", err)
		}
	}

	// Inline tier is always minimal: counter estimates only.
	task.ModeAtSubmission = model.ModeLite
	res := b.inline.Compute(task)
	res.TierUsed = model.TierInline
	deliver(res)
}

// AcceleratorDemoted reports whether the native tier has been ruled out for
// the remainder of the session.
func (b *Backend) AcceleratorDemoted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accelDemoted
}

func (b *Backend) log(format string, args ...any) {
	if b.logf != nil {
		b.logf(format, args...)
	}
}
