package worker

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/keyflow/keyflow/internal/compute"
	"github.com/keyflow/keyflow/internal/model"
)

// workerHeapWarn is the worker-local heap size above which an unsolicited
// pressure-warning diagnostic is emitted alongside results.
const workerHeapWarn = 256 << 20

// runWorker is the body of the single background computation worker. It
// signals readiness, then serves commands until its inbox closes. A panic
// anywhere in the loop is reported as a crash event; the supervisor owns
// recovery.
func runWorker(in <-chan command, out chan<- Event, params compute.Params, strategy model.ProcessingMode, beforeCompute func(model.PendingTask)) {
	defer func() {
		if r := recover(); r != nil {
			out <- Event{Kind: EventError, Err: crashError{cause: fmt.Errorf("%v", r)}}
		}
	}()

	calc := compute.NewCalculator(params)
	out <- Event{Kind: EventReady}

	for cmd := range in {
		switch cmd.kind {
		case cmdCalculate:
			if beforeCompute != nil {
				beforeCompute(cmd.task)
			}
			task := cmd.task
			// Strategy-change controls reconfigure the worker; they only
			// influence computations dispatched after they are processed.
			task.ModeAtSubmission = strategy
			res := calc.Compute(task)
			res.TierUsed = model.TierWorker
			// The calculator reuses its scratch result; res is already a
			// copy, so sending it across the channel never aliases it.
			out <- Event{Kind: EventResult, Result: res}
			if sample := heapSample(); sample.HeapUsed > workerHeapWarn {
				out <- Event{Kind: EventPressureWarning, Sample: sample}
			}

		case cmdSetStrategy:
			strategy = cmd.mode

		case cmdOptimize:
			// Drop the calculator scratch and hand memory back.
			calc = compute.NewCalculator(params)
			if cmd.emergency || cmd.level >= 3 {
				debug.FreeOSMemory()
			} else if cmd.level >= 1 {
				runtime.GC()
			}

		case cmdShutdown:
			out <- Event{Kind: EventExited}
			return
		}
	}
	out <- Event{Kind: EventExited}
}

func heapSample() model.MemorySample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return model.MemorySample{
		Timestamp: time.Now(),
		HeapUsed:  ms.HeapAlloc,
		HeapTotal: ms.HeapSys,
	}
}
