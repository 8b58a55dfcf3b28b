// Package accel provides the optional acceleration capability: a software
// approximation of the natively compiled memory module. The capability is
// detected once at startup and injected; it is never re-probed per call.
package accel

import (
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/keyflow/keyflow/internal/compute"
	"github.com/keyflow/keyflow/internal/model"
)

// DisableEnv force-disables the accelerated capability when set. It stands
// in for the native module being absent from the installation.
const DisableEnv = "KEYFLOW_NO_ACCEL"

// Capability is the typed handle over the optional acceleration backend.
// Absence degrades gracefully: the Absent implementation satisfies every
// call without doing work.
type Capability interface {
	Available() bool
	MemoryInfo() (heapUsed, heapTotal uint64)
	Optimize(level int, emergency bool) model.OptimizeReport
	ForceCollect() int64
	Compute(task model.PendingTask) (model.ComputationResult, error)
}

// Detect probes for the acceleration capability once. enabled comes from
// configuration; the environment kill-switch wins over it.
func Detect(enabled bool, calc *compute.Calculator) Capability {
	if !enabled || os.Getenv(DisableEnv) != "" || calc == nil {
		return Absent{}
	}
	return &runtimeAccel{calc: calc}
}

// runtimeAccel backs the capability with the Go runtime's own release and
// collection hooks.
type runtimeAccel struct {
	calc *compute.Calculator
}

func (a *runtimeAccel) Available() bool { return true }

func (a *runtimeAccel) MemoryInfo() (heapUsed, heapTotal uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc, ms.HeapSys
}

// Optimize releases memory with aggressiveness scaled by level (0-4).
// emergency always takes the most aggressive path.
func (a *runtimeAccel) Optimize(level int, emergency bool) model.OptimizeReport {
	if level < 0 {
		level = 0
	}
	if level > 4 {
		level = 4
	}

	before, _ := a.MemoryInfo()
	switch {
	case emergency || level >= 3:
		debug.FreeOSMemory()
	case level >= 1:
		runtime.GC()
	default:
		// Level 0 is advisory only; let the runtime decide.
	}
	after, _ := a.MemoryInfo()

	freed := int64(0)
	if before > after {
		freed = int64(before - after)
	}
	return model.OptimizeReport{
		FreedBytes: freed,
		Timestamp:  time.Now(),
		Success:    true,
	}
}

func (a *runtimeAccel) ForceCollect() int64 {
	before, _ := a.MemoryInfo()
	debug.FreeOSMemory()
	after, _ := a.MemoryInfo()
	if before > after {
		return int64(before - after)
	}
	return 0
}

func (a *runtimeAccel) Compute(task model.PendingTask) (model.ComputationResult, error) {
	return a.calc.Compute(task), nil
}

// Absent is the fallback capability used when acceleration is disabled or
// unusable. Every operation is a cheap no-op.
type Absent struct{}

func (Absent) Available() bool { return false }

func (Absent) MemoryInfo() (uint64, uint64) { return 0, 0 }

func (Absent) Optimize(int, bool) model.OptimizeReport {
	return model.OptimizeReport{Timestamp: time.Now(), Success: false}
}

func (Absent) ForceCollect() int64 { return 0 }

func (Absent) Compute(model.PendingTask) (model.ComputationResult, error) {
	return model.ComputationResult{}, compute.ErrUnavailable
}
