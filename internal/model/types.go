// Package model defines shared data structures.
package model

import "time"

// Pressure is a qualitative memory-pressure bucket.
type Pressure int

// Pressure levels, ordered from calmest to most urgent.
const (
	PressureLow Pressure = iota
	PressureElevated
	PressureHigh
	PressureCritical
)

func (p Pressure) String() string {
	switch p {
	case PressureLow:
		return "low"
	case PressureElevated:
		return "elevated"
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ProcessingMode selects the computation strategy for the session.
type ProcessingMode int

// Processing modes. Normal is the initial and default mode.
const (
	ModeNormal ProcessingMode = iota
	ModeLite
	ModeCPUIntensive
	ModeAcceleratedSim
)

func (m ProcessingMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeLite:
		return "lite"
	case ModeCPUIntensive:
		return "cpu-intensive"
	case ModeAcceleratedSim:
		return "accelerated-sim"
	default:
		return "unknown"
	}
}

// ParseProcessingMode maps a config/flag string to a mode. The empty string
// and "auto" mean no manual pin.
func ParseProcessingMode(s string) (ProcessingMode, bool) {
	switch s {
	case "normal":
		return ModeNormal, true
	case "lite":
		return ModeLite, true
	case "cpu-intensive":
		return ModeCPUIntensive, true
	case "accelerated-sim":
		return ModeAcceleratedSim, true
	default:
		return ModeNormal, false
	}
}

// MemorySample is a point-in-time memory reading. Superseded every tick,
// never persisted.
type MemorySample struct {
	Timestamp   time.Time
	HeapUsed    uint64
	HeapTotal   uint64
	RSS         uint64
	PercentUsed float64 // 0-100
	Degraded    bool    // sampling failed; all figures zero
}

// KeyEvent is a single raw keystroke delivered by the capture layer.
type KeyEvent struct {
	Timestamp time.Time
	Char      rune
	IsError   bool // capture layer flagged a correction/mistype
}

// PendingTask is one computation request queued at the supervisor.
type PendingTask struct {
	KeyCount         int
	TypingTime       time.Duration
	ContentSnapshot  string // optional; empty when no text sample available
	ErrorCount       int
	ModeAtSubmission ProcessingMode
}

// Tier identifies which backend served a computation.
type Tier int

// Backend tiers in preference order.
const (
	TierAccelerator Tier = iota
	TierWorker
	TierInline
)

func (t Tier) String() string {
	switch t {
	case TierAccelerator:
		return "accelerator"
	case TierWorker:
		return "worker"
	case TierInline:
		return "inline"
	default:
		return "unknown"
	}
}

// ComputationResult holds the derived statistics for one computation.
// Fields are always internally consistent; partial results are never
// published.
type ComputationResult struct {
	WPM             int
	Accuracy        int // 0-100
	WordCount       int
	CharacterCount  int
	PageCount       float64
	ComplexityScore float64 // 0-100
	TierUsed        Tier
	Latency         time.Duration
}

// StatsState is the published aggregate: raw counters plus the most recent
// computation result. Single writer (the aggregator), many readers.
type StatsState struct {
	SessionStart time.Time
	KeyCount     int
	TypingTime   time.Duration
	TotalChars   int
	ErrorCount   int

	Result     ComputationResult
	ComputedAt time.Time

	Mode     ProcessingMode
	Pressure Pressure
}

// OptimizeReport is the accelerator's reply to an optimize request.
type OptimizeReport struct {
	FreedBytes int64
	Timestamp  time.Time
	Success    bool
}

// SessionSnapshot captures a finalized session for persistence.
type SessionSnapshot struct {
	StartedAt       time.Time
	EndedAt         time.Time
	KeyCount        int
	ErrorCount      int
	TypingTimeMs    int64
	WPM             int
	Accuracy        int
	WordCount       int
	CharacterCount  int
	PageCount       float64
	ComplexityScore float64
	Mode            string
	Tier            string
}

// SessionAggregate summarizes a stored session for reporting.
type SessionAggregate struct {
	SessionID    int64
	EndedAt      time.Time
	KeyCount     int
	ErrorCount   int
	TypingTimeMs int64
	WPM          int
	Accuracy     int
	WordCount    int
}

// StatsConfig defines filters for stats output.
type StatsConfig struct {
	Since       *time.Time
	Last        int
	CurveWindow int
}
