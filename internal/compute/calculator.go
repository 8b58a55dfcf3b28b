package compute

import (
	"time"

	"github.com/keyflow/keyflow/internal/model"
)

// Calculator executes the statistic formulas for one owner goroutine. It
// reuses a scratch result and token set across calls to limit allocation
// churn; Compute returns a copy, never the scratch itself, because results
// cross a message boundary.
type Calculator struct {
	params  Params
	scratch model.ComputationResult
	seen    map[string]struct{}
}

// NewCalculator creates a Calculator with the given formula constants.
func NewCalculator(p Params) *Calculator {
	return &Calculator{
		params: p,
		seen:   make(map[string]struct{}),
	}
}

// Params returns the calculator's formula constants.
func (c *Calculator) Params() Params {
	return c.params
}

// Compute derives statistics for one task using the strategy the task was
// submitted under. Not safe for concurrent use.
func (c *Calculator) Compute(task model.PendingTask) model.ComputationResult {
	started := time.Now()
	r := &c.scratch
	*r = model.ComputationResult{}

	r.Accuracy = Accuracy(task.KeyCount, task.ErrorCount, c.params)
	r.WPM = WPM(task.KeyCount, task.TypingTime, c.params)

	switch task.ModeAtSubmission {
	case model.ModeLite:
		c.estimateFromCounters(task, r)
	default:
		if task.ContentSnapshot == "" {
			c.estimateFromCounters(task, r)
			break
		}
		tm := scanText(task.ContentSnapshot, c.params.LongWordMin, c.seen)
		r.WordCount = tm.words
		r.CharacterCount = tm.chars
		r.PageCount = PageCount(tm.chars, c.params)
		r.ComplexityScore = complexity(tm, c.params)
	}

	r.Latency = time.Since(started)
	return *r
}

// estimateFromCounters fills content-derived fields from keystroke counters
// alone. Used by the Lite strategy and whenever no text sample exists.
func (c *Calculator) estimateFromCounters(task model.PendingTask, r *model.ComputationResult) {
	r.WordCount = task.KeyCount / 5
	r.CharacterCount = task.KeyCount
	r.PageCount = PageCount(task.KeyCount, c.params)
	r.ComplexityScore = 0
}
