// Package mode holds the processing-mode state machine.
package mode

import (
	"sync"

	"github.com/keyflow/keyflow/internal/model"
)

// StrategyFunc receives the new mode whenever the controller transitions.
// Implementations relay a strategy-change control message to the worker;
// they must not respawn it.
type StrategyFunc func(model.ProcessingMode)

// Controller owns the session's ProcessingMode. It is the mode's only
// writer; everything else reads via Mode().
type Controller struct {
	mu         sync.Mutex
	current    model.ProcessingMode
	pinned     bool
	pinnedMode model.ProcessingMode
	accel      bool
	onChange   StrategyFunc
}

// NewController creates a Controller starting in Normal mode. accelEnabled
// selects the reduced mode used under high pressure when acceleration is
// available.
func NewController(accelEnabled bool, onChange StrategyFunc) *Controller {
	return &Controller{
		current:  model.ModeNormal,
		accel:    accelEnabled,
		onChange: onChange,
	}
}

// Mode returns the current processing mode.
func (c *Controller) Mode() model.ProcessingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Pin fixes the mode manually, suppressing automatic transitions. Critical
// pressure still forces Lite over any pin.
func (c *Controller) Pin(m model.ProcessingMode) {
	c.mu.Lock()
	c.pinned = true
	c.pinnedMode = m
	changed := c.setLocked(m)
	c.mu.Unlock()
	c.notify(changed)
}

// Unpin returns the controller to automatic mode selection. The mode is
// left as-is until the next pressure edge.
func (c *Controller) Unpin() {
	c.mu.Lock()
	c.pinned = false
	c.mu.Unlock()
}

// Pinned reports whether a manual pin is active.
func (c *Controller) Pinned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinned
}

// OnPressureChange reacts to a pressure edge from the memory monitor.
func (c *Controller) OnPressureChange(_, next model.Pressure, _ model.MemorySample) {
	c.mu.Lock()
	var changed bool
	switch {
	case next >= model.PressureCritical:
		// Hard safety ceiling: Critical overrides any pin.
		changed = c.setLocked(model.ModeLite)
	case c.pinned:
		// Pressure dropped back; restore the pinned mode if Critical
		// had displaced it.
		changed = c.setLocked(c.pinnedMode)
	case next >= model.PressureHigh:
		changed = c.setLocked(c.reducedLocked())
	case next <= model.PressureLow:
		// The monitor's dead-band already gates this edge, so dropping
		// to Low means usage fell through the exit threshold.
		changed = c.setLocked(model.ModeNormal)
	}
	c.mu.Unlock()
	c.notify(changed)
}

// reducedLocked picks the degraded strategy for high pressure.
func (c *Controller) reducedLocked() model.ProcessingMode {
	if c.accel {
		return model.ModeAcceleratedSim
	}
	return model.ModeLite
}

func (c *Controller) setLocked(m model.ProcessingMode) bool {
	if c.current == m {
		return false
	}
	c.current = m
	return true
}

func (c *Controller) notify(changed bool) {
	if changed && c.onChange != nil {
		c.onChange(c.Mode())
	}
}
