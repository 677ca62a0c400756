// Package clock tracks a simulation's logical time (cycles, step, dates)
// and its wall-clock cycle durations, with optional real-time pacing.
package clock

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/san-kum/agentsim/internal/simerr"
)

// Clock is owned by one simulation and mutated only by that simulation's
// worker. Reads from other goroutines (progress views, reports) are safe.
//
// Invariant: currentDate == startingDate + cycle*stepMillis, except after
// SetCycleNoCheck or SetCurrentDate, which restore both together.
type Clock struct {
	mu sync.RWMutex

	cycle int
	step  float64

	// nil dates are recomputed lazily from defaultStart.
	startingDate *time.Time
	currentDate  *time.Time
	defaultStart time.Time

	start         time.Time
	lastDuration  time.Duration
	totalDuration time.Duration

	minDuration func() time.Duration
	now         func() time.Time
	sleep       func(time.Duration)
}

// Option configures a Clock.
type Option func(*Clock)

// WithStep sets the initial step in seconds. Non-positive values are ignored.
func WithStep(seconds float64) Option {
	return func(c *Clock) {
		if seconds > 0 {
			c.step = seconds
		}
	}
}

// WithDefaultStartingDate sets the date used when no starting date has been set.
func WithDefaultStartingDate(t time.Time) Option {
	return func(c *Clock) { c.defaultStart = t }
}

// WithMinimumDuration installs the pacing source. It is read after every
// cycle so configuration changes apply on the next cycle.
func WithMinimumDuration(fn func() time.Duration) Option {
	return func(c *Clock) { c.minDuration = fn }
}

// WithTimeSource replaces time.Now and time.Sleep, for tests.
func WithTimeSource(now func() time.Time, sleep func(time.Duration)) Option {
	return func(c *Clock) {
		c.now = now
		c.sleep = sleep
	}
}

// New creates a clock at cycle 0 with a one second step.
func New(opts ...Option) *Clock {
	c := &Clock{
		step:         1,
		defaultStart: time.Unix(0, 0).UTC(),
		minDuration:  func() time.Duration { return 0 },
		now:          time.Now,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.start = c.now()
	return c
}

// BeginCycle marks the wall-clock start of the cycle about to run.
func (c *Clock) BeginCycle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.now()
}

// AdvanceCycle ends the current cycle: it increments the cycle, moves the
// current date forward by one step, records the wall-clock duration since
// BeginCycle, and then paces if a minimum cycle duration is configured.
func (c *Clock) AdvanceCycle() {
	c.mu.Lock()
	c.cycle++
	c.setCurrentLocked(c.currentLocked().Add(time.Duration(c.stepMillisLocked()) * time.Millisecond))
	c.lastDuration = c.now().Sub(c.start)
	c.totalDuration += c.lastDuration
	last := c.lastDuration
	c.mu.Unlock()

	c.pace(last)
}

// pace blocks for the rest of the minimum cycle duration. It never shortens
// a cycle and never touches logical time.
func (c *Clock) pace(last time.Duration) {
	minimum := c.minDuration()
	if minimum <= 0 || last >= minimum {
		return
	}
	c.sleep(minimum - last)
}

// SetCycle moves the clock forward to cycle n. Negative or backward values
// are rejected and leave the clock unchanged.
func (c *Clock) SetCycle(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 0 {
		return simerr.Validation("clock.SetCycle", "cycle", "the current cycle of a simulation cannot be negative")
	}
	if n < c.cycle {
		return simerr.Validation("clock.SetCycle", "cycle",
			fmt.Sprintf("the current cycle of a simulation cannot be set backwards (%d < %d)", n, c.cycle))
	}
	c.jumpLocked(n)
	return nil
}

// SetCycleNoCheck sets the cycle without the backward check. It is meant
// for restoring saved state; negative values are still rejected.
func (c *Clock) SetCycleNoCheck(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n < 0 {
		return simerr.Validation("clock.SetCycleNoCheck", "cycle", "the current cycle of a simulation cannot be negative")
	}
	c.jumpLocked(n)
	return nil
}

func (c *Clock) jumpLocked(n int) {
	previous := c.cycle
	c.cycle = n
	delta := time.Duration(int64(n-previous)*c.stepMillisLocked()) * time.Millisecond
	c.setCurrentLocked(c.currentLocked().Add(delta))
}

// SetStep replaces the step, in seconds. Non-positive values are rejected.
func (c *Clock) SetStep(seconds float64) error {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return simerr.Validation("clock.SetStep", "step",
			"the interval between two cycles of a simulation must be positive")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = seconds
	return nil
}

// SetStartingDate sets both dates to t and resets the cycle to 0.
func (c *Clock) SetStartingDate(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startingDate = &t
	cur := t
	c.currentDate = &cur
	c.cycle = 0
}

// SetCurrentDate overrides the current date, for restoration.
func (c *Clock) SetCurrentDate(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCurrentLocked(t)
}

// ResetCycles zeroes the cycle and clears both dates; they are recomputed
// from the default starting date on next access.
func (c *Clock) ResetCycles() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycle = 0
	c.startingDate = nil
	c.currentDate = nil
}

// ResetTotalDuration zeroes the duration accumulators and restarts the cycle timer.
func (c *Clock) ResetTotalDuration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = c.now()
	c.lastDuration = 0
	c.totalDuration = 0
}

func (c *Clock) Reset() {
	c.ResetCycles()
	c.ResetTotalDuration()
}

func (c *Clock) Cycle() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycle
}

func (c *Clock) StepInSeconds() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.step
}

// StepInMillis returns the step rounded to whole milliseconds.
func (c *Clock) StepInMillis() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stepMillisLocked()
}

func (c *Clock) stepMillisLocked() int64 {
	return int64(math.Round(c.step * 1000))
}

// TimeElapsedInSeconds is measured between the starting and current dates in
// whole milliseconds, so it stays right when the step changed mid-run or is
// not an integer number of seconds.
func (c *Clock) TimeElapsedInSeconds() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := c.currentLocked().Sub(c.startingLocked()).Milliseconds()
	return float64(elapsed) / 1000.0
}

func (c *Clock) StartingDate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startingLocked()
}

func (c *Clock) CurrentDate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

// LastDuration is the wall-clock duration of the last finished cycle, before pacing.
func (c *Clock) LastDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastDuration
}

func (c *Clock) TotalDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalDuration
}

// AverageDuration returns TotalDuration/Cycle, or 0 before the first cycle.
func (c *Clock) AverageDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cycle == 0 {
		return 0
	}
	return c.totalDuration / time.Duration(c.cycle)
}

// Info renders "<name>: <n> cycle(s) elapsed [<logical time>]".
func (c *Clock) Info(name string) string {
	n := c.Cycle()
	unit := "cycles"
	if n <= 1 {
		unit = "cycle"
	}
	elapsed := time.Duration(c.TimeElapsedInSeconds() * float64(time.Second))
	return fmt.Sprintf("%s: %d %s elapsed [%s]", name, n, unit, elapsed)
}

func (c *Clock) startingLocked() time.Time {
	if c.startingDate == nil {
		t := c.defaultStart
		c.startingDate = &t
	}
	return *c.startingDate
}

func (c *Clock) currentLocked() time.Time {
	if c.currentDate == nil {
		t := c.startingLocked()
		c.currentDate = &t
	}
	return *c.currentDate
}

func (c *Clock) setCurrentLocked(t time.Time) {
	c.currentDate = &t
}
