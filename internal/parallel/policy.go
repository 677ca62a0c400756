package parallel

import (
	"github.com/san-kum/agentsim/internal/config"
)

// Caller is the kind of stepping context asking for a parallelism level.
type Caller int

const (
	// CallerNone is a one-off execution over agents (an "ask").
	CallerNone Caller = iota
	// CallerSimulation steps the simulations of an experiment.
	CallerSimulation
	// CallerSpecies steps the population of one agent group.
	CallerSpecies
	// CallerGrid steps the cells of a grid.
	CallerGrid

	callerCount
)

func (c Caller) String() string {
	switch c {
	case CallerSimulation:
		return "simulation"
	case CallerSpecies:
		return "species"
	case CallerGrid:
		return "grid"
	default:
		return "none"
	}
}

// Policy is the per-caller default table, resolved once from the runtime
// configuration. Engines swap in a new Policy when the configuration changes.
type Policy struct {
	threads   int
	threshold int
	enabled   [callerCount]bool
	defaults  [callerCount]int
}

// NewPolicy builds the default table from rc.
func NewPolicy(rc config.RuntimeConfig) *Policy {
	p := &Policy{threads: rc.Threads, threshold: rc.Threshold}

	p.enabled[CallerSimulation] = rc.ParallelSimulations
	p.defaults[CallerSimulation] = rc.Threads

	p.enabled[CallerSpecies] = rc.ParallelSpecies
	p.defaults[CallerSpecies] = rc.Threshold

	p.enabled[CallerGrid] = rc.ParallelGrids
	p.defaults[CallerGrid] = rc.Threshold

	return p
}

// Parallelism returns 0 for sequential execution, 1 for one unit of work per
// agent, and n > 1 for fork-join splitting down to chunks of n.
//
//   - false -> 0
//   - true -> threads for simulations, the threshold for everything else
//   - an integer -> its absolute value; a negative number is read as
//     "parallel, but no more than this"
//   - unset -> the caller's enable flag and default from the configuration
func (p *Policy) Parallelism(s config.Setting, caller Caller) int {
	if b, ok := s.BoolValue(); ok {
		if !b {
			return 0
		}
		if caller == CallerSimulation {
			return p.threads
		}
		return p.threshold
	}
	if n, ok := s.IntValue(); ok {
		if n < 0 {
			return -n
		}
		return n
	}
	if caller < 0 || caller >= callerCount || !p.enabled[caller] {
		return 0
	}
	return p.defaults[caller]
}

// Threads is the configured pool size.
func (p *Policy) Threads() int { return p.threads }

// Threshold is the configured fork-join chunk size.
func (p *Policy) Threshold() int { return p.threshold }
