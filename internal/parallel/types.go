// Package parallel steps agent populations sequentially, one unit of work per
// agent, or by fork-join splitting, according to a threshold derived from
// the runtime configuration and the kind of caller.
//
// Only sequential stepping (threshold 0) keeps population order and a global
// early stop. Parallel modes give up both, and with them run-to-run
// reproducibility.
package parallel

import (
	"context"

	"github.com/san-kum/agentsim/internal/config"
)

// Agent is one steppable member of a population.
type Agent interface {
	// Step runs one behavior step. It returns false to halt the stepping of
	// the rest of the population.
	Step(ctx context.Context) bool

	// Dead reports whether the agent has died and must no longer be stepped.
	Dead() bool
}

// Flow is the outcome of one execution of an Executable.
type Flow int

const (
	Continue Flow = iota
	// Break asks a sequential execution to stop after the current agent.
	Break
)

// Executable is an arbitrary operation run once per agent.
type Executable func(ctx context.Context, a Agent) Flow

// Group is a population owner: a species or a grid.
type Group interface {
	// Concurrency is the group's own parallel setting.
	Concurrency() config.Setting

	// Caller is CallerSpecies or CallerGrid.
	Caller() Caller
}

// Scheduler is implemented by groups whose stepping order or membership is
// not their raw population.
type Scheduler interface {
	Schedule(ctx context.Context, pop []Agent) []Agent
}
