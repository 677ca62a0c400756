package sim

import (
	"context"
	"time"

	"github.com/san-kum/agentsim/internal/config"
	"github.com/san-kum/agentsim/internal/parallel"
)

// Group is one population of a simulation: the agents of a species, or the
// cells of a grid.
type Group struct {
	Name     string
	Kind     parallel.Caller
	Parallel config.Setting
	Agents   []parallel.Agent

	// Order, when set, reorders or filters the population before each step.
	Order func(ctx context.Context, pop []parallel.Agent) []parallel.Agent
}

func (g *Group) Concurrency() config.Setting { return g.Parallel }
func (g *Group) Caller() parallel.Caller     { return g.Kind }

func (g *Group) Schedule(ctx context.Context, pop []parallel.Agent) []parallel.Agent {
	if g.Order == nil {
		return pop
	}
	return g.Order(ctx, pop)
}

// Alive counts the agents that have not died.
func (g *Group) Alive() int {
	n := 0
	for _, a := range g.Agents {
		if !a.Dead() {
			n++
		}
	}
	return n
}

// prune drops dead agents, keeping the order of the survivors.
func (g *Group) prune() {
	live := g.Agents[:0]
	for _, a := range g.Agents {
		if !a.Dead() {
			live = append(live, a)
		}
	}
	clear(g.Agents[len(live):])
	g.Agents = live
}

// Reflex runs an operation over every agent of one group after the groups
// have stepped.
type Reflex struct {
	Name     string
	Group    string
	Parallel config.Setting
	Exec     parallel.Executable
}

// CycleInfo is what observers receive after each completed cycle.
type CycleInfo struct {
	Simulation string
	Cycle      int
	Duration   time.Duration
	Population int
	Halted     bool
}

type Observer interface {
	OnCycle(info CycleInfo)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(info CycleInfo)

func (f ObserverFunc) OnCycle(info CycleInfo) { f(info) }
