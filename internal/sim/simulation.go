// Package sim builds a steppable simulation out of a clock, the shared
// parallel engine, and a set of agent groups.
package sim

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/san-kum/agentsim/internal/clock"
	"github.com/san-kum/agentsim/internal/logging"
	"github.com/san-kum/agentsim/internal/parallel"
	"github.com/san-kum/agentsim/internal/simerr"
)

type Simulation struct {
	id     string
	clock  *clock.Clock
	engine *parallel.Engine
	logger *slog.Logger

	mu        sync.Mutex
	groups    []*Group
	reflexes  []Reflex
	observers []Observer

	dead atomic.Bool
}

type Option func(*Simulation)

func WithLogger(l *slog.Logger) Option {
	return func(s *Simulation) { s.logger = logging.OrDiscard(l) }
}

func WithObserver(o Observer) Option {
	return func(s *Simulation) { s.observers = append(s.observers, o) }
}

// New creates a simulation. A nil clock gets a default one.
func New(id string, engine *parallel.Engine, clk *clock.Clock, opts ...Option) *Simulation {
	if clk == nil {
		clk = clock.New()
	}
	s := &Simulation{
		id:     id,
		clock:  clk,
		engine: engine,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("simulation", id)
	return s
}

func (s *Simulation) ID() string          { return s.id }
func (s *Simulation) Clock() *clock.Clock { return s.clock }

func (s *Simulation) AddGroup(g *Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups = append(s.groups, g)
}

func (s *Simulation) AddReflex(r Reflex) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reflexes = append(s.reflexes, r)
}

func (s *Simulation) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Group returns the group with the given name.
func (s *Simulation) Group(name string) (*Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// Population is the number of live agents over every group.
func (s *Simulation) Population() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, g := range s.groups {
		n += g.Alive()
	}
	return n
}

func (s *Simulation) Alive() bool { return !s.dead.Load() }

// Kill marks the simulation dead. Its runner stops stepping it.
func (s *Simulation) Kill() {
	if !s.dead.Swap(true) {
		s.logger.Debug("simulation killed", "cycle", s.clock.Cycle())
	}
}

// Step runs one cycle: every group in order, then every reflex, then the
// clock advances. A group that halts skips the remaining groups for this
// cycle. The simulation dies once every group is empty. A panic anywhere in
// the cycle is returned as a WorkerFailure and the clock does not advance.
func (s *Simulation) Step(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.Alive() {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = simerr.FromPanic("sim.Step", r)
		}
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock.BeginCycle()

	halted := false
	for _, g := range s.groups {
		if !s.engine.Step(ctx, g.Agents, g) {
			halted = true
			s.logger.Log(ctx, logging.LevelTrace, "group halted", "group", g.Name, "cycle", s.clock.Cycle())
			break
		}
	}

	for _, r := range s.reflexes {
		if g := s.groupLocked(r.Group); g != nil {
			s.engine.ExecuteOverAgents(ctx, r.Exec, g.Agents, r.Parallel)
		}
	}

	population := 0
	for _, g := range s.groups {
		g.prune()
		population += len(g.Agents)
	}

	s.clock.AdvanceCycle()

	info := CycleInfo{
		Simulation: s.id,
		Cycle:      s.clock.Cycle(),
		Duration:   s.clock.LastDuration(),
		Population: population,
		Halted:     halted,
	}
	for _, o := range s.observers {
		o.OnCycle(info)
	}

	if population == 0 && len(s.groups) > 0 {
		s.Kill()
	}
	return nil
}

func (s *Simulation) groupLocked(name string) *Group {
	for _, g := range s.groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Info is a one-line summary of the simulation's clock.
func (s *Simulation) Info() string { return s.clock.Info(s.id) }
