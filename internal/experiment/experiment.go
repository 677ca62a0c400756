// Package experiment runs a set of simulations of one model in lockstep,
// sharing a single parallel engine and configuration store.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/san-kum/agentsim/internal/clock"
	"github.com/san-kum/agentsim/internal/config"
	"github.com/san-kum/agentsim/internal/logging"
	"github.com/san-kum/agentsim/internal/models"
	"github.com/san-kum/agentsim/internal/parallel"
	"github.com/san-kum/agentsim/internal/runner"
	"github.com/san-kum/agentsim/internal/sim"
)

// Round describes one barrier round of the experiment.
type Round struct {
	Index       int
	Simulations int
	Population  int
	Duration    time.Duration
}

// SimSnapshot is the clock state of one simulation.
type SimSnapshot struct {
	ID              string
	Alive           bool
	Cycle           int
	Population      int
	ElapsedSeconds  float64
	CurrentDate     time.Time
	LastDuration    time.Duration
	AverageDuration time.Duration
	TotalDuration   time.Duration
}

type tracked struct {
	sim *sim.Simulation
	seq int
}

type Experiment struct {
	store     *config.Store
	engine    *parallel.Engine
	runner    runner.Runner
	model     models.Model
	logger    *slog.Logger
	registry  *Registry
	guardOpts []parallel.GuardOption
	now       func() time.Time

	mu     sync.Mutex
	sims   map[string]tracked
	nextID int
	rounds int

	interactive atomic.Bool
	closing     atomic.Bool
	cancelRun   context.CancelFunc
	closeOnce   sync.Once
	closed      chan struct{}
}

type Option func(*Experiment)

func WithLogger(l *slog.Logger) Option {
	return func(e *Experiment) { e.logger = logging.OrDiscard(l) }
}

func WithRegistry(r *Registry) Option {
	return func(e *Experiment) { e.registry = r }
}

// WithGuardOptions configures the memory guard, mostly for tests.
func WithGuardOptions(opts ...parallel.GuardOption) Option {
	return func(e *Experiment) { e.guardOpts = append(e.guardOpts, opts...) }
}

// New builds an experiment from the store's current configuration: the
// engine, the runner picked from the simulation-level parallelism, and the
// configured number of simulations of the configured model.
func New(store *config.Store, opts ...Option) (*Experiment, error) {
	e := &Experiment{
		store:  store,
		logger: logging.Discard(),
		now:    time.Now,
		sims:   make(map[string]tracked),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}

	cfg := store.Current()
	model, err := e.registry.GetModel(cfg.Experiment.Model)
	if err != nil {
		return nil, err
	}
	e.model = model

	guard := parallel.NewGuard(func() bool {
		return store.Current().Memory.CloseExperimentOnOOM
	}, append([]parallel.GuardOption{parallel.WithGuardLogger(e.logger), parallel.WithHost(e)}, e.guardOpts...)...)
	e.engine = parallel.New(store, parallel.WithLogger(e.logger), parallel.WithGuard(guard))

	level := e.engine.Parallelism(cfg.Experiment.SimulationParallel, parallel.CallerSimulation)
	e.runner = runner.New(level,
		runner.WithLogger(e.logger),
		runner.WithFailureHandler(func(s runner.Stepable, err error) {
			guard.Handle(fmt.Errorf("simulation %s: %w", s.ID(), err))
		}),
	)
	e.logger.Info("experiment created",
		"model", model.Name(),
		"simulations", cfg.Experiment.Simulations,
		"parallelism", level,
		"threads", e.engine.Threads(),
	)

	for i := 0; i < cfg.Experiment.Simulations; i++ {
		if _, err := e.AddSimulation(); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

// AddSimulation creates one more simulation of the model and registers it
// with the runner. It takes part from the next round on.
func (e *Experiment) AddSimulation() (*sim.Simulation, error) {
	cfg := e.store.Current()

	e.mu.Lock()
	seq := e.nextID
	e.nextID++
	e.mu.Unlock()
	id := fmt.Sprintf("%s-%d", e.model.Name(), seq)
	seed := cfg.Experiment.Seed + int64(seq)

	clk := clock.New(
		clock.WithStep(cfg.Clock.Step),
		clock.WithDefaultStartingDate(cfg.Clock.StartingDateOrDefault()),
		clock.WithMinimumDuration(func() time.Duration {
			return e.store.Current().Clock.MinimumCycleDuration
		}),
	)
	s := sim.New(id, e.engine, clk, sim.WithLogger(e.logger))
	e.model.Populate(s, models.Params{
		Agents:   cfg.Experiment.Agents,
		Seed:     seed,
		Parallel: cfg.Experiment.Parallel,
	})

	if err := e.runner.Add(s); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.sims[id] = tracked{sim: s, seq: seq}
	e.mu.Unlock()
	return s, nil
}

// RemoveSimulation deregisters and kills a simulation.
func (e *Experiment) RemoveSimulation(id string) error {
	e.mu.Lock()
	t, ok := e.sims[id]
	delete(e.sims, id)
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown simulation: %s", id)
	}
	e.runner.Remove(t.sim)
	t.sim.Kill()
	return nil
}

// Step runs one barrier round.
func (e *Experiment) Step() Round {
	start := e.now()
	n := e.runner.Advance()

	e.mu.Lock()
	e.rounds++
	r := Round{Index: e.rounds, Simulations: n, Duration: e.now().Sub(start)}
	e.mu.Unlock()

	for _, s := range e.Simulations() {
		r.Population += s.Population()
	}
	return r
}

// Run steps the experiment cycles times, or until ctx is done, the
// experiment is closed, or no simulation is left. Closing the experiment
// ends Run without an error. onRound may be nil.
func (e *Experiment) Run(ctx context.Context, cycles int, onRound func(Round)) ([]Round, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancelRun = cancel
	e.mu.Unlock()

	var rounds []Round
	for i := 0; i < cycles; i++ {
		if e.closing.Load() {
			return rounds, nil
		}
		if err := ctx.Err(); err != nil {
			return rounds, err
		}
		if e.runner.Len() == 0 {
			e.logger.Info("no simulation left", "round", i)
			break
		}
		r := e.Step()
		rounds = append(rounds, r)
		if onRound != nil {
			onRound(r)
		}
	}
	return rounds, nil
}

// Simulations returns the registered simulations sorted by registration.
func (e *Experiment) Simulations() []*sim.Simulation {
	reg := e.runner.Registered()
	out := make([]*sim.Simulation, 0, len(reg))
	for _, s := range reg {
		out = append(out, s.(*sim.Simulation))
	}
	return out
}

// Snapshot reports the clock of every simulation the experiment created
// and still tracks, dead ones included.
func (e *Experiment) Snapshot() []SimSnapshot {
	e.mu.Lock()
	all := make([]tracked, 0, len(e.sims))
	for _, t := range e.sims {
		all = append(all, t)
	}
	e.mu.Unlock()
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	out := make([]SimSnapshot, 0, len(all))
	for _, t := range all {
		s, c := t.sim, t.sim.Clock()
		out = append(out, SimSnapshot{
			ID:              s.ID(),
			Alive:           s.Alive(),
			Cycle:           c.Cycle(),
			Population:      s.Population(),
			ElapsedSeconds:  c.TimeElapsedInSeconds(),
			CurrentDate:     c.CurrentDate(),
			LastDuration:    c.LastDuration(),
			AverageDuration: c.AverageDuration(),
			TotalDuration:   c.TotalDuration(),
		})
	}
	return out
}

func (e *Experiment) Model() models.Model      { return e.model }
func (e *Experiment) Engine() *parallel.Engine { return e.engine }
func (e *Experiment) Store() *config.Store     { return e.store }
func (e *Experiment) ActiveCount() int         { return e.runner.ActiveCount() }
func (e *Experiment) Done() <-chan struct{}    { return e.closed }

func (e *Experiment) Rounds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rounds
}

// SetInteractive marks the experiment as driven by an interactive session,
// such as the live view. Only an interactive experiment is closed, rather
// than the process terminated, when the heap runs out. Batch runs are not
// interactive.
func (e *Experiment) SetInteractive(on bool) { e.interactive.Store(on) }

// ExperimentActive reports whether an interactive session is open and the
// experiment has not been closed.
func (e *Experiment) ExperimentActive() bool {
	return e.interactive.Load() && !e.closing.Load()
}

// CloseExperiments is called by the memory guard, possibly from inside a
// worker, so the actual teardown runs on its own goroutine.
func (e *Experiment) CloseExperiments() {
	e.closing.Store(true)
	e.mu.Lock()
	cancel := e.cancelRun
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	go e.Close()
}

// Close disposes the runner, kills every simulation and shuts the engine
// down. It is safe to call more than once.
func (e *Experiment) Close() {
	e.closeOnce.Do(func() {
		e.closing.Store(true)
		close(e.closed)
		e.runner.Dispose()

		e.mu.Lock()
		for _, t := range e.sims {
			t.sim.Kill()
		}
		e.mu.Unlock()

		e.engine.Close()
		e.logger.Info("experiment closed", "rounds", e.Rounds())
	})
}
