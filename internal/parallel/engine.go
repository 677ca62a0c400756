package parallel

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/san-kum/agentsim/internal/config"
	"github.com/san-kum/agentsim/internal/logging"
)

// Engine owns the shared agent pool and the parallelism policy. One engine
// is shared by every simulation of a process; it follows the configuration
// store and rebuilds its pool when the thread count changes.
type Engine struct {
	store  *config.Store
	logger *slog.Logger
	guard  *Guard

	policy atomic.Pointer[Policy]
	pool   atomic.Pointer[Pool]

	resizeMu sync.Mutex
	draining sync.WaitGroup
	cancel   func()
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrDiscard(l) }
}

// WithGuard replaces the default guard built from the store.
func WithGuard(g *Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// New creates an engine from the store's current configuration and
// subscribes it to later changes.
func New(store *config.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.guard == nil {
		e.guard = NewGuard(func() bool {
			return store.Current().Memory.CloseExperimentOnOOM
		}, WithGuardLogger(e.logger))
	}

	rc := store.Current().Runtime
	e.policy.Store(NewPolicy(rc))
	e.pool.Store(NewPool(rc.Threads, e.guard.HandlePanic))
	e.cancel = store.Subscribe(e.onConfigChange)
	return e
}

func (e *Engine) onConfigChange(old, new config.Config) {
	if old.Runtime == new.Runtime {
		return
	}
	e.policy.Store(NewPolicy(new.Runtime))
	if old.Runtime.Threads != new.Runtime.Threads {
		e.resize(new.Runtime.Threads)
	}
}

// resize swaps in a fresh pool and drains the old one in the background.
// Work already running on the old pool finishes there; new work goes to
// the new pool.
func (e *Engine) resize(threads int) {
	e.resizeMu.Lock()
	defer e.resizeMu.Unlock()

	old := e.pool.Swap(NewPool(threads, e.guard.HandlePanic))
	e.logger.Info("agent pool resized", "from", old.Size(), "to", threads)

	e.draining.Add(1)
	go func() {
		defer e.draining.Done()
		old.Close()
		e.logger.Debug("previous agent pool drained", "size", old.Size())
	}()
}

// SetThreads changes the pool size through the configuration store, so the
// value is validated before anything is torn down.
func (e *Engine) SetThreads(n int) error {
	return e.store.Update(func(c *config.Config) { c.Runtime.Threads = n })
}

// Threads is the current pool size.
func (e *Engine) Threads() int { return e.pool.Load().Size() }

// Guard returns the failure guard shared by the pool.
func (e *Engine) Guard() *Guard { return e.guard }

// Parallelism resolves a setting for the given kind of caller.
func (e *Engine) Parallelism(s config.Setting, caller Caller) int {
	return e.policy.Load().Parallelism(s, caller)
}

// Step steps a group's population with the group's own setting, after the
// group's schedule, if any, has ordered or filtered it.
func (e *Engine) Step(ctx context.Context, pop []Agent, g Group) bool {
	agents := pop
	if s, ok := g.(Scheduler); ok {
		agents = s.Schedule(ctx, pop)
	}
	return e.StepPopulation(ctx, agents, e.Parallelism(g.Concurrency(), g.Caller()))
}

// StepPopulation steps agents with the given threshold and reports whether
// stepping ran to completion.
//
// A population no larger than the threshold is always stepped sequentially.
// With threshold 0 agents run in order, dead agents are skipped, and the
// first halt stops everything and returns false. With threshold 1 every
// agent is its own unit of work and halts are ignored. Larger thresholds
// fork-join: a halt stops only its own partition and the result is the AND
// of all partitions.
func (e *Engine) StepPopulation(ctx context.Context, agents []Agent, threshold int) bool {
	if len(agents) <= threshold {
		threshold = 0
	}
	switch threshold {
	case 0:
		for _, a := range agents {
			if a.Dead() {
				continue
			}
			if !a.Step(ctx) {
				return false
			}
		}
		return true
	case 1:
		pool := e.pool.Load()
		var wg sync.WaitGroup
		for _, a := range agents {
			if a.Dead() {
				continue
			}
			a := a
			pool.Go(&wg, "agent.step", func() { a.Step(ctx) })
		}
		wg.Wait()
		return true
	default:
		t := &stepTask{ctx: ctx, pool: e.pool.Load(), threshold: threshold}
		return t.run(SliceSpan(agents))
	}
}

// ExecuteOverAgents runs exec once per agent. The setting is resolved as a
// one-off caller. Sequential execution stops after the first Break; parallel
// execution ignores Break and stops only when ctx is cancelled.
func (e *Engine) ExecuteOverAgents(ctx context.Context, exec Executable, agents []Agent, s config.Setting) {
	threshold := e.Parallelism(s, CallerNone)
	if len(agents) <= threshold {
		threshold = 0
	}
	switch threshold {
	case 0:
		for _, a := range agents {
			if ctx.Err() != nil {
				return
			}
			if exec(ctx, a) == Break {
				return
			}
		}
	case 1:
		pool := e.pool.Load()
		var wg sync.WaitGroup
		for _, a := range agents {
			a := a
			pool.Go(&wg, "agent.execute", func() { exec(ctx, a) })
		}
		wg.Wait()
	default:
		t := &executeTask{ctx: ctx, pool: e.pool.Load(), threshold: threshold, exec: exec}
		t.run(SliceSpan(agents))
	}
}

// Close unsubscribes from the store and waits for every pool to drain.
func (e *Engine) Close() {
	e.cancel()
	e.resizeMu.Lock()
	defer e.resizeMu.Unlock()
	e.pool.Load().Close()
	e.draining.Wait()
}
