// Package runner advances a set of simulations one cycle at a time.
//
// The lockstep runner gives every simulation its own goroutine for its whole
// lifetime and synchronizes them with a go/done barrier. The sequential
// runner steps them in registration order on the caller's goroutine.
package runner

import (
	"context"
	"log/slog"

	"github.com/san-kum/agentsim/internal/logging"
	"github.com/san-kum/agentsim/internal/simerr"
)

// Stepable is a simulation as seen by a runner.
type Stepable interface {
	// ID is stable for the life of the simulation and unique within a runner.
	ID() string

	// Step runs exactly one cycle.
	Step(ctx context.Context) error

	// Alive is false once the simulation is dead and must not be stepped again.
	Alive() bool
}

// Runner advances every registered simulation by one cycle per Advance.
type Runner interface {
	// Add registers s. It fails if a simulation with the same ID is registered.
	Add(s Stepable) error

	// Remove deregisters s. A lockstep worker notices on its next round.
	Remove(s Stepable)

	// Advance steps every registered, live simulation exactly once and returns
	// the number of simulations that took part in the round. It returns
	// immediately when nothing is registered.
	Advance() int

	// Dispose stops every worker. The runner cannot be reused.
	Dispose()

	// ActiveCount is the number of simulations stepping right now.
	ActiveCount() int

	// Registered returns the registered simulations in registration order.
	Registered() []Stepable

	// Len is the number of registered simulations.
	Len() int
}

// FailureHandler receives the error of a failed step. Stepping continues.
type FailureHandler func(s Stepable, err error)

type options struct {
	logger    *slog.Logger
	onFailure FailureHandler
}

// Option configures a runner.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = logging.OrDiscard(l) }
}

// WithFailureHandler is called for every failed step. It replaces the
// runner's own error log line, so the handler owns reporting.
func WithFailureHandler(fn FailureHandler) Option {
	return func(o *options) { o.onFailure = fn }
}

func buildOptions(opts []Option) options {
	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New picks the runner for a simulation-level parallelism: sequential for 0,
// lockstep otherwise.
func New(parallelism int, opts ...Option) Runner {
	if parallelism == 0 {
		return NewSequential(opts...)
	}
	return NewLockstep(opts...)
}

// stepOnce runs one cycle of s, turning a panic into a WorkerFailure.
func stepOnce(ctx context.Context, s Stepable) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = simerr.FromPanic("runner.step", r)
		}
	}()
	return s.Step(ctx)
}

func (o options) fail(s Stepable, err error) {
	if o.onFailure != nil {
		o.onFailure(s, err)
		return
	}
	o.logger.Error("simulation step failed", "simulation", s.ID(), "err", err)
}

func duplicate(op string, s Stepable) error {
	return simerr.Validation(op, "id", "simulation "+s.ID()+" is already registered")
}
