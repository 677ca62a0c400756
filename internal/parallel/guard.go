package parallel

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/san-kum/agentsim/internal/logging"
	"github.com/san-kum/agentsim/internal/simerr"
	"golang.org/x/time/rate"
)

// EscalationInterval is the minimum time between two memory escalations.
const EscalationInterval = time.Minute

// Host is what the guard needs to know about the surrounding application
// to decide how to react to memory exhaustion.
type Host interface {
	// ExperimentActive reports whether an interactive experiment is running.
	ExperimentActive() bool

	// CloseExperiments stops and disposes every open experiment.
	CloseExperiments()
}

// Action is the decision taken on a memory escalation.
type Action int

const (
	ActionNone Action = iota
	ActionCloseExperiments
	ActionExit
)

// Guard receives failures from units of work. Ordinary failures are logged;
// out-of-memory signatures are escalated at most once per EscalationInterval.
type Guard struct {
	logger     *slog.Logger
	host       Host
	closeOnOOM func() bool
	exit       func(code int)
	sometimes  *rate.Sometimes
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

func WithGuardLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) { g.logger = logging.OrDiscard(l) }
}

func WithHost(h Host) GuardOption {
	return func(g *Guard) { g.host = h }
}

// WithExit replaces os.Exit, for tests.
func WithExit(exit func(code int)) GuardOption {
	return func(g *Guard) { g.exit = exit }
}

// NewGuard creates a guard. closeOnOOM is read on every escalation so the
// memory preference can change at runtime.
func NewGuard(closeOnOOM func() bool, opts ...GuardOption) *Guard {
	g := &Guard{
		logger:     logging.Discard(),
		closeOnOOM: closeOnOOM,
		exit:       os.Exit,
		sometimes:  &rate.Sometimes{Interval: EscalationInterval},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetHost installs the host after construction, when the host itself owns the guard.
func (g *Guard) SetHost(h Host) { g.host = h }

// HandlePanic is the pool's panic handler.
func (g *Guard) HandlePanic(unit string, v any) {
	g.Handle(simerr.FromPanic(unit, v))
}

// Handle logs err, or escalates it when it carries an out-of-memory signature.
// It returns the action taken.
func (g *Guard) Handle(err error) Action {
	if err == nil {
		return ActionNone
	}
	msg, oom := exhaustionSignature(err)
	if !oom {
		g.logger.Error("unit of work failed", "err", err)
		return ActionNone
	}

	action := ActionNone
	g.sometimes.Do(func() {
		action = g.escalate(msg)
	})
	if action == ActionNone {
		g.logger.Warn("memory exhaustion already escalated recently", "err", err)
	}
	return action
}

func (g *Guard) escalate(msg string) Action {
	heap := strings.Contains(msg, "heap")
	active := g.host != nil && g.host.ExperimentActive()

	if g.closeOnOOM() && active && heap {
		g.logger.Error("out of memory, the experiment will be closed now", "cause", msg)
		g.host.CloseExperiments()
		return ActionCloseExperiments
	}
	if active && !heap {
		g.logger.Error("cannot allocate more memory for this experiment, exiting", "cause", msg)
	} else {
		g.logger.Error("the system is running out of memory, exiting", "cause", msg)
	}
	g.exit(1)
	return ActionExit
}

// exhaustionSignature reports whether err looks like memory exhaustion and
// returns its lower-cased message.
func exhaustionSignature(err error) (string, bool) {
	msg := strings.ToLower(err.Error())
	if simerr.IsResourceExhaustion(err) {
		return msg, true
	}
	for _, sig := range []string{"out of memory", "cannot allocate memory", "heap exhausted"} {
		if strings.Contains(msg, sig) {
			return msg, true
		}
	}
	return msg, false
}

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case ActionCloseExperiments:
		return "close-experiments"
	case ActionExit:
		return "exit"
	default:
		return "none"
	}
}
