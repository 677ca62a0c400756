package parallel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/san-kum/agentsim/internal/config"
)

// testAgent counts its steps and halts its population when halt is set.
type testAgent struct {
	id       int
	steps    atomic.Int64
	halt     bool
	dead     atomic.Bool
	panicMsg string
	onStep   func(*testAgent)
}

func (a *testAgent) Step(ctx context.Context) bool {
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	a.steps.Add(1)
	if a.onStep != nil {
		a.onStep(a)
	}
	return !a.halt
}

func (a *testAgent) Dead() bool { return a.dead.Load() }

func newAgents(n int) ([]*testAgent, []Agent) {
	raw := make([]*testAgent, n)
	agents := make([]Agent, n)
	for i := range raw {
		raw[i] = &testAgent{id: i}
		agents[i] = raw[i]
	}
	return raw, agents
}

func stepCounts(raw []*testAgent) []int64 {
	out := make([]int64, len(raw))
	for i, a := range raw {
		out[i] = a.steps.Load()
	}
	return out
}

type testGroup struct {
	setting config.Setting
	caller  Caller
}

func (g testGroup) Concurrency() config.Setting { return g.setting }
func (g testGroup) Caller() Caller              { return g.caller }

// reversedGroup steps its population back to front and drops index 0.
type reversedGroup struct{ testGroup }

func (g reversedGroup) Schedule(_ context.Context, pop []Agent) []Agent {
	out := make([]Agent, 0, len(pop))
	for i := len(pop) - 1; i > 0; i-- {
		out = append(out, pop[i])
	}
	return out
}

type fakeHost struct {
	mu     sync.Mutex
	active bool
	closed int
}

func (h *fakeHost) ExperimentActive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

func (h *fakeHost) CloseExperiments() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	h.active = false
}

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (r *exitRecorder) exit(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes = append(r.codes, code)
}

func (r *exitRecorder) calls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.codes...)
}
