package sim

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/san-kum/agentsim/internal/clock"
	"github.com/san-kum/agentsim/internal/config"
	"github.com/san-kum/agentsim/internal/parallel"
	"github.com/san-kum/agentsim/internal/simerr"

	. "github.com/onsi/gomega"
)

type countingAgent struct {
	steps    atomic.Int64
	lifetime int64
	halt     bool
	boom     bool
}

func (a *countingAgent) Step(context.Context) bool {
	if a.boom {
		panic("agent exploded")
	}
	a.steps.Add(1)
	return !a.halt
}

func (a *countingAgent) Dead() bool {
	return a.lifetime > 0 && a.steps.Load() >= a.lifetime
}

func newEngine(t *testing.T) *parallel.Engine {
	e := parallel.New(config.NewStore(nil))
	t.Cleanup(e.Close)
	return e
}

func agents(n int, lifetime int64) ([]*countingAgent, []parallel.Agent) {
	raw := make([]*countingAgent, n)
	out := make([]parallel.Agent, n)
	for i := range raw {
		raw[i] = &countingAgent{lifetime: lifetime}
		out[i] = raw[i]
	}
	return raw, out
}

func TestSimulation_StepAdvancesClock(t *testing.T) {
	g := NewWithT(t)
	s := New("s0", newEngine(t), clock.New(clock.WithStep(2)))
	raw, pop := agents(10, 0)
	s.AddGroup(&Group{Name: "ants", Kind: parallel.CallerSpecies, Agents: pop})

	for i := 0; i < 3; i++ {
		g.Expect(s.Step(context.Background())).To(Succeed())
	}

	g.Expect(s.Clock().Cycle()).To(Equal(3))
	g.Expect(s.Clock().TimeElapsedInSeconds()).To(Equal(6.0))
	for _, a := range raw {
		g.Expect(a.steps.Load()).To(Equal(int64(3)))
	}
	g.Expect(s.Info()).To(HavePrefix("s0: 3 cycles elapsed"))
}

func TestSimulation_HaltSkipsLaterGroups(t *testing.T) {
	g := NewWithT(t)
	s := New("s0", newEngine(t), nil)

	first, firstPop := agents(2, 0)
	first[0].halt = true
	second, secondPop := agents(2, 0)
	s.AddGroup(&Group{Name: "first", Kind: parallel.CallerSpecies, Parallel: config.Bool(false), Agents: firstPop})
	s.AddGroup(&Group{Name: "second", Kind: parallel.CallerSpecies, Agents: secondPop})

	var infos []CycleInfo
	s.AddObserver(ObserverFunc(func(info CycleInfo) { infos = append(infos, info) }))

	g.Expect(s.Step(context.Background())).To(Succeed())
	g.Expect(first[1].steps.Load()).To(BeZero())
	g.Expect(second[0].steps.Load()).To(BeZero())
	g.Expect(infos).To(HaveLen(1))
	g.Expect(infos[0].Halted).To(BeTrue())
	g.Expect(infos[0].Cycle).To(Equal(1))
}

func TestSimulation_ReflexesRunAfterGroups(t *testing.T) {
	g := NewWithT(t)
	s := New("s0", newEngine(t), nil)
	raw, pop := agents(5, 0)
	s.AddGroup(&Group{Name: "ants", Kind: parallel.CallerSpecies, Agents: pop})

	var seen atomic.Int64
	s.AddReflex(Reflex{
		Name:  "check",
		Group: "ants",
		Exec: func(_ context.Context, a parallel.Agent) parallel.Flow {
			if a.(*countingAgent).steps.Load() == 1 {
				seen.Add(1)
			}
			return parallel.Continue
		},
	})
	s.AddReflex(Reflex{Name: "orphan", Group: "missing"})

	g.Expect(s.Step(context.Background())).To(Succeed())
	g.Expect(seen.Load()).To(Equal(int64(len(raw))))
}

func TestSimulation_DiesWhenPopulationIsGone(t *testing.T) {
	g := NewWithT(t)
	s := New("s0", newEngine(t), nil)
	_, pop := agents(4, 2)
	grp := &Group{Name: "mayflies", Kind: parallel.CallerSpecies, Agents: pop}
	s.AddGroup(grp)

	g.Expect(s.Step(context.Background())).To(Succeed())
	g.Expect(s.Alive()).To(BeTrue())
	g.Expect(s.Population()).To(Equal(4))

	g.Expect(s.Step(context.Background())).To(Succeed())
	g.Expect(grp.Agents).To(BeEmpty())
	g.Expect(s.Alive()).To(BeFalse())

	// Dead simulations do not step.
	g.Expect(s.Step(context.Background())).To(Succeed())
	g.Expect(s.Clock().Cycle()).To(Equal(2))
}

func TestSimulation_PanicBecomesWorkerFailure(t *testing.T) {
	g := NewWithT(t)
	s := New("s0", newEngine(t), nil)
	raw, pop := agents(3, 0)
	raw[1].boom = true
	s.AddGroup(&Group{Name: "ants", Kind: parallel.CallerSpecies, Parallel: config.Bool(false), Agents: pop})

	err := s.Step(context.Background())
	g.Expect(simerr.IsWorkerFailure(err)).To(BeTrue())
	g.Expect(s.Clock().Cycle()).To(BeZero())

	// The simulation is still usable.
	raw[1].boom = false
	g.Expect(s.Step(context.Background())).To(Succeed())
	g.Expect(s.Clock().Cycle()).To(Equal(1))
}

func TestSimulation_CancelledContext(t *testing.T) {
	g := NewWithT(t)
	s := New("s0", newEngine(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g.Expect(s.Step(ctx)).To(MatchError(context.Canceled))
	g.Expect(s.Clock().Cycle()).To(BeZero())
}

func TestGroup_ScheduleAndPrune(t *testing.T) {
	g := NewWithT(t)
	raw, pop := agents(4, 1)
	grp := &Group{
		Name:   "ordered",
		Kind:   parallel.CallerGrid,
		Agents: pop,
		Order: func(_ context.Context, p []parallel.Agent) []parallel.Agent {
			return p[2:]
		},
	}

	g.Expect(grp.Schedule(context.Background(), grp.Agents)).To(HaveLen(2))
	g.Expect(grp.Caller()).To(Equal(parallel.CallerGrid))

	raw[0].steps.Store(1)
	raw[3].steps.Store(1)
	g.Expect(grp.Alive()).To(Equal(2))
	grp.prune()
	g.Expect(grp.Agents).To(Equal([]parallel.Agent{raw[1], raw[2]}))
}
