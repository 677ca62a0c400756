package parallel

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/san-kum/agentsim/internal/config"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Engine", func() {
	var (
		store  *config.Store
		engine *Engine
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = config.NewStore(nil)
		engine = New(store)
		DeferCleanup(engine.Close)
	})

	Describe("StepPopulation", func() {
		It("steps a population no larger than the threshold sequentially", func() {
			raw, agents := newAgents(5)
			var order []int
			for _, a := range raw {
				a.onStep = func(a *testAgent) { order = append(order, a.id) }
			}

			Expect(engine.StepPopulation(ctx, agents, 20)).To(BeTrue())
			Expect(order).To(Equal([]int{0, 1, 2, 3, 4}))
		})

		It("stops at the first halt when sequential", func() {
			raw, agents := newAgents(6)
			raw[2].halt = true

			Expect(engine.StepPopulation(ctx, agents, 0)).To(BeFalse())
			Expect(stepCounts(raw)).To(Equal([]int64{1, 1, 1, 0, 0, 0}))
		})

		It("skips dead agents in every mode", func() {
			for _, threshold := range []int{0, 1, 3} {
				raw, agents := newAgents(12)
				raw[4].dead.Store(true)
				raw[9].dead.Store(true)

				Expect(engine.StepPopulation(ctx, agents, threshold)).To(BeTrue())
				for i, a := range raw {
					if i == 4 || i == 9 {
						Expect(a.steps.Load()).To(BeZero())
					} else {
						Expect(a.steps.Load()).To(Equal(int64(1)))
					}
				}
			}
		})

		It("ignores halts with one unit of work per agent", func() {
			raw, agents := newAgents(10)
			raw[0].halt = true

			Expect(engine.StepPopulation(ctx, agents, 1)).To(BeTrue())
			Expect(stepCounts(raw)).To(HaveEach(int64(1)))
		})

		It("visits every agent exactly once for every fork-join threshold", func() {
			const n = 37
			for threshold := 2; threshold <= n; threshold++ {
				raw, agents := newAgents(n)
				Expect(engine.StepPopulation(ctx, agents, threshold)).To(BeTrue())
				Expect(stepCounts(raw)).To(HaveEach(int64(1)), "threshold %d", threshold)
			}
		})

		It("stops only the halting partition under fork-join", func() {
			raw, agents := newAgents(8)
			raw[0].halt = true

			Expect(engine.StepPopulation(ctx, agents, 2)).To(BeFalse())
			// Partitions are [0 1] [2 3] [4 5] [6 7]; only agent 1 is skipped.
			Expect(stepCounts(raw)).To(Equal([]int64{1, 0, 1, 1, 1, 1, 1, 1}))
		})

		It("leaves the same agents alive whatever the mode", func() {
			kill := func(a *testAgent) {
				if a.id%3 == 0 {
					a.dead.Store(true)
				}
			}
			alive := func(threshold int) []int {
				raw, agents := newAgents(30)
				for _, a := range raw {
					a.onStep = kill
				}
				engine.StepPopulation(ctx, agents, threshold)
				var ids []int
				for _, a := range raw {
					if !a.Dead() {
						ids = append(ids, a.id)
					}
				}
				return ids
			}

			want := alive(0)
			Expect(want).To(HaveLen(20))
			Expect(alive(1)).To(ConsistOf(want))
			Expect(alive(4)).To(ConsistOf(want))
		})

		It("survives a panicking agent in parallel modes", func() {
			for _, threshold := range []int{1, 2} {
				raw, agents := newAgents(8)
				raw[3].panicMsg = "bad agent"

				Expect(func() { engine.StepPopulation(ctx, agents, threshold) }).NotTo(Panic())
				for i, a := range raw {
					if i != 3 && threshold == 1 {
						Expect(a.steps.Load()).To(Equal(int64(1)))
					}
				}
			}
		})
	})

	Describe("Step", func() {
		It("resolves the group's setting", func() {
			raw, agents := newAgents(5)
			raw[1].halt = true

			// Species are sequential by default, so the halt is global.
			Expect(engine.Step(ctx, agents, testGroup{setting: config.Unset(), caller: CallerSpecies})).To(BeFalse())
			Expect(stepCounts(raw)).To(Equal([]int64{1, 1, 0, 0, 0}))
		})

		It("steps in scheduled order", func() {
			raw, agents := newAgents(4)
			var order []int
			for _, a := range raw {
				a.onStep = func(a *testAgent) { order = append(order, a.id) }
			}

			g := reversedGroup{testGroup{setting: config.Bool(false), caller: CallerSpecies}}
			Expect(engine.Step(ctx, agents, g)).To(BeTrue())
			Expect(order).To(Equal([]int{3, 2, 1}))
		})
	})

	Describe("ExecuteOverAgents", func() {
		It("stops a sequential execution on Break", func() {
			_, agents := newAgents(10)
			var seen []int
			exec := func(_ context.Context, a Agent) Flow {
				id := a.(*testAgent).id
				seen = append(seen, id)
				if id == 3 {
					return Break
				}
				return Continue
			}

			engine.ExecuteOverAgents(ctx, exec, agents, config.Unset())
			Expect(seen).To(Equal([]int{0, 1, 2, 3}))
		})

		It("runs on every agent when parallel", func() {
			for _, s := range []config.Setting{config.Int(1), config.Int(3), config.Bool(true)} {
				_, agents := newAgents(50)
				var mu sync.Mutex
				seen := map[int]int{}
				exec := func(_ context.Context, a Agent) Flow {
					mu.Lock()
					defer mu.Unlock()
					seen[a.(*testAgent).id]++
					return Break
				}

				engine.ExecuteOverAgents(ctx, exec, agents, s)
				Expect(seen).To(HaveLen(50), s.String())
				for _, n := range seen {
					Expect(n).To(Equal(1))
				}
			}
		})

		It("stops when the context is cancelled", func() {
			_, agents := newAgents(100)
			cctx, cancel := context.WithCancel(ctx)
			var n atomic.Int64
			exec := func(_ context.Context, a Agent) Flow {
				if n.Add(1) == 5 {
					cancel()
				}
				return Continue
			}

			engine.ExecuteOverAgents(cctx, exec, agents, config.Int(10))
			Expect(n.Load()).To(BeNumerically("<", 100))
		})
	})

	Describe("reconfiguration", func() {
		It("resizes the pool when threads change", func() {
			Expect(engine.Threads()).To(Equal(config.DefaultThreads))
			Expect(engine.SetThreads(2)).To(Succeed())
			Expect(engine.Threads()).To(Equal(2))

			raw, agents := newAgents(40)
			Expect(engine.StepPopulation(ctx, agents, 1)).To(BeTrue())
			Expect(stepCounts(raw)).To(HaveEach(int64(1)))
		})

		It("rejects an invalid thread count and keeps the pool", func() {
			Expect(engine.SetThreads(0)).NotTo(Succeed())
			Expect(engine.Threads()).To(Equal(config.DefaultThreads))
		})

		It("ends on the last committed thread count when updates race", func() {
			racing := config.NewStore(nil)
			entered := make(chan struct{})
			release := make(chan struct{})
			racing.Subscribe(func(_, new config.Config) {
				if new.Runtime.Threads == 2 {
					close(entered)
					<-release
				}
			})
			e := New(racing)
			DeferCleanup(e.Close)

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				_ = e.SetThreads(2)
			}()
			Eventually(entered).Should(BeClosed())
			go func() {
				defer wg.Done()
				_ = e.SetThreads(3)
			}()
			Consistently(func() int { return e.Threads() }, "50ms").Should(Equal(config.DefaultThreads))
			close(release)
			wg.Wait()

			Expect(racing.Current().Runtime.Threads).To(Equal(3))
			Expect(e.Threads()).To(Equal(3))
		})

		It("follows policy changes from the store", func() {
			species := testGroup{setting: config.Unset(), caller: CallerSpecies}
			Expect(engine.Parallelism(species.Concurrency(), species.Caller())).To(BeZero())

			Expect(store.Update(func(c *config.Config) {
				c.Runtime.ParallelSpecies = true
				c.Runtime.Threshold = 7
			})).To(Succeed())
			Expect(engine.Parallelism(species.Concurrency(), species.Caller())).To(Equal(7))
		})
	})
})
