package runner

import (
	"fmt"
	"time"

	"github.com/san-kum/agentsim/internal/simerr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Lockstep", func() {
	var (
		r        *Lockstep
		failures *failureLog
	)

	BeforeEach(func() {
		failures = newFailureLog()
		r = NewLockstep(WithFailureHandler(failures.handle))
		DeferCleanup(r.Dispose)
	})

	addSims := func(n int) []*fakeSim {
		sims := make([]*fakeSim, n)
		for i := range sims {
			sims[i] = newFakeSim(fmt.Sprintf("sim-%d", i))
			Expect(r.Add(sims[i])).To(Succeed())
		}
		return sims
	}

	It("returns immediately with nothing registered", func() {
		done := make(chan int)
		go func() { done <- r.Advance() }()
		Eventually(done).Should(Receive(Equal(0)))
	})

	It("steps every simulation exactly once per advance", func() {
		sims := addSims(8)

		for round := 1; round <= 5; round++ {
			Expect(r.Advance()).To(Equal(8))
			for _, s := range sims {
				Expect(s.steps.Load()).To(Equal(int64(round)))
			}
		}
	})

	It("keeps the registration order", func() {
		sims := addSims(3)
		reg := r.Registered()
		Expect(reg).To(HaveLen(3))
		for i := range sims {
			Expect(reg[i].ID()).To(Equal(sims[i].ID()))
		}
		Expect(r.Len()).To(Equal(3))
	})

	It("rejects a duplicate ID", func() {
		addSims(1)
		err := r.Add(newFakeSim("sim-0"))
		Expect(simerr.IsValidation(err)).To(BeTrue())
		Expect(r.Len()).To(Equal(1))
	})

	It("stops stepping removed simulations", func() {
		sims := addSims(4)
		Expect(r.Advance()).To(Equal(4))

		r.Remove(sims[1])
		Expect(r.Len()).To(Equal(3))
		Expect(r.Advance()).To(Equal(3))
		Expect(r.Advance()).To(Equal(3))

		Expect(sims[1].steps.Load()).To(Equal(int64(1)))
		Expect(sims[0].steps.Load()).To(Equal(int64(3)))
	})

	It("accepts simulations added between rounds", func() {
		sims := addSims(2)
		Expect(r.Advance()).To(Equal(2))

		late := newFakeSim("late")
		Expect(r.Add(late)).To(Succeed())
		Expect(r.Advance()).To(Equal(3))
		Expect(late.steps.Load()).To(Equal(int64(1)))
		Expect(sims[0].steps.Load()).To(Equal(int64(2)))
	})

	It("releases the barrier when a step fails", func() {
		sims := addSims(3)
		sims[1].failing = true
		sims[2].panics = true

		for i := 0; i < 3; i++ {
			done := make(chan int)
			go func() { done <- r.Advance() }()
			Eventually(done).Should(Receive(Equal(3)))
		}

		Expect(failures.count("sim-1")).To(Equal(3))
		Expect(failures.count("sim-2")).To(Equal(3))
		Expect(simerr.IsWorkerFailure(failures.first("sim-2"))).To(BeTrue())
		Expect(r.Len()).To(Equal(3))
	})

	It("drops a simulation that dies", func() {
		sims := addSims(3)
		sims[0].dieAt = 2

		Expect(r.Advance()).To(Equal(3))
		Expect(r.Advance()).To(Equal(3))
		Eventually(r.Len).Should(Equal(2))

		Expect(r.Advance()).To(Equal(2))
		Expect(sims[0].steps.Load()).To(Equal(int64(2)))
		Expect(sims[1].steps.Load()).To(Equal(int64(3)))
	})

	It("drops a simulation killed between rounds without stepping it", func() {
		sims := addSims(2)
		Expect(r.Advance()).To(Equal(2))

		sims[1].dead.Store(true)
		Expect(r.Advance()).To(Equal(2))
		Eventually(r.Len).Should(Equal(1))
		Expect(sims[1].steps.Load()).To(Equal(int64(1)))
	})

	It("reports active simulations while they step", func() {
		sims := addSims(2)
		gate := make(chan struct{})
		for _, s := range sims {
			s.gate = gate
		}

		done := make(chan int)
		go func() { done <- r.Advance() }()
		Eventually(r.ActiveCount).Should(Equal(2))

		close(gate)
		Eventually(done).Should(Receive(Equal(2)))
		Expect(r.ActiveCount()).To(BeZero())
	})

	It("unblocks a pending advance on dispose", func() {
		sims := addSims(2)
		sims[0].gate = make(chan struct{})

		done := make(chan int)
		go func() { done <- r.Advance() }()
		Eventually(r.ActiveCount).Should(BeNumerically(">=", 1))

		r.Dispose()
		Eventually(done, time.Second).Should(Receive(BeNumerically("<=", 2)))
		Expect(r.Len()).To(BeZero())
		Expect(r.Advance()).To(BeZero())
	})

	It("ignores registrations after dispose", func() {
		r.Dispose()
		Expect(r.Add(newFakeSim("after"))).To(Succeed())
		Expect(r.Len()).To(BeZero())
	})
})
