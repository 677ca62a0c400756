package models

import (
	"context"
	"testing"

	"github.com/san-kum/agentsim/internal/config"
	"github.com/san-kum/agentsim/internal/parallel"
	"github.com/san-kum/agentsim/internal/sim"

	. "github.com/onsi/gomega"
)

func newSim(t *testing.T, m Model, p Params) *sim.Simulation {
	e := parallel.New(config.NewStore(nil))
	t.Cleanup(e.Close)
	s := sim.New("test", e, nil)
	m.Populate(s, p)
	return s
}

func TestWalkers_Populate(t *testing.T) {
	g := NewWithT(t)
	s := newSim(t, NewWalkers(), Params{Agents: 50, Seed: 1})

	grp, ok := s.Group("walkers")
	g.Expect(ok).To(BeTrue())
	g.Expect(grp.Agents).To(HaveLen(50))
	g.Expect(grp.Kind).To(Equal(parallel.CallerSpecies))
	g.Expect(s.Population()).To(Equal(50))
}

func TestWalkers_StarveAwayFromFood(t *testing.T) {
	g := NewWithT(t)
	m := NewWalkers()
	m.FoodRadius = 0
	s := newSim(t, m, Params{Agents: 20, Seed: 7})

	for i := 0; i < int(m.StartEnergy); i++ {
		g.Expect(s.Step(context.Background())).To(Succeed())
	}
	g.Expect(s.Population()).To(BeZero())
	g.Expect(s.Alive()).To(BeFalse())
}

func TestWalkers_FeedKeepsThemAlive(t *testing.T) {
	g := NewWithT(t)
	m := NewWalkers()
	m.FoodRadius = m.WorldSize // the whole world is food
	s := newSim(t, m, Params{Agents: 20, Seed: 7})

	for i := 0; i < 3*int(m.StartEnergy); i++ {
		g.Expect(s.Step(context.Background())).To(Succeed())
	}
	g.Expect(s.Population()).To(Equal(20))
}

func TestWalkers_StayInWorld(t *testing.T) {
	g := NewWithT(t)
	m := NewWalkers()
	s := newSim(t, m, Params{Agents: 30, Seed: 3, Parallel: config.Int(4)})

	for i := 0; i < 10; i++ {
		g.Expect(s.Step(context.Background())).To(Succeed())
	}
	grp, _ := s.Group("walkers")
	for _, a := range grp.Agents {
		x, y := a.(*Walker).Position()
		g.Expect(x).To(BeNumerically(">=", 0))
		g.Expect(x).To(BeNumerically("<", m.WorldSize))
		g.Expect(y).To(BeNumerically(">=", 0))
		g.Expect(y).To(BeNumerically("<", m.WorldSize))
	}
}

func TestCells_Blinker(t *testing.T) {
	g := NewWithT(t)
	m := &Cells{Density: 0}
	s := newSim(t, m, Params{Agents: 25})

	grp, ok := s.Group("cells")
	g.Expect(ok).To(BeTrue())
	g.Expect(grp.Agents).To(HaveLen(25))

	// Horizontal blinker in the middle row of a 5x5 torus.
	for x := 1; x <= 3; x++ {
		grp.Agents[2*5+x].(*Cell).alive = true
	}

	g.Expect(s.Step(context.Background())).To(Succeed())
	for y := 1; y <= 3; y++ {
		g.Expect(grp.Agents[y*5+2].(*Cell).Alive()).To(BeTrue())
	}
	g.Expect(LiveCells(s)).To(Equal(3))

	g.Expect(s.Step(context.Background())).To(Succeed())
	for x := 1; x <= 3; x++ {
		g.Expect(grp.Agents[2*5+x].(*Cell).Alive()).To(BeTrue())
	}
	g.Expect(LiveCells(s)).To(Equal(3))
}

func TestCells_SameResultWhateverTheMode(t *testing.T) {
	g := NewWithT(t)
	run := func(p config.Setting) int {
		s := newSim(t, NewCells(), Params{Agents: 400, Seed: 11, Parallel: p})
		for i := 0; i < 8; i++ {
			g.Expect(s.Step(context.Background())).To(Succeed())
		}
		return LiveCells(s)
	}

	want := run(config.Bool(false))
	g.Expect(run(config.Int(1))).To(Equal(want))
	g.Expect(run(config.Int(16))).To(Equal(want))
}

func TestCells_NeverDie(t *testing.T) {
	g := NewWithT(t)
	s := newSim(t, &Cells{Density: 0}, Params{Agents: 9})
	g.Expect(s.Step(context.Background())).To(Succeed())
	g.Expect(s.Alive()).To(BeTrue())
	g.Expect(s.Population()).To(Equal(9))
}
