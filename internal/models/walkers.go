package models

import (
	"context"
	"math"
	"math/rand"
	"sync/atomic"

	"github.com/san-kum/agentsim/internal/parallel"
	"github.com/san-kum/agentsim/internal/sim"
)

// Walkers is a single species of random walkers in a square world. Each
// move costs energy; walkers that end a cycle near the center feed. A
// walker whose energy runs out dies.
type Walkers struct {
	WorldSize    float64
	StartEnergy  float64
	MoveCost     float64
	FoodRadius   float64
	FoodPerCycle float64
}

func NewWalkers() *Walkers {
	return &Walkers{
		WorldSize:    100,
		StartEnergy:  20,
		MoveCost:     1,
		FoodRadius:   15,
		FoodPerCycle: 2,
	}
}

func (w *Walkers) Name() string { return "walkers" }

func (w *Walkers) Description() string {
	return "random walkers that starve away from the center of the world"
}

func (w *Walkers) Populate(s *sim.Simulation, p Params) {
	rng := rand.New(rand.NewSource(p.Seed))
	agents := make([]parallel.Agent, p.Agents)
	for i := range agents {
		walker := &Walker{
			model:  w,
			x:      rng.Float64() * w.WorldSize,
			y:      rng.Float64() * w.WorldSize,
			energy: w.StartEnergy,
			// Each walker owns its source so parallel stepping stays race free.
			rng: rand.New(rand.NewSource(p.Seed + int64(i) + 1)),
		}
		agents[i] = walker
	}

	s.AddGroup(&sim.Group{
		Name:     "walkers",
		Kind:     parallel.CallerSpecies,
		Parallel: p.Parallel,
		Agents:   agents,
	})
	s.AddReflex(sim.Reflex{
		Name:     "feed",
		Group:    "walkers",
		Parallel: p.Parallel,
		Exec:     w.feed,
	})
}

func (w *Walkers) feed(_ context.Context, a parallel.Agent) parallel.Flow {
	walker := a.(*Walker)
	if walker.Dead() {
		return parallel.Continue
	}
	c := w.WorldSize / 2
	if math.Hypot(walker.x-c, walker.y-c) <= w.FoodRadius {
		walker.energy += w.FoodPerCycle
	}
	return parallel.Continue
}

type Walker struct {
	model  *Walkers
	x, y   float64
	energy float64
	rng    *rand.Rand
	dead   atomic.Bool
}

func (a *Walker) Step(context.Context) bool {
	m := a.model
	a.x = wrap(a.x+a.rng.Float64()*2-1, m.WorldSize)
	a.y = wrap(a.y+a.rng.Float64()*2-1, m.WorldSize)
	a.energy -= m.MoveCost
	if a.energy <= 0 {
		a.dead.Store(true)
	}
	return true
}

func (a *Walker) Dead() bool { return a.dead.Load() }

func (a *Walker) Position() (float64, float64) { return a.x, a.y }

func (a *Walker) Energy() float64 { return a.energy }

func wrap(v, size float64) float64 {
	v = math.Mod(v, size)
	if v < 0 {
		v += size
	}
	return v
}
