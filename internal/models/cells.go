package models

import (
	"context"
	"math"
	"math/rand"

	"github.com/san-kum/agentsim/internal/parallel"
	"github.com/san-kum/agentsim/internal/sim"
)

// Cells is Conway's life on a torus. Stepping only computes each cell's
// next state from its neighbors' current one; a commit reflex then swaps
// them, so the grid can be stepped in any order or in parallel.
type Cells struct {
	Density float64
}

func NewCells() *Cells { return &Cells{Density: 0.35} }

func (c *Cells) Name() string { return "cells" }

func (c *Cells) Description() string {
	return "game of life on a square torus, stepped as a grid"
}

// Populate builds the largest square grid with at most p.Agents cells.
func (c *Cells) Populate(s *sim.Simulation, p Params) {
	side := int(math.Sqrt(float64(p.Agents)))
	if side < 1 {
		side = 1
	}
	rng := rand.New(rand.NewSource(p.Seed))

	grid := make([]*Cell, side*side)
	for i := range grid {
		grid[i] = &Cell{alive: rng.Float64() < c.Density}
	}
	at := func(x, y int) *Cell {
		x = (x + side) % side
		y = (y + side) % side
		return grid[y*side+x]
	}
	agents := make([]parallel.Agent, len(grid))
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			cell := at(x, y)
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx != 0 || dy != 0 {
						cell.neighbors = append(cell.neighbors, at(x+dx, y+dy))
					}
				}
			}
			agents[y*side+x] = cell
		}
	}

	s.AddGroup(&sim.Group{
		Name:     "cells",
		Kind:     parallel.CallerGrid,
		Parallel: p.Parallel,
		Agents:   agents,
	})
	s.AddReflex(sim.Reflex{
		Name:     "commit",
		Group:    "cells",
		Parallel: p.Parallel,
		Exec:     commit,
	})
}

func commit(_ context.Context, a parallel.Agent) parallel.Flow {
	cell := a.(*Cell)
	cell.alive = cell.next
	return parallel.Continue
}

// Cell is one grid cell. Cells never die; only their state flips.
type Cell struct {
	alive     bool
	next      bool
	neighbors []*Cell
}

func (c *Cell) Step(context.Context) bool {
	n := 0
	for _, nb := range c.neighbors {
		if nb.alive {
			n++
		}
	}
	c.next = n == 3 || (c.alive && n == 2)
	return true
}

func (c *Cell) Dead() bool { return false }

func (c *Cell) Alive() bool { return c.alive }

// LiveCells counts the cells of a simulation's grid that are on.
func LiveCells(s *sim.Simulation) int {
	g, ok := s.Group("cells")
	if !ok {
		return 0
	}
	n := 0
	for _, a := range g.Agents {
		if a.(*Cell).alive {
			n++
		}
	}
	return n
}
