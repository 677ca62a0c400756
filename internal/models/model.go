// Package models holds the agent models an experiment can be built from.
package models

import (
	"github.com/san-kum/agentsim/internal/config"
	"github.com/san-kum/agentsim/internal/sim"
)

// Params sizes and seeds one simulation of a model.
type Params struct {
	Agents   int
	Seed     int64
	Parallel config.Setting
}

// Model populates a fresh simulation with its groups and reflexes.
type Model interface {
	Name() string
	Description() string
	Populate(s *sim.Simulation, p Params)
}
