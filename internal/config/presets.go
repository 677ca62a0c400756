package config

import (
	"sort"
	"time"
)

// Presets are named adjustments applied on top of DefaultConfig.
var Presets = map[string]func(*Config){
	"sequential": func(c *Config) {
		c.Runtime.ParallelSimulations = false
		c.Runtime.ParallelSpecies = false
		c.Runtime.ParallelGrids = false
	},
	"species": func(c *Config) {
		c.Runtime.ParallelSpecies = true
		c.Experiment.Agents = 5000
	},
	"grid": func(c *Config) {
		c.Runtime.ParallelGrids = true
		c.Experiment.Model = "cells"
		c.Experiment.Agents = 4096
	},
	"throughput": func(c *Config) {
		c.Runtime.Threads = 8
		c.Runtime.Threshold = 64
		c.Runtime.ParallelSpecies = true
		c.Runtime.ParallelGrids = true
		c.Experiment.Simulations = 8
		c.Experiment.Agents = 20000
	},
	"paced": func(c *Config) {
		c.Clock.MinimumCycleDuration = 50 * time.Millisecond
		c.Experiment.Cycles = 40
	},
}

// GetPreset returns DefaultConfig with the named preset applied, or nil.
func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
