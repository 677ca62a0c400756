// Package config provides the typed agentsim configuration: YAML loading,
// defaults, presets, validation, and a change-notified Store that the
// scheduling components subscribe to.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/san-kum/agentsim/internal/simerr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultThreads     = 4
	DefaultThreshold   = 20
	DefaultStep        = 1.0
	DefaultModel       = "walkers"
	DefaultSimulations = 2
	DefaultAgents      = 500
	DefaultCycles      = 100
)

// DefaultStartingDate is the logical date a clock starts from when none is configured.
var DefaultStartingDate = time.Unix(0, 0).UTC()

type Config struct {
	Runtime    RuntimeConfig    `yaml:"runtime"`
	Clock      ClockConfig      `yaml:"clock"`
	Memory     MemoryConfig     `yaml:"memory"`
	Logging    LoggingConfig    `yaml:"logging"`
	Experiment ExperimentConfig `yaml:"experiment"`
}

// RuntimeConfig holds the concurrency preferences.
type RuntimeConfig struct {
	// Threads sizes the shared agent pool and is the default simulation-level parallelism.
	Threads int `yaml:"threads"`

	// Threshold is the population size under which agents are stepped sequentially.
	Threshold int `yaml:"threshold"`

	ParallelSimulations bool `yaml:"parallel_simulations"`

	// ParallelSpecies and ParallelGrids forfeit run-to-run reproducibility when enabled.
	ParallelSpecies bool `yaml:"parallel_species"`
	ParallelGrids   bool `yaml:"parallel_grids"`
}

type ClockConfig struct {
	// Step is the logical duration of one cycle, in seconds.
	Step         float64   `yaml:"step"`
	StartingDate time.Time `yaml:"starting_date"`

	// MinimumCycleDuration paces cycles in wall-clock time. Zero disables pacing.
	MinimumCycleDuration time.Duration `yaml:"minimum_cycle_duration"`
}

type MemoryConfig struct {
	// CloseExperimentOnOOM closes the interactive experiment instead of
	// terminating the process when the heap is exhausted.
	CloseExperimentOnOOM bool `yaml:"close_experiment_on_oom"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ExperimentConfig struct {
	Model       string `yaml:"model"`
	Simulations int    `yaml:"simulations"`
	Agents      int    `yaml:"agents"`
	Cycles      int    `yaml:"cycles"`
	Seed        int64  `yaml:"seed"`

	// SimulationParallel picks the runner: sequential or lockstep.
	SimulationParallel Setting `yaml:"simulation_parallel"`

	// Parallel applies to every agent group and reflex of the model.
	Parallel Setting `yaml:"parallel"`
}

func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Threads:             DefaultThreads,
			Threshold:           DefaultThreshold,
			ParallelSimulations: true,
		},
		Clock: ClockConfig{
			Step:         DefaultStep,
			StartingDate: DefaultStartingDate,
		},
		Memory: MemoryConfig{
			CloseExperimentOnOOM: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Experiment: ExperimentConfig{
			Model:       DefaultModel,
			Simulations: DefaultSimulations,
			Agents:      DefaultAgents,
			Cycles:      DefaultCycles,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func Save(path string, cfg *Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks every value the scheduling core relies on.
func (c *Config) Validate() error {
	if c.Runtime.Threads < 1 {
		return simerr.Misconfiguration("runtime.threads", fmt.Sprintf("must be >= 1, got %d", c.Runtime.Threads))
	}
	if c.Runtime.Threshold < 1 {
		return simerr.Misconfiguration("runtime.threshold", fmt.Sprintf("must be >= 1, got %d", c.Runtime.Threshold))
	}
	if c.Clock.Step <= 0 {
		return simerr.Misconfiguration("clock.step", fmt.Sprintf("must be positive, got %f", c.Clock.Step))
	}
	if c.Clock.MinimumCycleDuration < 0 {
		return simerr.Misconfiguration("clock.minimum_cycle_duration", fmt.Sprintf("must be non-negative, got %v", c.Clock.MinimumCycleDuration))
	}
	if c.Experiment.Simulations < 0 {
		return simerr.Misconfiguration("experiment.simulations", fmt.Sprintf("must be non-negative, got %d", c.Experiment.Simulations))
	}
	if c.Experiment.Agents < 0 {
		return simerr.Misconfiguration("experiment.agents", fmt.Sprintf("must be non-negative, got %d", c.Experiment.Agents))
	}
	if c.Experiment.Cycles < 0 {
		return simerr.Misconfiguration("experiment.cycles", fmt.Sprintf("must be non-negative, got %d", c.Experiment.Cycles))
	}
	return nil
}

// StartingDateOrDefault returns the configured starting date, or the default epoch.
func (c ClockConfig) StartingDateOrDefault() time.Time {
	if c.StartingDate.IsZero() {
		return DefaultStartingDate
	}
	return c.StartingDate
}
