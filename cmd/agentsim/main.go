package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/agentsim/internal/config"
	"github.com/san-kum/agentsim/internal/experiment"
	"github.com/san-kum/agentsim/internal/logging"
	"github.com/san-kum/agentsim/internal/report"
	"github.com/san-kum/agentsim/internal/tui"
	"github.com/spf13/cobra"
)

var (
	dataDir    string
	configFile string
	preset     string
	logLevel   string

	model       string
	simulations int
	agents      int
	cycles      int
	seed        int64
	threads     int
	threshold   int
	parallel    config.Setting
	simParallel config.Setting
	minCycle    time.Duration
	frameEvery  time.Duration
	noSave      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "agentsim",
		Short:        "agent-based simulation scheduler",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".agentsim", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run an experiment and save its report",
		Args:  cobra.NoArgs,
		RunE:  runExperiment,
	}
	addExperimentFlags(runCmd)
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not save a report")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run an experiment with a live terminal view",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	addExperimentFlags(liveCmd)
	liveCmd.Flags().DurationVar(&frameEvery, "every", 16*time.Millisecond, "delay between rounds")
	liveCmd.Flags().BoolVar(&noSave, "no-save", false, "do not save a report")

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "compare round durations across parallelism settings",
		Args:  cobra.NoArgs,
		RunE:  benchExperiment,
	}
	addExperimentFlags(benchCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot round durations and population of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "print run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list configuration presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	configCmd := &cobra.Command{
		Use:   "config [path]",
		Short: "print the effective configuration, or write it to path",
		Args:  cobra.MaximumNArgs(1),
		RunE:  showConfig,
	}
	addExperimentFlags(configCmd)

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := experiment.NewRegistry()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, name := range reg.ListModels() {
				m, _ := reg.GetModel(name)
				fmt.Fprintf(w, "%s\t%s\n", name, m.Description())
			}
			return w.Flush()
		},
	}

	rootCmd.AddCommand(runCmd, liveCmd, benchCmd, listCmd, plotCmd, exportCmd, presetsCmd, configCmd, modelsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addExperimentFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "start from a preset configuration")
	f.StringVar(&model, "model", config.DefaultModel, "model to simulate")
	f.IntVar(&simulations, "sims", config.DefaultSimulations, "number of simulations")
	f.IntVar(&agents, "agents", config.DefaultAgents, "agents per simulation")
	f.IntVar(&cycles, "cycles", config.DefaultCycles, "number of rounds")
	f.Int64Var(&seed, "seed", 0, "random seed")
	f.IntVar(&threads, "threads", config.DefaultThreads, "agent pool size")
	f.IntVar(&threshold, "threshold", config.DefaultThreshold, "fork-join chunk size")
	f.Var(&parallel, "parallel", "parallel setting for agent groups (true, false, or a chunk size)")
	f.Var(&simParallel, "sim-parallel", "parallel setting for simulations (true, false, or a thread count)")
	f.DurationVar(&minCycle, "min-cycle", 0, "minimum wall-clock duration of a cycle")
}

// buildConfig layers preset, config file, and explicitly set flags, in that order.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Experiment.Model = model
	}
	if flags.Changed("sims") {
		cfg.Experiment.Simulations = simulations
	}
	if flags.Changed("agents") {
		cfg.Experiment.Agents = agents
	}
	if flags.Changed("cycles") {
		cfg.Experiment.Cycles = cycles
	}
	if flags.Changed("seed") {
		cfg.Experiment.Seed = seed
	}
	if flags.Changed("threads") {
		cfg.Runtime.Threads = threads
	}
	if flags.Changed("threshold") {
		cfg.Runtime.Threshold = threshold
	}
	if flags.Changed("parallel") {
		cfg.Experiment.Parallel = parallel
	}
	if flags.Changed("sim-parallel") {
		cfg.Experiment.SimulationParallel = simParallel
	}
	if flags.Changed("min-cycle") {
		cfg.Clock.MinimumCycleDuration = minCycle
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, os.Stderr)
}

func runExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	exp, err := experiment.New(config.NewStore(cfg), experiment.WithLogger(logger))
	if err != nil {
		return err
	}
	defer exp.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("running %d %s simulation(s) for %d rounds...\n", cfg.Experiment.Simulations, cfg.Experiment.Model, cfg.Experiment.Cycles)
	start := time.Now()

	rounds, err := exp.Run(ctx, cfg.Experiment.Cycles, nil)
	if err != nil && ctx.Err() == nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("completed %d rounds in %v\n\n", len(rounds), elapsed.Round(time.Millisecond))
	fmt.Println(tui.SimulationTable(exp.Snapshot()))

	if noSave {
		return nil
	}
	runID, err := saveReport(cfg, exp, rounds, elapsed)
	if err != nil {
		return err
	}
	fmt.Printf("\nrun id: %s\n", runID)
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	// The terminal belongs to the view, so logs are dropped.
	exp, err := experiment.New(config.NewStore(cfg))
	if err != nil {
		return err
	}
	defer exp.Close()

	start := time.Now()
	rounds, err := tui.Run(exp, cfg.Experiment.Cycles, frameEvery)
	if err != nil {
		return err
	}
	if noSave || len(rounds) == 0 {
		return nil
	}
	runID, err := saveReport(cfg, exp, rounds, time.Since(start))
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func saveReport(cfg *config.Config, exp *experiment.Experiment, rounds []experiment.Round, elapsed time.Duration) (string, error) {
	st := report.New(dataDir)
	if err := st.Init(); err != nil {
		return "", err
	}
	live := exp.Store().Current()
	meta := report.RunMetadata{
		Model:       cfg.Experiment.Model,
		Seed:        cfg.Experiment.Seed,
		Agents:      cfg.Experiment.Agents,
		Step:        cfg.Clock.Step,
		Threads:     live.Runtime.Threads,
		Threshold:   live.Runtime.Threshold,
		SimParallel: cfg.Experiment.SimulationParallel.String(),
		Parallel:    cfg.Experiment.Parallel.String(),
		WallTime:    elapsed.Seconds(),
		Simulations: report.Summaries(exp.Snapshot()),
	}
	return st.Save(meta, rounds)
}

func benchExperiment(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	settings := []config.Setting{config.Bool(false), config.Int(1), config.Int(cfg.Runtime.Threshold)}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PARALLEL\tROUNDS\tTOTAL\tPER ROUND\tPOPULATION")

	for _, s := range settings {
		run := *cfg
		run.Experiment.Parallel = s
		exp, err := experiment.New(config.NewStore(&run), experiment.WithLogger(logger))
		if err != nil {
			return err
		}
		start := time.Now()
		rounds, err := exp.Run(context.Background(), run.Experiment.Cycles, nil)
		elapsed := time.Since(start)
		exp.Close()
		if err != nil {
			return err
		}

		pop := 0
		perRound := time.Duration(0)
		if n := len(rounds); n > 0 {
			pop = rounds[n-1].Population
			perRound = elapsed / time.Duration(n)
		}
		fmt.Fprintf(w, "%s\t%d\t%v\t%v\t%d\n",
			s, len(rounds), elapsed.Round(time.Microsecond), perRound.Round(time.Microsecond), pop)
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := report.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tSIMS\tROUNDS\tTHREADS\tPARALLEL\tWALL")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%.2fs\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			len(run.Simulations),
			run.Rounds,
			run.Threads,
			run.Parallel,
			run.WallTime,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := report.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	rounds, err := st.LoadCycles(runID)
	if err != nil {
		return err
	}
	if len(rounds) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("rounds: %d\n\n", len(rounds))

	fmt.Println(asciigraph.Plot(report.Durations(rounds),
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("round duration (ms)"),
	))
	fmt.Println()

	pop := make([]float64, len(rounds))
	for i, r := range rounds {
		pop[i] = float64(r.Population)
	}
	fmt.Println(asciigraph.Plot(pop,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("population"),
	))
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := report.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func showConfig(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		if err := config.Save(args[0], cfg); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", args[0])
		return nil
	}
	out, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(strings.TrimLeft(string(out), "\n"))
	return nil
}
