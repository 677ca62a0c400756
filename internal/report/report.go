// Package report persists run summaries: one directory per run holding
// metadata.json and cycles.csv.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/agentsim/internal/experiment"
)

type Store struct {
	baseDir string
	now     func() time.Time
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, now: time.Now}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// SimSummary is the final clock state of one simulation of a run.
type SimSummary struct {
	ID              string        `json:"id"`
	Alive           bool          `json:"alive"`
	Cycle           int           `json:"cycle"`
	Population      int           `json:"population"`
	ElapsedSeconds  float64       `json:"elapsed_seconds"`
	CurrentDate     time.Time     `json:"current_date"`
	AverageDuration time.Duration `json:"average_duration_ns"`
	TotalDuration   time.Duration `json:"total_duration_ns"`
}

type RunMetadata struct {
	ID          string       `json:"id"`
	Model       string       `json:"model"`
	Timestamp   time.Time    `json:"timestamp"`
	Seed        int64        `json:"seed"`
	Agents      int          `json:"agents"`
	Step        float64      `json:"step"`
	Threads     int          `json:"threads"`
	Threshold   int          `json:"threshold"`
	SimParallel string       `json:"simulation_parallel"`
	Parallel    string       `json:"parallel"`
	Rounds      int          `json:"rounds"`
	WallTime    float64      `json:"wall_time_seconds"`
	Simulations []SimSummary `json:"simulations"`
}

// Summaries converts experiment snapshots for storage.
func Summaries(snaps []experiment.SimSnapshot) []SimSummary {
	out := make([]SimSummary, len(snaps))
	for i, s := range snaps {
		out[i] = SimSummary{
			ID:              s.ID,
			Alive:           s.Alive,
			Cycle:           s.Cycle,
			Population:      s.Population,
			ElapsedSeconds:  s.ElapsedSeconds,
			CurrentDate:     s.CurrentDate,
			AverageDuration: s.AverageDuration,
			TotalDuration:   s.TotalDuration,
		}
	}
	return out
}

var cyclesHeader = []string{"round", "simulations", "population", "duration_ms"}

// Save writes meta and rounds under a new run directory and returns the
// run ID. meta.ID and meta.Timestamp are filled in.
func (s *Store) Save(meta RunMetadata, rounds []experiment.Round) (string, error) {
	ts := s.now()
	runID := fmt.Sprintf("%s_%d", meta.Model, ts.UnixMilli())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta.ID = runID
	meta.Timestamp = ts
	meta.Rounds = len(rounds)

	metaFile, err := os.Create(filepath.Join(runDir, "metadata.json"))
	if err != nil {
		return "", err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", err
	}

	csvFile, err := os.Create(filepath.Join(runDir, "cycles.csv"))
	if err != nil {
		return "", err
	}
	defer csvFile.Close()

	w := csv.NewWriter(csvFile)
	if err := w.Write(cyclesHeader); err != nil {
		return "", err
	}
	for _, r := range rounds {
		row := []string{
			strconv.Itoa(r.Index),
			strconv.Itoa(r.Simulations),
			strconv.Itoa(r.Population),
			strconv.FormatFloat(float64(r.Duration)/float64(time.Millisecond), 'f', 3, 64),
		}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	return runID, nil
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.After(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadCycles reads the per-round table of a run. Malformed rows are skipped.
func (s *Store) LoadCycles(runID string) ([]experiment.Round, error) {
	file, err := os.Open(filepath.Join(s.baseDir, runID, "cycles.csv"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []experiment.Round{}, nil
	}

	rounds := make([]experiment.Round, 0, len(records)-1)
	for _, record := range records[1:] {
		if len(record) < len(cyclesHeader) {
			continue
		}
		idx, err1 := strconv.Atoi(record[0])
		sims, err2 := strconv.Atoi(record[1])
		pop, err3 := strconv.Atoi(record[2])
		ms, err4 := strconv.ParseFloat(record[3], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		rounds = append(rounds, experiment.Round{
			Index:       idx,
			Simulations: sims,
			Population:  pop,
			Duration:    time.Duration(ms * float64(time.Millisecond)),
		})
	}
	return rounds, nil
}

// Durations returns the round durations of rounds in milliseconds.
func Durations(rounds []experiment.Round) []float64 {
	out := make([]float64, len(rounds))
	for i, r := range rounds {
		out[i] = float64(r.Duration) / float64(time.Millisecond)
	}
	return out
}
