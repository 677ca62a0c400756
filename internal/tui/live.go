// Package tui renders a running experiment in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/agentsim/internal/experiment"
)

const historySize = 60

type tickMsg time.Time

func tick(every time.Duration) tea.Cmd {
	return tea.Tick(every, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model is the live view of an experiment. It advances the experiment by one
// round per tick until cycles rounds have run.
type Model struct {
	exp    *experiment.Experiment
	cycles int
	every  time.Duration

	paused  bool
	done    bool
	rounds  []experiment.Round
	history []float64
	status  string

	width  int
	height int
}

func NewModel(exp *experiment.Experiment, cycles int, every time.Duration) Model {
	if every <= 0 {
		every = 16 * time.Millisecond
	}
	return Model{exp: exp, cycles: cycles, every: every, width: 80, height: 24}
}

// Rounds returns the rounds run so far.
func (m Model) Rounds() []experiment.Round { return m.rounds }

// Init opens the interactive session on the experiment.
func (m Model) Init() tea.Cmd {
	m.exp.SetInteractive(true)
	return tick(m.every)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tickMsg:
		if m.done {
			return m, nil
		}
		if !m.paused {
			m.step()
		}
		if m.done {
			return m, nil
		}
		return m, tick(m.every)
	}
	return m, nil
}

func (m *Model) step() {
	select {
	case <-m.exp.Done():
		m.done = true
		m.status = "experiment closed"
		return
	default:
	}
	if len(m.rounds) >= m.cycles || len(m.exp.Simulations()) == 0 {
		m.done = true
		return
	}
	r := m.exp.Step()
	m.rounds = append(m.rounds, r)
	m.history = append(m.history, float64(r.Duration)/float64(time.Millisecond))
	if len(m.history) > historySize {
		m.history = m.history[1:]
	}
	if len(m.rounds) >= m.cycles {
		m.done = true
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case " ":
		m.paused = !m.paused
	case "+", "=":
		m.setThreads(m.exp.Engine().Threads() + 1)
	case "-":
		m.setThreads(m.exp.Engine().Threads() - 1)
	case "a":
		if s, err := m.exp.AddSimulation(); err != nil {
			m.status = err.Error()
		} else {
			m.status = "added " + s.ID()
		}
	case "x":
		sims := m.exp.Simulations()
		if len(sims) == 0 {
			return m, nil
		}
		id := sims[len(sims)-1].ID()
		if err := m.exp.RemoveSimulation(id); err != nil {
			m.status = err.Error()
		} else {
			m.status = "removed " + id
		}
	}
	return m, nil
}

func (m *Model) setThreads(n int) {
	if err := m.exp.Engine().SetThreads(n); err != nil {
		m.status = err.Error()
		return
	}
	m.status = fmt.Sprintf("threads set to %d", n)
}

func (m Model) View() string {
	var s strings.Builder

	s.WriteString(headerStyle.Render(strings.ToUpper(m.exp.Model().Name())) + "\n")

	status := statusRunning.Render("RUNNING")
	switch {
	case m.done:
		status = statusDone.Render("DONE")
	case m.paused:
		status = statusPaused.Render("PAUSED")
	}
	s.WriteString(status + "\n\n")

	progress := 0.0
	if m.cycles > 0 {
		progress = float64(len(m.rounds)) / float64(m.cycles)
	}
	s.WriteString(ProgressBar(progress, 40) + fmt.Sprintf(" %d/%d\n\n", len(m.rounds), m.cycles))

	if len(m.history) > 1 {
		chart := asciigraph.Plot(m.history,
			asciigraph.Height(5),
			asciigraph.Width(40),
			asciigraph.Caption("round duration (ms)"),
		)
		s.WriteString(graphStyle.Render(chart) + "\n\n")
	}

	s.WriteString(field("Threads", fmt.Sprintf("%d", m.exp.Engine().Threads())) + "\n")
	s.WriteString(field("Active", fmt.Sprintf("%d", m.exp.ActiveCount())) + "\n")
	if n := len(m.rounds); n > 0 {
		last := m.rounds[n-1]
		s.WriteString(field("Population", fmt.Sprintf("%d", last.Population)) + "\n")
		s.WriteString(field("Last round", last.Duration.Round(time.Microsecond).String()) + "\n")
	}
	s.WriteString("\n" + SimulationTable(m.exp.Snapshot()) + "\n")

	if m.status != "" {
		s.WriteString("\n" + helpStyle.Render(m.status))
	}
	s.WriteString(helpStyle.Render("\nSP:Pause +/-:Threads A:Add X:Remove Q:Quit"))

	return panelStyle.Render(s.String())
}

// SimulationTable renders one line per simulation snapshot.
func SimulationTable(snaps []experiment.SimSnapshot) string {
	rows := make([][]string, 0, len(snaps))
	for _, sn := range snaps {
		row := []string{
			sn.ID,
			fmt.Sprintf("%d", sn.Cycle),
			fmt.Sprintf("%d", sn.Population),
			fmt.Sprintf("%.1fs", sn.ElapsedSeconds),
			sn.AverageDuration.Round(time.Microsecond).String(),
		}
		if !sn.Alive {
			for i := range row {
				row[i] = deadStyle.Render(row[i])
			}
		}
		rows = append(rows, row)
	}
	return Table([]string{"SIMULATION", "CYCLE", "POP", "ELAPSED", "AVG"}, rows)
}

// Run shows the live view until the experiment finishes or the user quits,
// and returns the rounds that ran.
func Run(exp *experiment.Experiment, cycles int, every time.Duration) ([]experiment.Round, error) {
	defer exp.SetInteractive(false)
	p := tea.NewProgram(NewModel(exp, cycles, every), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	return final.(Model).Rounds(), nil
}
