package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
)

// GameUpdate is sent to the TUI after every finished game.
type GameUpdate struct {
	WorkerID int
	GameID   string
	Result   string
	Moves    int
	Board    string
}

type model struct {
	counters    *counters
	gamesPlayed int
	moves       int64
	sims        int64
	startTime   time.Time
	lastBoard   string
	recentGames []string
	updates     <-chan GameUpdate
}

func initialModel(c *counters, updates <-chan GameUpdate) model {
	return model{
		counters:  c,
		startTime: time.Now(),
		updates:   updates,
	}
}

type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func waitForUpdate(updates <-chan GameUpdate) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return tea.Quit()
		}
		return u
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(waitForUpdate(m.updates), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case TickMsg:
		m.moves = m.counters.moves.Load()
		m.sims = m.counters.sims.Load()
		return m, tickCmd()
	case GameUpdate:
		m.gamesPlayed++
		m.lastBoard = msg.Board
		line := fmt.Sprintf("worker %d: %s %s in %d moves", msg.WorkerID, msg.GameID, msg.Result, msg.Moves)
		m.recentGames = append([]string{line}, m.recentGames...)
		if len(m.recentGames) > 10 {
			m.recentGames = m.recentGames[:10]
		}
		return m, waitForUpdate(m.updates)
	}
	return m, nil
}

func (m model) View() string {
	secs := time.Since(m.startTime).Seconds()
	rate := func(n int64) float64 {
		if secs < 1 {
			return 0
		}
		return float64(n) / secs
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Games played: %d\n", m.gamesPlayed)
	fmt.Fprintf(&sb, "Moves:        %d (%.2f/s)\n", m.moves, rate(m.moves))
	fmt.Fprintf(&sb, "Simulations:  %d (%.0f/s)\n", m.sims, rate(m.sims))
	fmt.Fprintf(&sb, "Duration:     %s\n\n", time.Duration(secs*float64(time.Second)).Round(time.Second))

	if m.lastBoard != "" {
		sb.WriteString(m.lastBoard)
		sb.WriteByte('\n')
	}
	sb.WriteString("Recent games:\n")
	for _, g := range m.recentGames {
		sb.WriteString(g)
		sb.WriteByte('\n')
	}
	sb.WriteString("\nPress q to quit.\n")
	return sb.String()
}

// boardProfile is the colour profile boards are rendered with.
func boardProfile(tui bool) termenv.Profile {
	if !tui {
		return termenv.Ascii
	}
	return termenv.ColorProfile()
}
