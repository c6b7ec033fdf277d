// Package tui is the interactive practice screen.
package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/icco/abcd/internal/practice"
)

const (
	refreshInterval = 50 * time.Millisecond

	loopStep   = 0.5 // seconds per loop marker nudge
	offsetStep = 10  // ms per click offset nudge
	speedStep  = 5   // percent per speed nudge
)

const (
	keyUp    = "up"
	keyDown  = "down"
	keyLeft  = "left"
	keyRight = "right"
)

// tickMsg refreshes the screen from the engine snapshot.
type tickMsg time.Time

// Model is the bubbletea model driving a practice engine.
type Model struct {
	engine   *practice.Engine
	snap     practice.Snapshot
	selected practice.PhaseKey
	width    int
	height   int
	quitting bool
}

// New returns a model for e.
func New(e *practice.Engine) Model {
	return Model{engine: e, snap: e.Snapshot()}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.snap = m.engine.Snapshot()
		return m, tick()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			m.engine.Reset()
			return m, tea.Quit
		}
		m.handleKey(msg.String())
		m.snap = m.engine.Snapshot()
	}
	return m, nil
}

func (m *Model) handleKey(key string) {
	e := m.engine
	s := m.snap
	cfg := s.Phases[m.selected]

	switch key {
	case " ":
		if s.Mode == practice.ModeIdle {
			e.Start()
		} else {
			e.PauseResume()
		}
	case "esc", "x":
		e.Reset()
	case "n":
		e.SkipToNextPhase()
	case "r":
		e.RestartCurrentPhase()
	case "f":
		e.ToggleFocus()
	case "p":
		e.TogglePreview()
	case "m":
		e.ToggleMetronome()

	case keyUp, "k":
		if m.selected > practice.PhaseA {
			m.selected--
		}
	case keyDown, "j":
		if m.selected < practice.PhaseD {
			m.selected++
		}
	case keyLeft, "h":
		e.SetPhaseConfig(m.selected, cfg.Repetitions, cfg.SpeedPercent-speedStep)
	case keyRight, "l":
		e.SetPhaseConfig(m.selected, cfg.Repetitions, cfg.SpeedPercent+speedStep)
	case "w":
		e.SetPhaseConfig(m.selected, cfg.Repetitions+1, cfg.SpeedPercent)
	case "s":
		e.SetPhaseConfig(m.selected, cfg.Repetitions-1, cfg.SpeedPercent)
	case "D":
		e.ResetDefaults()

	case "+", "=":
		e.AdjustBPM(1)
	case "-", "_":
		e.AdjustBPM(-1)
	case "t":
		e.TapTempo()
	case ",":
		e.AdjustManualOffset(-offsetStep)
	case ".":
		e.AdjustManualOffset(offsetStep)
	case "0":
		e.ResetTempo()

	case "{":
		e.SetLoopStart(s.LoopStart - loopStep)
	case "}":
		e.SetLoopStart(s.LoopStart + loopStep)
	case "[":
		e.SetLoopEnd(s.LoopEnd - loopStep)
	case "]":
		e.SetLoopEnd(s.LoopEnd + loopStep)
	case "L":
		e.SetUseFullTrack(!s.UseFullTrack)

	case "<":
		e.RequestPitchShift(s.Semitones - 1)
	case ">":
		e.RequestPitchShift(s.Semitones + 1)

	case "c":
		e.DismissMessage()
	}
}
