package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/icco/abcd/internal/pitch"
	"github.com/icco/abcd/internal/practice"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true)

	currentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#444444"))
)

// Gradient from cyan to magenta across the cycle bar.
var barColors = []string{
	"#00FFFF", "#00E5FF", "#00CCFF", "#00B2FF",
	"#0099FF", "#0080FF", "#0066FF", "#1A4DFF",
	"#3333FF", "#4D1AFF", "#6600FF", "#8000FF",
	"#9900FF", "#B300FF", "#CC00FF", "#FF00FF",
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	s := m.snap
	var b strings.Builder

	b.WriteString(titleStyle.Render("ABCD Practice") + "\n\n")
	if !s.Loaded {
		b.WriteString("No track loaded.\n")
	} else {
		b.WriteString(fmt.Sprintf("Track: %s  %s / %s\n", s.TrackName, formatTime(s.CurrentPosition), formatTime(s.Duration)))
	}
	b.WriteString(statusLine(s) + "\n\n")

	b.WriteString(renderCycleBar(s) + "\n\n")
	b.WriteString(m.renderPhases() + "\n")

	loop := fmt.Sprintf("Loop: %s - %s", formatTime(s.LoopStart), formatTime(s.LoopEnd))
	if s.UseFullTrack {
		loop = "Loop: full track " + dimStyle.Render(fmt.Sprintf("(markers %s - %s)", formatTime(s.LoopStart), formatTime(s.LoopEnd)))
	}
	b.WriteString(loop + "\n")
	b.WriteString(tempoLine(s) + "\n")
	b.WriteString(pitchLine(s) + "\n")

	b.WriteString("\n")
	if s.Message != "" {
		b.WriteString(errorStyle.Render(s.Message) + "\n")
	}

	b.WriteString("\n" + helpStyle.Render("space: start/pause • n: next phase • r: restart phase • f: focus • x: reset • p: preview • q: quit"))
	b.WriteString("\n" + helpStyle.Render("↑↓/jk: phase • ←→/hl: speed • w/s: reps • D: defaults • {}/[]: loop start/end • L: full track"))
	b.WriteString("\n" + helpStyle.Render("+/-: bpm • t: tap • ,/.: click offset • 0: reset tempo • m: metronome • </>: pitch"))
	return b.String()
}

func statusLine(s practice.Snapshot) string {
	switch s.Mode {
	case practice.ModeBreak:
		return currentStyle.Render(fmt.Sprintf("Break before %s (%s)  %s", s.Phase, s.Phase.Name(), countdown(s.CountdownBeat)))
	case practice.ModeActive:
		return currentStyle.Render(fmt.Sprintf("Phase %s (%s)  rep %d/%d", s.Phase, s.Phase.Name(), s.Repetition+1, s.Phases[s.Phase].Repetitions))
	case practice.ModeFocused:
		return currentStyle.Render(fmt.Sprintf("Focus on %s (%s)  rep %d", s.Phase, s.Phase.Name(), s.Repetition+1))
	case practice.ModePaused:
		return selectedStyle.Render(fmt.Sprintf("Paused (%s, phase %s)", s.PausedFrom, s.Phase))
	default:
		if s.Previewing {
			return selectedStyle.Render("Previewing")
		}
		return dimStyle.Render("Idle")
	}
}

// countdown renders the spoken count "1 2 1 2 3 4" with the beats heard so far.
func countdown(beat int) string {
	counts := []string{"1", "2", "1", "2", "3", "4"}
	out := make([]string, len(counts))
	for i, c := range counts {
		if i < beat {
			out[i] = c
		} else {
			out[i] = "·"
		}
	}
	return strings.Join(out, " ")
}

// renderCycleBar shows one cell per repetition of the whole cycle.
func renderCycleBar(s practice.Snapshot) string {
	running := s.Mode == practice.ModeActive || s.Mode == practice.ModeFocused
	var bar strings.Builder
	bar.WriteString("Cycle ")
	for i := 0; i < s.Total; i++ {
		color := barColors[i*len(barColors)/s.Total]
		var cell string
		var style lipgloss.Style
		switch {
		case running && i == s.Completed:
			cell = "▶"
			style = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(lipgloss.Color(color)).
				Bold(true)
		case i < s.Completed:
			cell = "█"
			style = lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		default:
			cell = "·"
			style = dimStyle
		}
		bar.WriteString(style.Render(cell))
	}
	bar.WriteString(fmt.Sprintf(" %3.0f%%", 100*s.Progress()))
	if s.MetronomeActive && s.Pulses%2 == 1 {
		bar.WriteString(currentStyle.Render(" ●"))
	}
	return bar.String()
}

func (m Model) renderPhases() string {
	s := m.snap
	var b strings.Builder
	b.WriteString("    Phase        Reps  Speed\n")
	for i, c := range s.Phases {
		key := practice.PhaseKey(i)
		marker := "  "
		if s.Mode != practice.ModeIdle && key == s.Phase {
			marker = "▶ "
		}
		row := fmt.Sprintf("%s%s %-11s %4d  %4d%%", marker, key, key.Name(), c.Repetitions, c.SpeedPercent)
		if key == m.selected {
			row = selectedStyle.Render(row)
		}
		b.WriteString(row + "\n")
	}
	return b.String()
}

func tempoLine(s practice.Snapshot) string {
	t := s.Tempo
	line := fmt.Sprintf("Tempo: %.0f BPM (detected %.1f)  offset %+.0f ms", t.Current, t.Original, t.ManualOffsetMs)
	switch {
	case !s.MetronomeAvailable:
		line += dimStyle.Render("  metronome unavailable")
	case !s.MetronomeEnabled:
		line += dimStyle.Render("  metronome off")
	}
	return line
}

func pitchLine(s practice.Snapshot) string {
	line := fmt.Sprintf("Pitch: %+.0f semitones", s.Semitones)
	if s.PitchStatus == pitch.Processing {
		line += selectedStyle.Render(fmt.Sprintf("  shifting to %+.0f…", s.Pending))
	}
	return line
}

func formatTime(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	total := int(sec * 10)
	return fmt.Sprintf("%d:%02d.%d", total/600, (total/10)%60, total%10)
}
