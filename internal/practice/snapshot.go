package practice

import (
	"github.com/icco/abcd/internal/pitch"
	"github.com/icco/abcd/internal/tempo"
)

// Snapshot is a point-in-time view of the engine for display.
type Snapshot struct {
	Mode          Mode
	Phase         PhaseKey
	Repetition    int
	CountdownBeat int
	IsFocused     bool
	PausedFrom    Mode

	MetronomeActive    bool
	MetronomeAvailable bool
	MetronomeEnabled   bool
	Pulses             uint64

	Tempo           tempo.Profile
	CurrentPosition float64
	Duration        float64
	LoopStart       float64
	LoopEnd         float64
	UseFullTrack    bool
	Phases          Phases

	// Completed and Total count repetitions across the whole cycle.
	Completed int
	Total     int

	Previewing  bool
	PitchStatus pitch.Status
	Semitones   float64 // applied shift
	Pending     float64 // shift of the running or last job

	Volume      float64
	ClickVolume float64
	Message     string
	TrackName   string
	Loaded      bool
}

// Progress returns the fraction of the cycle's repetitions completed.
func (s Snapshot) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	status, pending := e.pitch.Status()
	s := Snapshot{
		Mode:               e.state.Mode(),
		Phase:              e.phase,
		MetronomeAvailable: !e.metronomeUnavailable,
		MetronomeEnabled:   e.metronomeEnabled,
		Tempo:              e.tempo.Profile(),
		Duration:           e.duration,
		LoopStart:          e.region.Start,
		LoopEnd:            e.region.End,
		UseFullTrack:       e.region.UseFullTrack,
		Phases:             e.phases,
		Total:              e.phases.TotalRepetitions(),
		Previewing:         e.previewing,
		PitchStatus:        status,
		Semitones:          e.semitones,
		Pending:            pending,
		Volume:             e.volume,
		ClickVolume:        e.clickVolume,
		Message:            e.message,
	}
	if e.metro != nil && !e.metronomeUnavailable {
		s.MetronomeActive = e.metro.Active()
		s.Pulses = e.metro.Pulses()
	}
	if e.track != nil {
		s.Loaded = true
		s.TrackName = e.track.name
		s.CurrentPosition = e.audio.CurrentTime()
	}

	switch st := e.state.(type) {
	case BreakCountdown:
		s.CountdownBeat = st.Beat
		s.Completed = e.phases.repetitionsBefore(st.Target)
	case Active:
		s.Repetition = st.Repetition
		s.Completed = e.phases.repetitionsBefore(st.Phase) + st.Repetition
	case Focused:
		s.IsFocused = true
		s.Repetition = st.Repetition
		s.Completed = e.phases.repetitionsBefore(st.Phase) + st.Repetition
	case Paused:
		s.PausedFrom = st.Prior.Mode()
		switch p := st.Prior.(type) {
		case Active:
			s.Repetition = p.Repetition
			s.Completed = e.phases.repetitionsBefore(p.Phase) + p.Repetition
		case BreakCountdown:
			s.Completed = e.phases.repetitionsBefore(p.Target)
		}
	}
	return s
}
