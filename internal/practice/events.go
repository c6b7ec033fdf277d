package practice

import (
	"time"

	"github.com/icco/abcd/internal/tempo"
)

// Event is delivered to subscribers after the engine lock is released.
type Event interface {
	isEvent()
}

// StateChanged carries the persistent fields of the loaded track. It is sent
// whenever one of them changes.
type StateChanged struct {
	TrackID      string
	TrackName    string
	LoopStart    float64
	LoopEnd      float64
	UseFullTrack bool
	Duration     float64
	Tempo        tempo.Profile
	Phases       Phases
	Semitones    float64
}

// CycleCompleted is sent when phase D's last repetition ends.
type CycleCompleted struct {
	TrackID  string
	Finished time.Time
	Started  time.Time
	Phases   Phases
	BPM      float64
}

func (StateChanged) isEvent()   {}
func (CycleCompleted) isEvent() {}
