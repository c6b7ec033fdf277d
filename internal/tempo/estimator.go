package tempo

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/icco/abcd/internal/audio"
	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/logging"
)

const (
	// FallbackBPM is used when analysis fails.
	FallbackBPM = 120.0
	// MinBPM and MaxBPM bound manual and tapped tempos.
	MinBPM = 30.0
	MaxBPM = 300.0

	tapWindow   = 8
	tapAverage  = 5
	tapMinimum  = 4
	tapResetGap = 2000 * time.Millisecond
)

// Profile is the tempo state of a loaded track.
type Profile struct {
	Original        float64 // detected, canonical BPM
	Current         float64 // BPM the metronome follows
	FirstBeatOffset float64 // seconds
	ManualOffsetMs  float64
}

// Analyze detects the canonical tempo and beat anchor of b. On failure it
// returns the fallback profile together with an AnalysisFailure error; the
// profile is usable either way.
func Analyze(b *audio.Buffer) (Profile, error) {
	log := logging.For("tempo")
	raw, err := Detect(b)
	if err != nil {
		log.WithError(err).Warn("tempo analysis failed, using fallback")
		return Profile{Original: FallbackBPM, Current: FallbackBPM},
			faults.Wrap(err, faults.AnalysisFailure, "detect tempo")
	}
	bpm := Canonicalize(raw)
	offset := Anchor(b)
	log.WithFields(logging.Fields{
		"raw_bpm": raw,
		"bpm":     bpm,
		"offset":  offset,
	}).Info("tempo detected")
	return Profile{Original: bpm, Current: bpm, FirstBeatOffset: offset}, nil
}

// Estimator owns a Profile and applies user corrections to it. It is not safe
// for concurrent use.
type Estimator struct {
	profile Profile
	taps    []time.Time
}

// NewEstimator starts from p.
func NewEstimator(p Profile) *Estimator {
	return &Estimator{profile: p}
}

// Profile returns the current tempo profile.
func (e *Estimator) Profile() Profile {
	return e.profile
}

// SetProfile replaces the profile and clears pending taps.
func (e *Estimator) SetProfile(p Profile) {
	e.profile = p
	e.taps = e.taps[:0]
}

// Tap records a tap at the given time. speedRatio is the playback speed the
// user is tapping along to; pass 1 when not playing at an altered speed. Once
// enough taps are collected the current BPM is updated and returned with ok.
func (e *Estimator) Tap(at time.Time, speedRatio float64) (float64, bool) {
	if n := len(e.taps); n > 0 && at.Sub(e.taps[n-1]) > tapResetGap {
		e.taps = e.taps[:0]
	}
	e.taps = append(e.taps, at)
	if len(e.taps) > tapWindow {
		e.taps = e.taps[len(e.taps)-tapWindow:]
	}
	if len(e.taps) < tapMinimum {
		return 0, false
	}

	recent := e.taps
	if len(recent) > tapAverage {
		recent = recent[len(recent)-tapAverage:]
	}
	intervals := make([]float64, len(recent)-1)
	for i := range intervals {
		intervals[i] = float64(recent[i+1].Sub(recent[i]).Milliseconds())
	}
	avg := stat.Mean(intervals, nil)
	if avg <= 0 {
		return 0, false
	}
	bpm := 60000 / avg
	if speedRatio > 0 {
		bpm /= speedRatio
	}
	e.profile.Current = clampBPM(math.Round(bpm))
	return e.profile.Current, true
}

// Nudge steps the current BPM by delta.
func (e *Estimator) Nudge(delta float64) float64 {
	e.profile.Current = clampBPM(e.profile.Current + delta)
	return e.profile.Current
}

// AdjustOffset shifts the click grid by deltaMs. The offset is unbounded.
func (e *Estimator) AdjustOffset(deltaMs float64) float64 {
	e.profile.ManualOffsetMs += deltaMs
	return e.profile.ManualOffsetMs
}

// Reset restores the detected BPM and clears the manual offset.
func (e *Estimator) Reset() {
	e.profile.Current = e.profile.Original
	e.profile.ManualOffsetMs = 0
	e.taps = e.taps[:0]
}

func clampBPM(v float64) float64 {
	return math.Max(MinBPM, math.Min(MaxBPM, v))
}
