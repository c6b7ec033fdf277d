package practice

import (
	"math"

	"github.com/icco/abcd/internal/audio"
	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/loop"
	"github.com/icco/abcd/internal/pitch"
	"github.com/icco/abcd/internal/tempo"
)

// Start begins a cycle with the break before phase A. It needs a loaded
// track and no pitch shift in progress.
func (e *Engine) Start() {
	e.do(func() {
		if _, ok := e.state.(Idle); !ok || e.track == nil || e.pitch.Busy() {
			return
		}
		e.previewing = false
		e.cycleStarted = e.clock.Now()
		e.enterBreakLocked(PhaseA)
	})
}

// PauseResume pauses an active repetition or a break, or resumes a paused one.
// Pausing from focus resumes as a normal repetition. A resumed break starts
// its countdown over.
func (e *Engine) PauseResume() {
	e.do(func() {
		switch s := e.state.(type) {
		case Active:
			e.pauseLocked(s)
		case Focused:
			e.pauseLocked(Active(s))
		case BreakCountdown:
			e.cancelTimersLocked()
			e.state = Paused{Prior: BreakCountdown{Target: s.Target}}
		case Paused:
			switch p := s.Prior.(type) {
			case Active:
				e.enterActiveLocked(p)
			case BreakCountdown:
				e.enterBreakLocked(p.Target)
			}
		}
	})
}

func (e *Engine) pauseLocked(a Active) {
	e.audio.Pause()
	e.state = Paused{Prior: a}
	e.syncMetronomeLocked()
}

// SkipToNextPhase abandons the current phase and starts the break before the
// next one. Not available on phase D.
func (e *Engine) SkipToNextPhase() {
	e.do(func() {
		a, ok := e.currentActiveLocked()
		if !ok {
			return
		}
		next, ok := a.Phase.Next()
		if !ok {
			return
		}
		e.enterBreakLocked(next)
	})
}

// RestartCurrentPhase starts the current phase over from its break.
func (e *Engine) RestartCurrentPhase() {
	e.do(func() {
		a, ok := e.currentActiveLocked()
		if !ok {
			return
		}
		e.enterBreakLocked(a.Phase)
	})
}

// currentActiveLocked returns the repetition for Active or Paused(Active).
func (e *Engine) currentActiveLocked() (Active, bool) {
	if a, ok := e.state.(Active); ok {
		return a, true
	}
	return pausedActive(e.state)
}

// ToggleFocus switches between counting repetitions and looping the current
// one indefinitely.
func (e *Engine) ToggleFocus() {
	e.do(func() {
		switch s := e.state.(type) {
		case Active:
			e.state = Focused(s)
		case Focused:
			e.state = Active(s)
		}
	})
}

// LoopBoundaryReached reports that playback hit the end of the loop. Poll
// calls it from the position monitor.
func (e *Engine) LoopBoundaryReached() {
	e.do(func() {
		if e.pitch.Busy() {
			return
		}
		e.boundaryLocked()
	})
}

// Reset stops everything and returns to Idle on phase A.
func (e *Engine) Reset() {
	e.do(e.resetLocked)
}

// TogglePreview plays the loop once at original speed, or stops a running
// preview. Only available while Idle.
func (e *Engine) TogglePreview() {
	e.do(func() {
		if _, ok := e.state.(Idle); !ok || e.track == nil {
			return
		}
		if e.previewing {
			e.previewing = false
			e.audio.Pause()
			e.rewindLocked()
			e.syncMetronomeLocked()
			return
		}
		e.previewing = true
		e.rewindLocked()
		e.audio.SetPlaybackRate(1)
		e.audio.Play()
		e.syncMetronomeLocked()
	})
}

// SetLoopRegion sets both loop markers and switches to the explicit loop.
// Out-of-range requests are clamped.
func (e *Engine) SetLoopRegion(start, end float64) {
	e.editLoop(func(r *loop.Region) error { return r.Set(start, end, e.duration) })
}

// SetLoopStart moves the start marker and switches to the explicit loop.
func (e *Engine) SetLoopStart(v float64) {
	e.editLoop(func(r *loop.Region) error {
		r.UseFullTrack = false
		return r.SetStart(v, e.duration)
	})
}

// SetLoopEnd moves the end marker and switches to the explicit loop.
func (e *Engine) SetLoopEnd(v float64) {
	e.editLoop(func(r *loop.Region) error {
		r.UseFullTrack = false
		return r.SetEnd(v, e.duration)
	})
}

// SetUseFullTrack toggles between the whole track and the explicit loop.
func (e *Engine) SetUseFullTrack(full bool) {
	e.editLoop(func(r *loop.Region) error {
		r.UseFullTrack = full
		return nil
	})
}

func (e *Engine) editLoop(f func(r *loop.Region) error) {
	e.do(func() {
		if e.track == nil {
			return
		}
		if err := f(&e.region); err != nil {
			e.log.WithError(err).Debug("loop markers clamped")
		}
		start, end := e.effectiveLocked()
		if pos := e.audio.CurrentTime(); pos < start || pos >= end {
			e.rewindLocked()
		}
		e.notifyLocked()
	})
}

// SetPhaseConfig changes one phase. Values are clamped; phase D always plays
// at 100%. Changes to the running phase apply immediately.
func (e *Engine) SetPhaseConfig(key PhaseKey, repetitions, speedPercent int) {
	e.do(func() {
		if key < PhaseA || key > PhaseD {
			return
		}
		e.phases[key] = PhaseConfig{Key: key, Repetitions: repetitions, SpeedPercent: speedPercent}.normalize()
		e.clampRepetitionLocked()
		switch s := e.state.(type) {
		case Active:
			if s.Phase == key {
				e.audio.SetPlaybackRate(e.phases[key].Rate())
				e.syncMetronomeLocked()
			}
		case Focused:
			if s.Phase == key {
				e.audio.SetPlaybackRate(e.phases[key].Rate())
				e.syncMetronomeLocked()
			}
		}
		e.notifyLocked()
	})
}

// clampRepetitionLocked keeps the repetition below a lowered target.
func (e *Engine) clampRepetitionLocked() {
	fix := func(phase PhaseKey, r int) int {
		if last := e.phases[phase].Repetitions - 1; r > last {
			return last
		}
		return r
	}
	switch s := e.state.(type) {
	case Active:
		s.Repetition = fix(s.Phase, s.Repetition)
		e.state = s
	case Focused:
		s.Repetition = fix(s.Phase, s.Repetition)
		e.state = s
	case Paused:
		if a, ok := s.Prior.(Active); ok {
			a.Repetition = fix(a.Phase, a.Repetition)
			e.state = Paused{Prior: a}
		}
	}
}

// ResetDefaults restores the default phase plan. Only available while Idle.
func (e *Engine) ResetDefaults() {
	e.do(func() {
		if _, ok := e.state.(Idle); !ok {
			return
		}
		e.phases = DefaultPhases()
		e.notifyLocked()
	})
}

// AdjustBPM nudges the metronome tempo by delta BPM.
func (e *Engine) AdjustBPM(delta float64) {
	e.tempoEdit(func(t *tempo.Estimator) { t.Nudge(delta) })
}

// TapTempo records a tap. While a repetition plays, taps are scaled by the
// phase speed so the result is the track's own tempo.
func (e *Engine) TapTempo() {
	e.do(func() {
		ratio := 1.0
		switch s := e.state.(type) {
		case Active:
			ratio = e.phases[s.Phase].Rate()
		case Focused:
			ratio = e.phases[s.Phase].Rate()
		}
		if _, ok := e.tempo.Tap(e.clock.Now(), ratio); !ok {
			return
		}
		e.syncMetronomeLocked()
		e.notifyLocked()
	})
}

// AdjustManualOffset shifts the click grid by deltaMs.
func (e *Engine) AdjustManualOffset(deltaMs float64) {
	e.tempoEdit(func(t *tempo.Estimator) { t.AdjustOffset(deltaMs) })
}

// ResetTempo restores the detected tempo and clears the manual offset.
func (e *Engine) ResetTempo() {
	e.tempoEdit(func(t *tempo.Estimator) { t.Reset() })
}

func (e *Engine) tempoEdit(f func(t *tempo.Estimator)) {
	e.do(func() {
		f(e.tempo)
		e.syncMetronomeLocked()
		e.notifyLocked()
	})
}

// SetVolume sets the track volume, 0 to 1.
func (e *Engine) SetVolume(v float64) {
	e.do(func() {
		e.volume = clampUnit(v)
		e.audio.SetVolume(e.volume)
	})
}

// SetClickVolume sets the metronome volume, 0 to 1. Zero silences clicks
// without stopping the metronome.
func (e *Engine) SetClickVolume(v float64) {
	e.do(func() {
		e.clickVolume = clampUnit(v)
		e.syncMetronomeLocked()
	})
}

// SetMetronomeEnabled turns the click on or off.
func (e *Engine) SetMetronomeEnabled(on bool) {
	e.do(func() {
		e.metronomeEnabled = on
		e.syncMetronomeLocked()
	})
}

// ToggleMetronome flips the click on or off.
func (e *Engine) ToggleMetronome() {
	e.do(func() {
		e.metronomeEnabled = !e.metronomeEnabled
		e.syncMetronomeLocked()
	})
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// DismissMessage clears the user-visible message.
func (e *Engine) DismissMessage() {
	e.do(func() { e.message = "" })
}

// LoadTrack decodes raw, detects its tempo and makes it the current track.
// A decode failure leaves the previous track and state untouched.
func (e *Engine) LoadTrack(id, name string, raw []byte) error {
	b, err := e.audio.Decode(raw)
	if err != nil {
		e.log.WithError(err).WithField("track", name).Error("load failed")
		e.do(func() { e.message = faults.Describe(err) })
		return err
	}
	e.LoadBuffer(id, name, b)
	return nil
}

// LoadBuffer makes b the current track. Tempo analysis failure falls back to
// the default tempo and is reported as a message.
func (e *Engine) LoadBuffer(id, name string, b *audio.Buffer) {
	profile, err := tempo.Analyze(b)
	e.do(func() {
		e.resetLocked()
		e.trackGen++
		e.track = &track{id: id, name: name, original: b, gen: e.trackGen}
		e.audio.Load(b)
		e.duration = b.Duration()
		e.region = loop.FullTrack(e.duration)
		e.monitor.Reset()
		e.audio.SetCurrentTime(0)
		e.tempo.SetProfile(profile)
		e.semitones = 0
		e.message = ""
		if err != nil {
			e.message = faults.Describe(err)
		}
		e.log.WithField("track", name).WithField("duration", e.duration).Info("track loaded")
		e.notifyLocked()
	})
}

// Settings is the saved per-track state restored after loading.
type Settings struct {
	LoopStart      float64
	LoopEnd        float64
	UseFullTrack   bool
	BPM            float64
	ManualOffsetMs float64
	Phases         Phases
	Semitones      float64
}

// Restore applies saved settings to the loaded track. A non-zero pitch shift
// is started in the background.
func (e *Engine) Restore(s Settings) {
	var shift bool
	e.do(func() {
		if e.track == nil {
			return
		}
		if s.UseFullTrack {
			e.region = loop.Region{Start: s.LoopStart, End: s.LoopEnd, UseFullTrack: true}
			if !e.region.Valid(e.duration) {
				e.region = loop.FullTrack(e.duration)
			}
		} else if err := e.region.Set(s.LoopStart, s.LoopEnd, e.duration); err != nil {
			e.log.WithError(err).Debug("saved loop clamped")
		}
		p := e.tempo.Profile()
		if s.BPM > 0 {
			p.Current = math.Max(tempo.MinBPM, math.Min(tempo.MaxBPM, s.BPM))
		}
		p.ManualOffsetMs = s.ManualOffsetMs
		e.tempo.SetProfile(p)
		if s.Phases != (Phases{}) {
			e.phases = s.Phases.Normalize()
		}
		e.rewindLocked()
		shift = pitch.ClampSemitones(s.Semitones) != 0
	})
	if shift {
		e.RequestPitchShift(s.Semitones)
	}
}

// RequestPitchShift re-renders the original track shifted by semitones and
// swaps it in when done. Loop markers and the playback position are kept.
// Ignored while another shift runs.
func (e *Engine) RequestPitchShift(semitones float64) {
	e.do(func() {
		if e.track == nil || e.pitch.Busy() {
			return
		}
		semitones = pitch.ClampSemitones(semitones)
		snap := pitchSnapshot{
			gen:      e.track.gen,
			region:   e.region,
			duration: e.duration,
			position: e.audio.CurrentTime(),
		}
		if semitones == 0 {
			e.applyAssetLocked(e.track.original, snap)
			e.semitones = 0
			e.notifyLocked()
			return
		}
		e.pitch.Start(e.track.original, semitones, func(res pitch.Result) {
			e.do(func() { e.pitchDoneLocked(snap, res) })
		})
		e.log.WithField("semitones", semitones).Info("pitch shift started")
	})
}

type pitchSnapshot struct {
	gen      uint64
	region   loop.Region
	duration float64
	position float64
}

func (e *Engine) pitchDoneLocked(snap pitchSnapshot, res pitch.Result) {
	if e.track == nil || e.track.gen != snap.gen {
		return
	}
	// The processor still reports busy here, so events bypass notifyLocked.
	if res.Err != nil {
		e.message = faults.Describe(res.Err)
		if e.saveDeferred {
			e.pending = append(e.pending, e.stateChangedLocked())
		}
		e.saveDeferred = false
		return
	}
	e.applyAssetLocked(res.Buffer, snap)
	e.semitones = res.Semitones
	e.message = ""
	e.pending = append(e.pending, e.stateChangedLocked())
	e.saveDeferred = false
}

// applyAssetLocked swaps the playback asset and restores the markers and
// position captured before the swap. A running repetition keeps playing even
// if the old asset ran out while the job was busy.
func (e *Engine) applyAssetLocked(b *audio.Buffer, snap pitchSnapshot) {
	e.audio.Load(b)
	e.region = snap.region
	e.duration = snap.duration
	e.audio.SetCurrentTime(snap.position)
	e.monitor.Reset()
	switch e.state.(type) {
	case Active, Focused:
		e.audio.Play()
	}
}
