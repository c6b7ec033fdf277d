// Package practice runs the ABCD training cycle: four phases of repetitions
// at increasing speed with timed countdown breaks between them, driving
// playback, the metronome and pitch shifting of the loaded track.
package practice

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/icco/abcd/internal/audio"
	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/logging"
	"github.com/icco/abcd/internal/loop"
	"github.com/icco/abcd/internal/metronome"
	"github.com/icco/abcd/internal/pitch"
	"github.com/icco/abcd/internal/tempo"
)

// Break countdown timeline. Cue i sounds count cueCounts[i] at cueOffsets[i].
var (
	cueOffsets = []time.Duration{
		0,
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		2500 * time.Millisecond,
		3000 * time.Millisecond,
		3500 * time.Millisecond,
	}
	cueCounts = []int{1, 2, 1, 2, 3, 4}
)

// BreakDuration is the length of a countdown break.
const BreakDuration = 4000 * time.Millisecond

// DefaultPositionInterval is how often Run samples the playback position.
const DefaultPositionInterval = 50 * time.Millisecond

// AudioSource is the playback engine.
type AudioSource interface {
	CurrentTime() float64
	SetCurrentTime(sec float64)
	Duration() float64
	SetPlaybackRate(r float64)
	Play()
	Pause()
	SetVolume(v float64)
	Decode(raw []byte) (*audio.Buffer, error)
	Load(b *audio.Buffer)
}

// CuePlayer sounds the countdown tones.
type CuePlayer interface {
	PlayCue(count int)
}

// Metronome is the click scheduler.
type Metronome interface {
	Available() bool
	Start(p metronome.Params) error
	Update(p metronome.Params)
	Stop()
	Active() bool
	Pulses() uint64
}

// Options configures an Engine. Zero values get defaults.
type Options struct {
	Clock            Clock
	Metronome        Metronome
	Cues             CuePlayer
	Phases           Phases
	Volume           float64
	ClickVolume      float64
	MetronomeEnabled bool
	PositionInterval time.Duration
}

type track struct {
	id       string
	name     string
	original *audio.Buffer
	gen      uint64
}

// Engine owns the session state. All methods are safe for concurrent use;
// subscribers are notified after the internal lock is released.
type Engine struct {
	mu    sync.Mutex
	audio AudioSource
	metro Metronome
	cues  CuePlayer
	clock Clock
	pitch *pitch.Processor
	log   *logrus.Entry

	state  State
	phase  PhaseKey
	gen    uint64
	timers []Timer

	track        *track
	trackGen     uint64
	duration     float64
	region       loop.Region
	monitor      loop.Monitor
	phases       Phases
	tempo        *tempo.Estimator
	semitones    float64
	previewing   bool
	cycleStarted time.Time

	metronomeEnabled     bool
	metronomeUnavailable bool
	volume               float64
	clickVolume          float64
	message              string
	saveDeferred         bool

	interval time.Duration
	pending  []Event
	subs     []func(Event)
}

// New creates an idle engine around the given playback source.
func New(src AudioSource, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Phases == (Phases{}) {
		opts.Phases = DefaultPhases()
	}
	if opts.PositionInterval <= 0 {
		opts.PositionInterval = DefaultPositionInterval
	}
	e := &Engine{
		audio:            src,
		metro:            opts.Metronome,
		cues:             opts.Cues,
		clock:            opts.Clock,
		pitch:            pitch.NewProcessor(src.Decode),
		log:              logging.For("practice"),
		state:            Idle{},
		phases:           opts.Phases.Normalize(),
		tempo:            tempo.NewEstimator(tempo.Profile{Original: tempo.FallbackBPM, Current: tempo.FallbackBPM}),
		metronomeEnabled: opts.MetronomeEnabled,
		volume:           opts.Volume,
		clickVolume:      opts.ClickVolume,
		interval:         opts.PositionInterval,
	}
	if e.metro == nil || !e.metro.Available() {
		e.metronomeUnavailable = true
	}
	src.SetVolume(e.volume)
	return e
}

// Subscribe registers f for engine events.
func (e *Engine) Subscribe(f func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, f)
}

// do runs f under the lock and then delivers any events it queued.
func (e *Engine) do(f func()) {
	e.mu.Lock()
	f()
	evs := e.pending
	e.pending = nil
	subs := e.subs
	e.mu.Unlock()

	for _, ev := range evs {
		for _, s := range subs {
			s(ev)
		}
	}
}

// Run samples the playback position until ctx is done, feeding loop
// boundaries into the state machine.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Poll()
		}
	}
}

// Close stops timers, the metronome and playback, and waits for a running
// pitch-shift job to finish.
func (e *Engine) Close() {
	e.do(func() {
		e.resetLocked()
	})
	e.pitch.Wait()
}

// Poll samples the playback position once.
func (e *Engine) Poll() {
	e.do(func() {
		if e.track == nil || e.pitch.Busy() {
			return
		}
		if !e.playingLocked() {
			return
		}
		_, end := e.effectiveLocked()
		if e.monitor.Observe(e.audio.CurrentTime(), end) {
			e.boundaryLocked()
		}
	})
}

// playingLocked reports whether the position is expected to advance.
func (e *Engine) playingLocked() bool {
	switch e.state.(type) {
	case Active, Focused:
		return true
	case Idle:
		return e.previewing
	}
	return false
}

func (e *Engine) effectiveLocked() (float64, float64) {
	return e.region.Effective(e.duration)
}

func (e *Engine) rewindLocked() {
	start, _ := e.effectiveLocked()
	e.audio.SetCurrentTime(start)
	e.monitor.Reset()
}

// cancelTimersLocked stops every pending countdown callback and invalidates
// any that already fired but have not yet taken the lock.
func (e *Engine) cancelTimersLocked() {
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = e.timers[:0]
	e.gen++
}

func (e *Engine) enterBreakLocked(target PhaseKey) {
	e.cancelTimersLocked()
	e.audio.Pause()
	e.rewindLocked()
	e.phase = target
	e.state = BreakCountdown{Target: target, Beat: 1}
	e.syncMetronomeLocked()
	e.playCueLocked(cueCounts[0])

	gen := e.gen
	for i := 1; i < len(cueOffsets); i++ {
		i := i
		e.timers = append(e.timers, e.clock.AfterFunc(cueOffsets[i], func() { e.cueFired(gen, i) }))
	}
	e.timers = append(e.timers, e.clock.AfterFunc(BreakDuration, func() { e.breakDone(gen) }))
	e.log.WithField("target", target.String()).Debug("break started")
}

func (e *Engine) cueFired(gen uint64, i int) {
	e.do(func() {
		if gen != e.gen {
			return
		}
		b, ok := e.state.(BreakCountdown)
		if !ok {
			return
		}
		b.Beat = i + 1
		e.state = b
		e.playCueLocked(cueCounts[i])
	})
}

func (e *Engine) breakDone(gen uint64) {
	e.do(func() {
		if gen != e.gen {
			return
		}
		b, ok := e.state.(BreakCountdown)
		if !ok {
			return
		}
		e.timers = e.timers[:0]
		e.enterActiveLocked(Active{Phase: b.Target})
	})
}

func (e *Engine) playCueLocked(count int) {
	if e.cues != nil {
		e.cues.PlayCue(count)
	}
}

// enterActiveLocked starts or resumes playback for a. The position is left
// where it is.
func (e *Engine) enterActiveLocked(a Active) {
	e.state = a
	e.phase = a.Phase
	e.audio.SetPlaybackRate(e.phases[a.Phase].Rate())
	e.audio.Play()
	e.monitor.Reset()
	e.syncMetronomeLocked()
	e.log.WithFields(logging.Fields{
		"phase":      a.Phase.String(),
		"repetition": a.Repetition,
	}).Debug("repetition started")
}

// boundaryLocked handles playback reaching the end of the effective loop.
func (e *Engine) boundaryLocked() {
	switch s := e.state.(type) {
	case Active:
		if s.Repetition+1 < e.phases[s.Phase].Repetitions {
			e.state = Active{Phase: s.Phase, Repetition: s.Repetition + 1}
			e.replayLocked()
			return
		}
		if next, ok := s.Phase.Next(); ok {
			e.enterBreakLocked(next)
			return
		}
		e.finishCycleLocked()
	case Focused:
		e.replayLocked()
	case Idle:
		if e.previewing {
			e.previewing = false
			e.audio.Pause()
			e.rewindLocked()
			e.syncMetronomeLocked()
		}
	}
}

// replayLocked starts the loop over. The source may have stopped itself at
// the end of the track, so playback is resumed explicitly.
func (e *Engine) replayLocked() {
	e.rewindLocked()
	e.audio.Play()
	e.syncMetronomeLocked()
}

func (e *Engine) finishCycleLocked() {
	e.resetLocked()
	if e.track != nil {
		e.pending = append(e.pending, CycleCompleted{
			TrackID:  e.track.id,
			Started:  e.cycleStarted,
			Finished: e.clock.Now(),
			Phases:   e.phases,
			BPM:      e.tempo.Profile().Current,
		})
	}
	e.log.Info("practice cycle completed")
}

// resetLocked returns to Idle on phase A with everything stopped.
func (e *Engine) resetLocked() {
	e.cancelTimersLocked()
	e.previewing = false
	e.audio.Pause()
	e.state = Idle{}
	e.phase = PhaseA
	if e.track != nil {
		e.rewindLocked()
	}
	e.syncMetronomeLocked()
}

// metronomeParamsLocked returns the click grid for the current playback rate.
func (e *Engine) metronomeParamsLocked() metronome.Params {
	p := e.tempo.Profile()
	rate := 1.0
	if !e.previewing {
		rate = e.phases[e.phase].Rate()
	}
	return metronome.Params{
		BPM:             p.Current,
		Rate:            rate,
		FirstBeatOffset: p.FirstBeatOffset,
		ManualOffsetMs:  p.ManualOffsetMs,
		Volume:          e.clickVolume,
	}
}

// syncMetronomeLocked starts, re-anchors or stops the metronome to match the
// current state. A start failure disables the metronome for the session.
func (e *Engine) syncMetronomeLocked() {
	if e.metronomeUnavailable {
		return
	}
	want := e.metronomeEnabled && e.playingLocked()
	switch {
	case want && e.metro.Active():
		e.metro.Update(e.metronomeParamsLocked())
	case want:
		if err := e.metro.Start(e.metronomeParamsLocked()); err != nil {
			e.metronomeUnavailable = true
			e.message = faults.Describe(err)
			e.log.WithError(err).Warn("metronome disabled")
		}
	case e.metro.Active():
		e.metro.Stop()
	}
}

// notifyLocked queues a StateChanged event, or defers it while a pitch-shift
// job is running.
func (e *Engine) notifyLocked() {
	if e.track == nil {
		return
	}
	if e.pitch.Busy() {
		e.saveDeferred = true
		return
	}
	e.pending = append(e.pending, e.stateChangedLocked())
}

func (e *Engine) stateChangedLocked() StateChanged {
	return StateChanged{
		TrackID:      e.track.id,
		TrackName:    e.track.name,
		LoopStart:    e.region.Start,
		LoopEnd:      e.region.End,
		UseFullTrack: e.region.UseFullTrack,
		Duration:     e.duration,
		Tempo:        e.tempo.Profile(),
		Phases:       e.phases,
		Semitones:    e.semitones,
	}
}
