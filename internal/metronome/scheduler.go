// Package metronome schedules beat-locked clicks ahead of the audio clock and
// exports practice plans as MIDI click tracks.
package metronome

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/logging"
)

const (
	// DefaultInterval is how often the timing goroutine wakes the scheduler.
	DefaultInterval = 25 * time.Millisecond
	// DefaultLookahead is how far past the audio clock clicks are queued.
	DefaultLookahead = 100 * time.Millisecond

	readyTimeout = time.Second
)

// Transport is the audio engine the scheduler reads time from and queues
// clicks on. Times passed to ScheduleClick are on the AudioTime clock.
type Transport interface {
	AudioTime() float64
	CurrentTime() float64
	ScheduleClick(at, gain float64)
}

// Params describes the beat grid and click level.
type Params struct {
	BPM             float64 // beats per minute of the original recording
	Rate            float64 // playback speed ratio
	FirstBeatOffset float64 // track seconds of the first beat
	ManualOffsetMs  float64
	Volume          float64
}

// SecondsPerBeat returns the beat length on the audio clock.
func (p Params) SecondsPerBeat() float64 {
	return 60 / (p.BPM * p.Rate)
}

func (p Params) valid() bool {
	return p.BPM > 0 && p.Rate > 0 && !math.IsInf(p.SecondsPerBeat(), 0) && !math.IsNaN(p.SecondsPerBeat())
}

// NextClick returns the first beat at or after now, aligned to the grid
// through the track position. Playback at position sounds at now; the track
// advances Rate seconds per audio second. The manual offset shifts the grid on
// the audio clock. The result always lies in [now, now+SecondsPerBeat).
func NextClick(now, position float64, p Params) float64 {
	trackBeat := 60 / p.BPM
	phase := math.Mod(position-p.FirstBeatOffset, trackBeat)
	if phase < 0 {
		phase += trackBeat
	}
	s := p.SecondsPerBeat()
	d := (trackBeat-phase)/p.Rate + p.ManualOffsetMs/1000
	d = math.Mod(d, s)
	if d < 0 {
		d += s
	}
	// Within rounding of a full beat counts as on the beat.
	if d >= s-1e-9 {
		d = 0
	}
	return now + d
}

type message any

// tickMsg asks for the lookahead window to be filled. The ticker sends it
// without an ack; a non-nil ack is closed once the window is filled.
type tickMsg struct {
	ack chan struct{}
}

type startMsg struct {
	params Params
	ack    chan struct{}
}

type updateMsg struct {
	params Params
	ack    chan struct{}
}

type stopMsg struct {
	ack chan struct{}
}

// Scheduler queues clicks on a Transport. Scheduling state is owned by the
// goroutine running Run; other goroutines talk to it through messages. A
// separate ticker goroutine posts wake-ups.
type Scheduler struct {
	transport Transport
	interval  time.Duration
	lookahead float64

	msgs    chan message
	ready   chan struct{}
	done    chan struct{}
	active  atomic.Bool
	pulses  atomic.Uint64
	onPulse func(at float64)

	closeOnce sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the wake-up cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLookahead sets the scheduling window.
func WithLookahead(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.lookahead = d.Seconds()
		}
	}
}

// WithPulse registers a callback invoked on the scheduling goroutine for
// every queued click, with the click's audio time. It must not block.
func WithPulse(f func(at float64)) Option {
	return func(s *Scheduler) {
		s.onPulse = f
	}
}

// New creates a scheduler. A nil transport yields a scheduler that refuses
// to start.
func New(t Transport, opts ...Option) *Scheduler {
	s := &Scheduler{
		transport: t,
		interval:  DefaultInterval,
		lookahead: DefaultLookahead.Seconds(),
		msgs:      make(chan message, 1),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether the scheduler can produce clicks.
func (s *Scheduler) Available() bool {
	return s.transport != nil
}

// Active reports whether clicks are being scheduled.
func (s *Scheduler) Active() bool {
	return s.active.Load()
}

// Pulses returns how many clicks have been queued since construction.
func (s *Scheduler) Pulses() uint64 {
	return s.pulses.Load()
}

// Run owns the scheduling state until ctx is done. It starts the ticker
// goroutine and must be called once.
func (s *Scheduler) Run(ctx context.Context) {
	if s.transport == nil {
		<-ctx.Done()
		return
	}
	close(s.ready)
	defer s.closeOnce.Do(func() { close(s.done) })

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.tick(ctx)

	log := logging.For("metronome")
	var (
		params Params
		next   float64
		active bool
	)
	reanchor := func() {
		next = NextClick(s.transport.AudioTime(), s.transport.CurrentTime(), params)
	}
	schedule := func() {
		if !active {
			return
		}
		now := s.transport.AudioTime()
		for next < now+s.lookahead {
			if params.Volume > 0 {
				s.transport.ScheduleClick(next, params.Volume)
				s.pulses.Add(1)
				if s.onPulse != nil {
					s.onPulse(next)
				}
			}
			next += params.SecondsPerBeat()
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.active.Store(false)
			return
		case m := <-s.msgs:
			switch m := m.(type) {
			case tickMsg:
				schedule()
				if m.ack != nil {
					close(m.ack)
				}
			case startMsg:
				params = m.params
				active = true
				s.active.Store(true)
				reanchor()
				log.WithFields(logging.Fields{
					"bpm":  params.BPM,
					"rate": params.Rate,
					"next": next,
				}).Debug("metronome started")
				schedule()
				close(m.ack)
			case updateMsg:
				params = m.params
				if active {
					reanchor()
					schedule()
				}
				close(m.ack)
			case stopMsg:
				active = false
				s.active.Store(false)
				close(m.ack)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drop the tick if the scheduler is still busy with the last one.
			select {
			case s.msgs <- tickMsg{}:
			default:
			}
		}
	}
}

// send delivers a control message and waits for it to be applied. It
// returns false if the scheduler is not running.
func (s *Scheduler) send(m message, ack chan struct{}) bool {
	if s.transport == nil {
		return false
	}
	select {
	case <-s.ready:
	case <-s.done:
		return false
	case <-time.After(readyTimeout):
		return false
	}
	select {
	case s.msgs <- m:
	case <-s.done:
		return false
	}
	select {
	case <-ack:
		return true
	case <-s.done:
		return false
	}
}

// Start begins scheduling with p, anchored to the current playback position.
// It returns a SchedulerUnavailable error when there is no audio engine.
func (s *Scheduler) Start(p Params) error {
	if s.transport == nil {
		return faults.New(faults.SchedulerUnavailable, "no audio engine", "Metronome is unavailable")
	}
	if !p.valid() {
		return nil
	}
	ack := make(chan struct{})
	if !s.send(startMsg{params: p, ack: ack}, ack) {
		return faults.New(faults.SchedulerUnavailable, "scheduler not running", "Metronome is unavailable")
	}
	return nil
}

// Update changes the parameters live. While active the grid is re-anchored
// so the next click stays within one beat of now.
func (s *Scheduler) Update(p Params) {
	if !p.valid() {
		return
	}
	ack := make(chan struct{})
	s.send(updateMsg{params: p, ack: ack}, ack)
}

// Stop halts scheduling. Clicks already queued on the transport still sound;
// wake-ups after Stop do nothing.
func (s *Scheduler) Stop() {
	ack := make(chan struct{})
	s.send(stopMsg{ack: ack}, ack)
}
