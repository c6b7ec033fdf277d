package practice

import (
	"sort"
	"sync"
	"time"

	"github.com/icco/abcd/internal/audio"
	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/metronome"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fakeAudio stops itself at the end of the track and reports it through
// onEnded, like the mixer.
type fakeAudio struct {
	mu      sync.Mutex
	track   *audio.Buffer
	pos     float64
	rate    float64
	playing bool
	volume  float64
	loads   int
	onEnded func()
}

func newFakeAudio() *fakeAudio {
	return &fakeAudio{rate: 1}
}

func (a *fakeAudio) CurrentTime() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

func (a *fakeAudio) SetCurrentTime(sec float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pos = sec
}

func (a *fakeAudio) Duration() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.track.Duration()
}

func (a *fakeAudio) SetPlaybackRate(r float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rate = r
}

func (a *fakeAudio) Play() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = true
}

func (a *fakeAudio) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = false
}

func (a *fakeAudio) SetVolume(v float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.volume = v
}

func (a *fakeAudio) Decode(raw []byte) (*audio.Buffer, error) {
	return audio.Decode(raw)
}

func (a *fakeAudio) Load(b *audio.Buffer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.track = b
	a.loads++
}

// play advances the position by sec of wall time at the current rate.
func (a *fakeAudio) play(sec float64) {
	a.mu.Lock()
	if !a.playing || a.track == nil {
		a.mu.Unlock()
		return
	}
	a.pos += sec * a.rate
	var ended func()
	if d := a.track.Duration(); a.pos >= d {
		a.pos = d
		a.playing = false
		ended = a.onEnded
	}
	a.mu.Unlock()
	if ended != nil {
		ended()
	}
}

func (a *fakeAudio) state() (pos, rate float64, playing bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos, a.rate, a.playing
}

func (a *fakeAudio) current() *audio.Buffer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.track
}

type fakeMetronome struct {
	mu        sync.Mutex
	available bool
	failStart bool
	active    bool
	starts    int
	updates   int
	last      metronome.Params
}

func (m *fakeMetronome) Available() bool { return m.available }

func (m *fakeMetronome) Start(p metronome.Params) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStart {
		return faults.New(faults.SchedulerUnavailable, "no audio engine", "Metronome unavailable")
	}
	m.active = true
	m.starts++
	m.last = p
	return nil
}

func (m *fakeMetronome) Update(p metronome.Params) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	m.last = p
}

func (m *fakeMetronome) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
}

func (m *fakeMetronome) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *fakeMetronome) Pulses() uint64 { return 0 }

type cue struct {
	at    time.Duration
	count int
}

type fakeCues struct {
	clock *fakeClock
	start time.Time
	cues  []cue
}

func (c *fakeCues) PlayCue(count int) {
	c.cues = append(c.cues, cue{at: c.clock.Now().Sub(c.start), count: count})
}

type harness struct {
	engine *Engine
	clock  *fakeClock
	audio  *fakeAudio
	metro  *fakeMetronome
	cues   *fakeCues
	events []Event
	mu     sync.Mutex
}

func newHarness(phases Phases) *harness {
	h := &harness{
		clock: newFakeClock(),
		audio: newFakeAudio(),
		metro: &fakeMetronome{available: true},
	}
	h.cues = &fakeCues{clock: h.clock, start: h.clock.Now()}
	h.engine = New(h.audio, Options{
		Clock:            h.clock,
		Metronome:        h.metro,
		Cues:             h.cues,
		Phases:           phases,
		Volume:           1,
		ClickVolume:      1,
		MetronomeEnabled: true,
	})
	h.audio.onEnded = h.engine.LoopBoundaryReached
	h.engine.Subscribe(func(ev Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev)
	})
	return h
}

// silence returns a buffer of the given length at 1 kHz.
func silence(seconds float64, channels int) *audio.Buffer {
	return audio.NewBuffer(1000, channels, int(seconds*1000))
}

func (h *harness) load(seconds float64) {
	h.engine.LoadBuffer("track", "test.wav", silence(seconds, 2))
}

// finishBreak runs the countdown to completion.
func (h *harness) finishBreak() {
	h.clock.Advance(BreakDuration)
}

func (h *harness) eventsOf(kind string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ev := range h.events {
		switch ev.(type) {
		case StateChanged:
			if kind == "state" {
				n++
			}
		case CycleCompleted:
			if kind == "cycle" {
				n++
			}
		}
	}
	return n
}

func (h *harness) lastState() (StateChanged, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.events) - 1; i >= 0; i-- {
		if sc, ok := h.events[i].(StateChanged); ok {
			return sc, true
		}
	}
	return StateChanged{}, false
}
