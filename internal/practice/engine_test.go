package practice

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/icco/abcd/internal/audio"
	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/pitch"
)

func checkRepetition(t *testing.T, s Snapshot) {
	t.Helper()
	if s.Mode == ModeActive && (s.Repetition < 0 || s.Repetition >= s.Phases[s.Phase].Repetitions) {
		t.Fatalf("repetition %d out of range for phase %s (%d)", s.Repetition, s.Phase, s.Phases[s.Phase].Repetitions)
	}
}

func TestFullCycle(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)

	h.engine.Start()
	if s := h.engine.Snapshot(); s.Mode != ModeBreak || s.Phase != PhaseA {
		t.Fatalf("after Start: mode %s phase %s", s.Mode, s.Phase)
	}
	breaks := 1
	h.finishBreak()

	_, rate, playing := h.audio.state()
	if !playing || rate != 0.7 {
		t.Fatalf("phase A playback: playing %v rate %v", playing, rate)
	}
	if h.metro.last.Rate != 0.7 || h.metro.last.BPM != 120 {
		t.Errorf("metronome params %+v", h.metro.last)
	}

	for i := 0; i < 12; i++ {
		h.audio.SetCurrentTime(9.95)
		h.engine.LoopBoundaryReached()
		s := h.engine.Snapshot()
		checkRepetition(t, s)
		if s.Mode == ModeBreak {
			breaks++
			h.finishBreak()
		}
	}

	s := h.engine.Snapshot()
	if s.Mode != ModeIdle || s.Phase != PhaseA {
		t.Fatalf("after cycle: mode %s phase %s", s.Mode, s.Phase)
	}
	if breaks != 4 {
		t.Errorf("breaks = %d, want 4", breaks)
	}
	pos, _, playing := h.audio.state()
	if playing || pos != 0 {
		t.Errorf("after cycle: playing %v pos %v", playing, pos)
	}
	if h.metro.Active() {
		t.Error("metronome still active")
	}
	if n := h.eventsOf("cycle"); n != 1 {
		t.Errorf("CycleCompleted events = %d, want 1", n)
	}
}

func TestRepetitionsAdvanceWithinPhase(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.finishBreak()

	for want := 1; want < 3; want++ {
		h.audio.SetCurrentTime(9.95)
		h.engine.LoopBoundaryReached()
		s := h.engine.Snapshot()
		if s.Mode != ModeActive || s.Repetition != want {
			t.Fatalf("mode %s repetition %d, want active %d", s.Mode, s.Repetition, want)
		}
		if pos := h.audio.CurrentTime(); pos != 0 {
			t.Fatalf("not rewound: %v", pos)
		}
		if s.Completed != want || s.Total != 12 {
			t.Errorf("progress %d/%d", s.Completed, s.Total)
		}
	}
	h.engine.LoopBoundaryReached()
	s := h.engine.Snapshot()
	if s.Mode != ModeBreak || s.Phase != PhaseB {
		t.Fatalf("mode %s phase %s, want break before B", s.Mode, s.Phase)
	}
	if _, _, playing := h.audio.state(); playing {
		t.Error("playback not paused during break")
	}
}

func TestBreakTimeline(t *testing.T) {
	want := []cue{
		{0, 1},
		{1000 * time.Millisecond, 2},
		{2000 * time.Millisecond, 1},
		{2500 * time.Millisecond, 2},
		{3000 * time.Millisecond, 3},
		{3500 * time.Millisecond, 4},
	}
	tests := []struct {
		name  string
		bpm   float64
		speed int
	}{
		{"default", 0, 70},
		{"fast and slow", 60, 50},
		{"slow and fast", -60, 150},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			phases := DefaultPhases()
			phases[PhaseA].SpeedPercent = tt.speed
			h := newHarness(phases)
			h.load(10)
			h.engine.AdjustBPM(tt.bpm)
			h.engine.Start()

			for elapsed := time.Duration(0); elapsed < BreakDuration; elapsed += 100 * time.Millisecond {
				if s := h.engine.Snapshot(); s.Mode != ModeBreak {
					t.Fatalf("at %v: mode %s, want break", elapsed, s.Mode)
				}
				h.clock.Advance(100 * time.Millisecond)
			}
			if s := h.engine.Snapshot(); s.Mode != ModeActive || s.Phase != PhaseA || s.Repetition != 0 {
				t.Fatalf("after 4s: %+v", s)
			}
			if len(h.cues.cues) != len(want) {
				t.Fatalf("cues = %v, want %v", h.cues.cues, want)
			}
			for i, c := range h.cues.cues {
				if c != want[i] {
					t.Errorf("cue %d = %+v, want %+v", i, c, want[i])
				}
			}
		})
	}
}

func TestCountdownBeat(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	steps := []struct {
		advance time.Duration
		beat    int
	}{
		{0, 1},
		{1000 * time.Millisecond, 2},
		{1000 * time.Millisecond, 3},
		{500 * time.Millisecond, 4},
		{500 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
	}
	for _, st := range steps {
		h.clock.Advance(st.advance)
		if s := h.engine.Snapshot(); s.CountdownBeat != st.beat {
			t.Errorf("beat = %d, want %d", s.CountdownBeat, st.beat)
		}
	}
}

func TestResetIsIdempotent(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.finishBreak()
	h.audio.SetCurrentTime(4)
	h.engine.LoopBoundaryReached()

	h.engine.Reset()
	first := h.engine.Snapshot()
	h.engine.Reset()
	second := h.engine.Snapshot()

	if first != second {
		t.Fatalf("second reset changed state:\n%+v\n%+v", first, second)
	}
	if first.Mode != ModeIdle || first.Phase != PhaseA || first.Repetition != 0 {
		t.Errorf("reset state %+v", first)
	}
	if first.MetronomeActive {
		t.Error("metronome active after reset")
	}
	if h.clock.pending() != 0 {
		t.Errorf("%d timers pending after reset", h.clock.pending())
	}
}

func TestResetCancelsCountdown(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.clock.Advance(1500 * time.Millisecond)
	h.engine.Reset()
	h.clock.Advance(10 * time.Second)

	if s := h.engine.Snapshot(); s.Mode != ModeIdle {
		t.Fatalf("mode %s after reset", s.Mode)
	}
	if len(h.cues.cues) != 2 {
		t.Errorf("cues after reset: %v", h.cues.cues)
	}
}

func TestRejectedCommandsAreNoOps(t *testing.T) {
	h := newHarness(DefaultPhases())

	h.engine.Start()
	if s := h.engine.Snapshot(); s.Mode != ModeIdle {
		t.Fatalf("Start without a track: mode %s", s.Mode)
	}

	h.load(10)
	before := h.engine.Snapshot()
	for name, cmd := range map[string]func(){
		"pause":    h.engine.PauseResume,
		"skip":     h.engine.SkipToNextPhase,
		"restart":  h.engine.RestartCurrentPhase,
		"focus":    h.engine.ToggleFocus,
		"boundary": h.engine.LoopBoundaryReached,
	} {
		cmd()
		if after := h.engine.Snapshot(); after != before {
			t.Errorf("%s changed idle state:\n%+v\n%+v", name, before, after)
		}
	}

	h.engine.Start()
	h.clock.Advance(500 * time.Millisecond)
	before = h.engine.Snapshot()
	for name, cmd := range map[string]func(){
		"start":    h.engine.Start,
		"skip":     h.engine.SkipToNextPhase,
		"restart":  h.engine.RestartCurrentPhase,
		"focus":    h.engine.ToggleFocus,
		"preview":  h.engine.TogglePreview,
		"defaults": h.engine.ResetDefaults,
	} {
		cmd()
		if after := h.engine.Snapshot(); after != before {
			t.Errorf("%s changed break state:\n%+v\n%+v", name, before, after)
		}
	}
}

func TestPauseResumeActive(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.finishBreak()
	h.engine.LoopBoundaryReached()
	h.audio.SetCurrentTime(3)

	h.engine.PauseResume()
	s := h.engine.Snapshot()
	if s.Mode != ModePaused || s.PausedFrom != ModeActive || s.Repetition != 1 {
		t.Fatalf("paused snapshot %+v", s)
	}
	if _, _, playing := h.audio.state(); playing {
		t.Error("still playing while paused")
	}
	if h.metro.Active() {
		t.Error("metronome active while paused")
	}

	h.engine.PauseResume()
	s = h.engine.Snapshot()
	if s.Mode != ModeActive || s.Repetition != 1 || s.Phase != PhaseA {
		t.Fatalf("resumed snapshot %+v", s)
	}
	pos, _, playing := h.audio.state()
	if !playing || pos != 3 {
		t.Errorf("resume: playing %v pos %v, want playing at 3", playing, pos)
	}
	if !h.metro.Active() {
		t.Error("metronome not restarted")
	}
}

func TestPauseResumeBreakRestartsCountdown(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.clock.Advance(2000 * time.Millisecond)

	h.engine.PauseResume()
	if s := h.engine.Snapshot(); s.Mode != ModePaused || s.PausedFrom != ModeBreak {
		t.Fatalf("paused snapshot %+v", s)
	}
	if h.clock.pending() != 0 {
		t.Fatalf("%d timers pending while paused", h.clock.pending())
	}
	h.clock.Advance(10 * time.Second)
	if s := h.engine.Snapshot(); s.Mode != ModePaused {
		t.Fatalf("mode %s, want paused", s.Mode)
	}

	cues := len(h.cues.cues)
	h.engine.PauseResume()
	if s := h.engine.Snapshot(); s.Mode != ModeBreak || s.CountdownBeat != 1 {
		t.Fatalf("resumed snapshot %+v", s)
	}
	if len(h.cues.cues) != cues+1 {
		t.Errorf("countdown did not restart with cue 1")
	}
	h.clock.Advance(3999 * time.Millisecond)
	if s := h.engine.Snapshot(); s.Mode != ModeBreak {
		t.Fatalf("mode %s before full countdown", s.Mode)
	}
	h.clock.Advance(time.Millisecond)
	if s := h.engine.Snapshot(); s.Mode != ModeActive || s.Phase != PhaseA {
		t.Fatalf("after countdown %+v", s)
	}
}

func TestFocusLoopsWithoutCounting(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.finishBreak()
	h.engine.LoopBoundaryReached()

	h.engine.ToggleFocus()
	for i := 0; i < 5; i++ {
		h.audio.SetCurrentTime(9.95)
		h.engine.LoopBoundaryReached()
		s := h.engine.Snapshot()
		if s.Mode != ModeFocused || !s.IsFocused || s.Repetition != 1 {
			t.Fatalf("boundary %d in focus: %+v", i, s)
		}
		if pos := h.audio.CurrentTime(); pos != 0 {
			t.Fatalf("focus boundary did not rewind: %v", pos)
		}
	}

	h.engine.ToggleFocus()
	if s := h.engine.Snapshot(); s.Mode != ModeActive || s.Repetition != 1 {
		t.Fatalf("unfocused %+v", s)
	}

	h.engine.ToggleFocus()
	h.engine.PauseResume()
	if s := h.engine.Snapshot(); s.PausedFrom != ModeActive {
		t.Fatalf("paused from focus stores %s", s.PausedFrom)
	}
	h.engine.PauseResume()
	if s := h.engine.Snapshot(); s.Mode != ModeActive || s.Repetition != 1 {
		t.Fatalf("resumed from focus pause: %+v", s)
	}
}

func TestSkipAndRestart(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.finishBreak()
	h.engine.LoopBoundaryReached()
	h.engine.LoopBoundaryReached()

	h.engine.SkipToNextPhase()
	if s := h.engine.Snapshot(); s.Mode != ModeBreak || s.Phase != PhaseB {
		t.Fatalf("after skip %+v", s)
	}
	h.finishBreak()
	h.engine.LoopBoundaryReached()
	h.engine.PauseResume()

	h.engine.RestartCurrentPhase()
	if s := h.engine.Snapshot(); s.Mode != ModeBreak || s.Phase != PhaseB {
		t.Fatalf("after restart %+v", s)
	}
	h.finishBreak()
	if s := h.engine.Snapshot(); s.Mode != ModeActive || s.Phase != PhaseB || s.Repetition != 0 {
		t.Fatalf("restarted phase %+v", s)
	}
	if _, rate, _ := h.audio.state(); rate != 0.85 {
		t.Errorf("phase B rate %v", rate)
	}
}

func TestSkipUnavailableOnDestination(t *testing.T) {
	phases := DefaultPhases()
	for i := range phases {
		phases[i].Repetitions = 1
	}
	h := newHarness(phases)
	h.load(10)
	h.engine.Start()
	for i := 0; i < 3; i++ {
		h.finishBreak()
		h.engine.LoopBoundaryReached()
	}
	h.finishBreak()
	before := h.engine.Snapshot()
	if before.Mode != ModeActive || before.Phase != PhaseD {
		t.Fatalf("setup: %+v", before)
	}
	h.engine.SkipToNextPhase()
	if after := h.engine.Snapshot(); after != before {
		t.Fatalf("skip on D changed state: %+v", after)
	}
}

func TestPollDetectsBoundaryOnce(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.finishBreak()

	h.audio.SetCurrentTime(5)
	h.engine.Poll()
	if s := h.engine.Snapshot(); s.Repetition != 0 {
		t.Fatalf("boundary fired early")
	}
	h.audio.SetCurrentTime(9.95)
	h.engine.Poll()
	if s := h.engine.Snapshot(); s.Repetition != 1 {
		t.Fatalf("repetition %d after crossing", s.Repetition)
	}
}

func TestPreview(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.SetLoopRegion(2, 5)

	h.engine.TogglePreview()
	s := h.engine.Snapshot()
	if !s.Previewing {
		t.Fatal("preview not started")
	}
	pos, rate, playing := h.audio.state()
	if pos != 2 || rate != 1 || !playing {
		t.Fatalf("preview playback: pos %v rate %v playing %v", pos, rate, playing)
	}
	if !h.metro.Active() || h.metro.last.Rate != 1 {
		t.Errorf("preview metronome active %v params %+v", h.metro.Active(), h.metro.last)
	}

	h.audio.SetCurrentTime(4.95)
	h.engine.Poll()
	if s := h.engine.Snapshot(); s.Previewing {
		t.Fatal("preview still running after loop end")
	}
	pos, _, playing = h.audio.state()
	if pos != 2 || playing {
		t.Errorf("after preview: pos %v playing %v", pos, playing)
	}

	h.engine.TogglePreview()
	h.engine.Start()
	if s := h.engine.Snapshot(); s.Previewing || s.Mode != ModeBreak {
		t.Fatalf("Start did not stop preview: %+v", s)
	}
}

func TestLoopEditsClampAndNotify(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	before := h.eventsOf("state")

	h.engine.SetLoopRegion(8, 3)
	s := h.engine.Snapshot()
	if s.LoopStart != 8 || s.LoopEnd != 9 || s.UseFullTrack {
		t.Fatalf("inverted region -> %v..%v full %v", s.LoopStart, s.LoopEnd, s.UseFullTrack)
	}
	h.engine.SetLoopEnd(20)
	if s := h.engine.Snapshot(); s.LoopEnd != 10 {
		t.Errorf("end clamp %v", s.LoopEnd)
	}
	h.engine.SetLoopStart(9.5)
	if s := h.engine.Snapshot(); s.LoopStart != 9 || s.LoopEnd != 10 {
		t.Errorf("start clamp %v..%v", s.LoopStart, s.LoopEnd)
	}
	h.engine.SetUseFullTrack(true)
	if s := h.engine.Snapshot(); !s.UseFullTrack || s.LoopStart != 9 {
		t.Errorf("full track toggle %+v", s)
	}

	if got := h.eventsOf("state") - before; got != 4 {
		t.Errorf("StateChanged events = %d, want 4", got)
	}
	sc, _ := h.lastState()
	if sc.TrackID != "track" || sc.Duration != 10 || !sc.UseFullTrack {
		t.Errorf("last event %+v", sc)
	}
}

func TestSetPhaseConfig(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.finishBreak()
	h.engine.LoopBoundaryReached()
	h.engine.LoopBoundaryReached()

	h.engine.SetPhaseConfig(PhaseA, 1, 200)
	s := h.engine.Snapshot()
	if s.Repetition != 0 || s.Phases[PhaseA].Repetitions != 1 || s.Phases[PhaseA].SpeedPercent != 150 {
		t.Fatalf("phase A after edit %+v rep %d", s.Phases[PhaseA], s.Repetition)
	}
	if _, rate, _ := h.audio.state(); rate != 1.5 {
		t.Errorf("live rate %v", rate)
	}

	h.engine.SetPhaseConfig(PhaseD, 0, 60)
	if s := h.engine.Snapshot(); s.Phases[PhaseD].SpeedPercent != 100 || s.Phases[PhaseD].Repetitions != 1 {
		t.Errorf("phase D %+v", s.Phases[PhaseD])
	}

	h.engine.ResetDefaults()
	if s := h.engine.Snapshot(); s.Phases == DefaultPhases() {
		t.Error("ResetDefaults applied while active")
	}
	h.engine.Reset()
	h.engine.ResetDefaults()
	if s := h.engine.Snapshot(); s.Phases != DefaultPhases() {
		t.Errorf("defaults not restored: %+v", s.Phases)
	}
}

func TestTapTempoUsesPhaseSpeed(t *testing.T) {
	tap := func(h *harness) {
		for i := 0; i < 5; i++ {
			h.engine.TapTempo()
			h.clock.Advance(500 * time.Millisecond)
		}
	}

	h := newHarness(DefaultPhases())
	h.load(10)
	tap(h)
	if bpm := h.engine.Snapshot().Tempo.Current; bpm != 120 {
		t.Errorf("idle tap = %v, want 120", bpm)
	}

	h.engine.Start()
	h.finishBreak()
	h.clock.Advance(5 * time.Second)
	tap(h)
	want := math.Round(120 / 0.7)
	if bpm := h.engine.Snapshot().Tempo.Current; bpm != want {
		t.Errorf("active tap = %v, want %v", bpm, want)
	}
	if h.metro.last.BPM != want {
		t.Errorf("metronome not updated: %+v", h.metro.last)
	}
}

func TestTempoCorrections(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.AdjustBPM(1)
	h.engine.AdjustManualOffset(-15)
	s := h.engine.Snapshot()
	if s.Tempo.Current != 121 || s.Tempo.ManualOffsetMs != -15 {
		t.Fatalf("tempo %+v", s.Tempo)
	}
	h.engine.AdjustBPM(-1000)
	if got := h.engine.Snapshot().Tempo.Current; got != 30 {
		t.Errorf("clamped bpm %v", got)
	}
	h.engine.ResetTempo()
	s = h.engine.Snapshot()
	if s.Tempo.Current != s.Tempo.Original || s.Tempo.ManualOffsetMs != 0 {
		t.Errorf("reset tempo %+v", s.Tempo)
	}
}

func TestMetronomeUnavailable(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.metro.failStart = true
	h.load(10)
	h.engine.Start()
	h.finishBreak()

	s := h.engine.Snapshot()
	if s.Mode != ModeActive {
		t.Fatalf("training stopped: %s", s.Mode)
	}
	if s.MetronomeAvailable || s.Message == "" {
		t.Errorf("available %v message %q", s.MetronomeAvailable, s.Message)
	}
	h.engine.LoopBoundaryReached()
	if s := h.engine.Snapshot(); s.Repetition != 1 {
		t.Errorf("repetition %d", s.Repetition)
	}

	e := New(newFakeAudio(), Options{Clock: newFakeClock()})
	if e.Snapshot().MetronomeAvailable {
		t.Error("engine without metronome reports it available")
	}
}

func TestMetronomeToggleAndVolume(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.Start()
	h.finishBreak()

	h.engine.ToggleMetronome()
	if h.metro.Active() {
		t.Fatal("metronome still active after toggle off")
	}
	h.engine.SetMetronomeEnabled(true)
	if !h.metro.Active() {
		t.Fatal("metronome not restarted")
	}
	h.engine.SetClickVolume(2)
	if h.metro.last.Volume != 1 {
		t.Errorf("click volume %v", h.metro.last.Volume)
	}
	h.engine.SetVolume(-1)
	if v := h.engine.Snapshot().Volume; v != 0 {
		t.Errorf("volume %v", v)
	}
}

func TestLoadTrackDecodeFailureKeepsState(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	h.engine.SetLoopRegion(1, 4)

	err := h.engine.LoadTrack("other", "broken.mp3", []byte("not audio at all"))
	if !faults.Is(err, faults.DecodeError) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
	s := h.engine.Snapshot()
	if s.TrackName != "test.wav" || s.Duration != 10 || s.LoopStart != 1 || s.LoopEnd != 4 {
		t.Errorf("state changed after failed load: %+v", s)
	}
	if s.Message == "" {
		t.Error("no message for failed load")
	}
}

func TestPitchShiftKeepsLoopMarkers(t *testing.T) {
	h := newHarness(DefaultPhases())
	original := silence(3, 1)
	h.engine.LoadBuffer("track", "mono.wav", original)
	h.engine.SetLoopRegion(0.5, 2.5)
	h.audio.SetCurrentTime(1.2)

	h.engine.RequestPitchShift(12)
	h.engine.pitch.Wait()

	s := h.engine.Snapshot()
	if s.PitchStatus != pitch.Done || s.Semitones != 12 {
		t.Fatalf("pitch status %s semitones %v", s.PitchStatus, s.Semitones)
	}
	if s.LoopStart != 0.5 || s.LoopEnd != 2.5 || s.Duration != 3 {
		t.Errorf("markers moved: %v..%v of %v", s.LoopStart, s.LoopEnd, s.Duration)
	}
	if pos := h.audio.CurrentTime(); pos != 1.2 {
		t.Errorf("position %v, want 1.2", pos)
	}
	shifted := h.audio.current()
	if shifted == original {
		t.Fatal("asset not replaced")
	}
	if shifted.NumChannels() != 1 || shifted.SampleRate != 1000 {
		t.Errorf("shifted asset %d ch @ %d Hz", shifted.NumChannels(), shifted.SampleRate)
	}
	if sc, _ := h.lastState(); sc.Semitones != 12 {
		t.Errorf("last event semitones %v", sc.Semitones)
	}

	h.engine.RequestPitchShift(0)
	if h.audio.current() != original {
		t.Error("zero shift did not restore the original asset")
	}
	if s := h.engine.Snapshot(); s.Semitones != 0 || s.LoopStart != 0.5 {
		t.Errorf("after zero shift %+v", s)
	}
}

func TestPitchShiftGatesStartAndDefersEvents(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(3)
	release := make(chan struct{})
	h.engine.pitch = pitch.NewProcessor(func(raw []byte) (*audio.Buffer, error) {
		<-release
		return audio.Decode(raw)
	})

	h.engine.RequestPitchShift(-5)
	if s := h.engine.Snapshot(); s.PitchStatus != pitch.Processing {
		t.Fatalf("status %s", s.PitchStatus)
	}
	h.engine.Start()
	if s := h.engine.Snapshot(); s.Mode != ModeIdle {
		t.Fatalf("Start accepted during pitch shift")
	}

	events := h.eventsOf("state")
	h.engine.SetLoopRegion(0.5, 2)
	if got := h.eventsOf("state"); got != events {
		t.Errorf("loop edit emitted during pitch shift")
	}

	close(release)
	h.engine.pitch.Wait()
	if got := h.eventsOf("state"); got != events+1 {
		t.Errorf("events after job = %d, want %d", got, events+1)
	}
	if s := h.engine.Snapshot(); s.Semitones != -5 || s.LoopStart != 0 || !s.UseFullTrack {
		t.Errorf("after job %+v", s)
	}
}

func TestPitchShiftFailureKeepsAsset(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(3)
	original := h.audio.current()
	h.engine.pitch = pitch.NewProcessor(func([]byte) (*audio.Buffer, error) {
		return nil, errors.New("boom")
	})

	h.engine.RequestPitchShift(3)
	h.engine.pitch.Wait()

	s := h.engine.Snapshot()
	if s.PitchStatus != pitch.Failed || s.Semitones != 0 || s.Message == "" {
		t.Fatalf("after failure %+v", s)
	}
	if h.audio.current() != original {
		t.Error("asset replaced after failure")
	}
}

func TestRestore(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(10)
	phases := DefaultPhases()
	phases[PhaseB].Repetitions = 5
	h.engine.Restore(Settings{
		LoopStart:      1,
		LoopEnd:        4,
		BPM:            95,
		ManualOffsetMs: 20,
		Phases:         phases,
	})
	s := h.engine.Snapshot()
	if s.LoopStart != 1 || s.LoopEnd != 4 || s.UseFullTrack {
		t.Errorf("loop %v..%v full %v", s.LoopStart, s.LoopEnd, s.UseFullTrack)
	}
	if s.Tempo.Current != 95 || s.Tempo.ManualOffsetMs != 20 {
		t.Errorf("tempo %+v", s.Tempo)
	}
	if s.Phases[PhaseB].Repetitions != 5 {
		t.Errorf("phases %+v", s.Phases)
	}
	if pos := h.audio.CurrentTime(); pos != 1 {
		t.Errorf("position %v, want loop start", pos)
	}
}

func TestTrackEndKeepsRepeating(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(3)
	h.engine.Start()
	h.finishBreak()

	breaks := 1
	for i := 0; i < 20; i++ {
		h.audio.play(10)
		s := h.engine.Snapshot()
		switch s.Mode {
		case ModeActive:
			pos, _, playing := h.audio.state()
			if !playing || pos != 0 {
				t.Fatalf("phase %s rep %d: playing %v pos %v", s.Phase, s.Repetition, playing, pos)
			}
		case ModeBreak:
			breaks++
			h.finishBreak()
		}
		if s.Mode == ModeIdle {
			break
		}
	}
	if breaks != 4 {
		t.Errorf("breaks = %d, want 4", breaks)
	}
	if n := h.eventsOf("cycle"); n != 1 {
		t.Errorf("CycleCompleted events = %d, want 1", n)
	}
}

func TestTrackEndKeepsFocusLooping(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(3)
	h.engine.Start()
	h.finishBreak()
	h.engine.ToggleFocus()

	for i := 0; i < 3; i++ {
		h.audio.play(10)
		s := h.engine.Snapshot()
		if s.Mode != ModeFocused || s.Repetition != 0 {
			t.Fatalf("mode %s repetition %d", s.Mode, s.Repetition)
		}
		if pos, _, playing := h.audio.state(); !playing || pos != 0 {
			t.Fatalf("playing %v pos %v", playing, pos)
		}
	}
}

func TestMixerTrackEndStartsNextRepetition(t *testing.T) {
	clk := newFakeClock()
	mixer := audio.NewMixer(1000)
	e := New(mixer, Options{Clock: clk, Phases: DefaultPhases(), Volume: 1})
	mixer.OnEnded(e.LoopBoundaryReached)
	e.LoadBuffer("track", "test.wav", silence(3, 2))

	e.Start()
	clk.Advance(BreakDuration)

	// 3.5 s at 70% leaves the track at 2.45 s; the next second runs past
	// the end inside a single device read.
	_, _ = mixer.Read(make([]byte, 3500*4))
	_, _ = mixer.Read(make([]byte, 1000*4))
	e.Poll()

	s := e.Snapshot()
	if s.Mode != ModeActive || s.Repetition != 1 {
		t.Fatalf("mode %s repetition %d, want active 1", s.Mode, s.Repetition)
	}
	if !mixer.Playing() {
		t.Fatal("playback stopped at loop start")
	}
	_, _ = mixer.Read(make([]byte, 1000*4))
	if pos := mixer.CurrentTime(); pos <= 0 {
		t.Errorf("position %v did not advance", pos)
	}
}

func TestPitchShiftResumesStoppedRepetition(t *testing.T) {
	h := newHarness(DefaultPhases())
	h.load(3)
	h.engine.Start()
	h.finishBreak()
	release := make(chan struct{})
	h.engine.pitch = pitch.NewProcessor(func(raw []byte) (*audio.Buffer, error) {
		<-release
		return audio.Decode(raw)
	})

	h.engine.RequestPitchShift(2)
	h.audio.play(10)
	if _, _, playing := h.audio.state(); playing {
		t.Fatal("track should have stopped at its end")
	}

	close(release)
	h.engine.pitch.Wait()
	s := h.engine.Snapshot()
	if s.Mode != ModeActive || s.Repetition != 0 || s.Semitones != 2 {
		t.Fatalf("after job %+v", s)
	}
	if pos, _, playing := h.audio.state(); !playing || pos != 0 {
		t.Errorf("playing %v pos %v", playing, pos)
	}
}
