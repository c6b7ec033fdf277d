package metronome

import (
	"bytes"
	"math"
	"testing"

	"gitlab.com/gomidi/midi/v2/smf"
)

func TestWriteClickTrack(t *testing.T) {
	plan := Plan{
		BPM:       120,
		LoopStart: 0,
		LoopEnd:   2,
		Phases: []PlanPhase{
			{Name: "Attention", Repetitions: 2, Rate: 0.7},
			{Name: "Base", Repetitions: 1, Rate: 1},
			{Name: "Skipped", Repetitions: 0, Rate: 1},
		},
	}
	var buf bytes.Buffer
	if err := WriteClickTrack(&buf, plan); err != nil {
		t.Fatalf("WriteClickTrack: %v", err)
	}

	rd, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if len(rd.Tracks) != 2 {
		t.Fatalf("tracks = %d, want 2", len(rd.Tracks))
	}

	wantTempos := []float64{60, 84, 60, 120}
	var tempos []float64
	for _, ev := range rd.Tracks[0] {
		var bpm float64
		if ev.Message.GetMetaTempo(&bpm) {
			tempos = append(tempos, bpm)
		}
	}
	if len(tempos) != len(wantTempos) {
		t.Fatalf("tempos = %v, want %v", tempos, wantTempos)
	}
	for i, bpm := range tempos {
		if math.Abs(bpm-wantTempos[i]) > 0.01 {
			t.Errorf("tempo %d = %f, want %f", i, bpm, wantTempos[i])
		}
	}

	var clicks, cues int
	for _, ev := range rd.Tracks[1] {
		var ch, key, vel uint8
		if ev.Message.GetNoteOn(&ch, &key, &vel) && vel > 0 {
			switch ch {
			case clickChannel:
				clicks++
			case cueChannel:
				cues++
			}
		}
	}
	// Four beats per 2s loop at 120 BPM over three repetitions.
	if clicks != 12 {
		t.Errorf("clicks = %d, want 12", clicks)
	}
	if cues != 12 {
		t.Errorf("cues = %d, want 12", cues)
	}
}

func TestWriteClickTrackOffsetGrid(t *testing.T) {
	plan := Plan{
		BPM:             60,
		FirstBeatOffset: 0.25,
		LoopStart:       0,
		LoopEnd:         3,
		Phases:          []PlanPhase{{Repetitions: 1, Rate: 1}},
	}
	var buf bytes.Buffer
	if err := WriteClickTrack(&buf, plan); err != nil {
		t.Fatal(err)
	}
	rd, err := smf.ReadFrom(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatal(err)
	}

	var tick uint32
	var first uint32
	found := false
	for _, ev := range rd.Tracks[1] {
		tick += ev.Delta
		var ch, key, vel uint8
		if ev.Message.GetNoteOn(&ch, &key, &vel) && ch == clickChannel && !found {
			first = tick
			found = true
		}
	}
	// Break is 4 beats, then the grid starts 0.25 beats into the loop.
	if want := uint32(4*ticksPerQuarterNote + ticksPerQuarterNote/4); first != want {
		t.Errorf("first click at tick %d, want %d", first, want)
	}
}

func TestWriteClickTrackInvalid(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteClickTrack(&buf, Plan{BPM: 0, LoopEnd: 1}); err == nil {
		t.Error("expected error for zero BPM")
	}
	if err := WriteClickTrack(&buf, Plan{BPM: 120, LoopStart: 2, LoopEnd: 1}); err == nil {
		t.Error("expected error for inverted loop")
	}
}
