package metronome

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

const (
	ticksPerQuarterNote = 960 // Standard MIDI resolution
	clickChannel        = 9   // General MIDI percussion
	clickNote           = 76  // Hi wood block
	cueChannel          = 0
	noteLength          = 120

	// The break countdown runs at a fixed 60 BPM so beats equal seconds.
	breakBPM   = 60.0
	breakBeats = 4.0
)

// Break countdown cues as (beat, count) pairs.
var breakCues = []struct {
	beat  float64
	count int
}{
	{0, 1}, {1, 2}, {2, 1}, {2.5, 2}, {3, 3}, {3.5, 4},
}

// cueNotes maps countdown counts to the nearest MIDI note of the cue tone.
var cueNotes = map[int]uint8{1: 81, 2: 84, 3: 86, 4: 88}

// PlanPhase is one phase of an exported practice plan.
type PlanPhase struct {
	Name        string
	Repetitions int
	Rate        float64
}

// Plan describes a full practice cycle to export as a click track.
type Plan struct {
	BPM             float64
	FirstBeatOffset float64
	LoopStart       float64
	LoopEnd         float64
	Phases          []PlanPhase
}

type event struct {
	tick uint32
	msg  []byte
}

// WriteClickTrack writes plan as a two-track Standard MIDI File: a tempo
// track with one tempo per phase and a click track with the countdown cues
// before each phase and a click on every beat of every repetition.
func WriteClickTrack(w io.Writer, plan Plan) error {
	if plan.BPM <= 0 || plan.LoopEnd <= plan.LoopStart {
		return fmt.Errorf("invalid plan: bpm %.2f loop %.2f..%.2f", plan.BPM, plan.LoopStart, plan.LoopEnd)
	}

	beatLen := 60 / plan.BPM
	loopBeats := (plan.LoopEnd - plan.LoopStart) / beatLen
	phase := math.Mod(plan.LoopStart-plan.FirstBeatOffset, beatLen)
	if phase < 0 {
		phase += beatLen
	}
	firstBeat := 0.0
	if phase > 0 {
		firstBeat = (beatLen - phase) / beatLen
	}
	repTicks := beatsToTicks(loopBeats)

	var tempo, clicks []event
	var cursor uint32
	for _, p := range plan.Phases {
		if p.Repetitions <= 0 {
			continue
		}
		tempo = append(tempo, event{cursor, smf.MetaTempo(breakBPM)})
		for _, c := range breakCues {
			at := cursor + beatsToTicks(c.beat)
			note := cueNotes[c.count]
			clicks = append(clicks,
				event{at, midi.NoteOn(cueChannel, note, 100)},
				event{at + noteLength, midi.NoteOff(cueChannel, note)})
		}
		cursor += beatsToTicks(breakBeats)

		rate := p.Rate
		if rate <= 0 {
			rate = 1
		}
		tempo = append(tempo, event{cursor, smf.MetaTempo(plan.BPM * rate)})
		for r := 0; r < p.Repetitions; r++ {
			for b := firstBeat; b < loopBeats; b++ {
				at := cursor + beatsToTicks(b)
				vel := uint8(90)
				if b == firstBeat {
					vel = 120
				}
				clicks = append(clicks,
					event{at, midi.NoteOn(clickChannel, clickNote, vel)},
					event{at + noteLength, midi.NoteOff(clickChannel, clickNote)})
			}
			cursor += repTicks
		}
	}

	sm := smf.New()
	sm.TimeFormat = smf.MetricTicks(ticksPerQuarterNote)

	track0 := buildTrack(append([]event{{0, smf.MetaMeter(4, 4)}}, tempo...), cursor)
	if err := sm.Add(track0); err != nil {
		return fmt.Errorf("error adding tempo track: %w", err)
	}
	if err := sm.Add(buildTrack(clicks, cursor)); err != nil {
		return fmt.Errorf("error adding click track: %w", err)
	}
	if _, err := sm.WriteTo(w); err != nil {
		return fmt.Errorf("error writing MIDI file: %w", err)
	}
	return nil
}

func beatsToTicks(beats float64) uint32 {
	return uint32(math.Round(beats * ticksPerQuarterNote))
}

// buildTrack delta-encodes events sorted by tick and closes the track at end.
func buildTrack(events []event, end uint32) smf.Track {
	sort.SliceStable(events, func(i, j int) bool { return events[i].tick < events[j].tick })
	var track smf.Track
	var last uint32
	for _, ev := range events {
		track.Add(ev.tick-last, ev.msg)
		last = ev.tick
	}
	if last < end {
		track.Close(end - last)
	} else {
		track.Close(0)
	}
	return track
}
