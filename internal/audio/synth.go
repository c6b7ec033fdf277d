package audio

import "math"

// WaveType represents different oscillator wave shapes
type WaveType int

const (
	WaveSine WaveType = iota
	WaveSquare
	WaveTriangle
)

// Envelope is a linear attack to Peak followed by an exponential decay that
// reaches Floor at Length seconds, where the voice stops.
type Envelope struct {
	Peak   float64
	Attack float64
	Floor  float64
	Length float64
}

// ClickEnvelope shapes a metronome click. Peak is replaced by the click volume.
var ClickEnvelope = Envelope{Peak: 1, Attack: 0.005, Floor: 0.001, Length: 0.1}

// CueEnvelope shapes the spoken-count replacement tones of the break countdown.
var CueEnvelope = Envelope{Peak: 0.3, Attack: 0.01, Floor: 0.01, Length: 0.2}

// ParseWaveType maps a config name to a WaveType. Unknown names are sine.
func ParseWaveType(name string) WaveType {
	switch name {
	case "square":
		return WaveSquare
	case "triangle":
		return WaveTriangle
	default:
		return WaveSine
	}
}

// ClickFrequency is the fixed metronome pitch in Hz.
const ClickFrequency = 1000.0

// cueFrequencies maps a countdown count to its tone.
var cueFrequencies = map[int]float64{
	1: 880,
	2: 1046,
	3: 1174,
	4: 1318,
}

// CueFrequency returns the tone for a countdown count.
func CueFrequency(count int) float64 {
	if f, ok := cueFrequencies[count]; ok {
		return f
	}
	return cueFrequencies[1]
}

// Voice is a single enveloped oscillator started at an absolute output frame.
type Voice struct {
	wave      WaveType
	frequency float64
	phase     float64
	env       Envelope
	start     int64
	active    bool
}

func newVoice(wave WaveType, freq float64, env Envelope, start int64) *Voice {
	return &Voice{wave: wave, frequency: freq, env: env, start: start, active: true}
}

// level returns the envelope value t seconds after the voice started.
func (e Envelope) level(t float64) float64 {
	switch {
	case t < 0 || t >= e.Length:
		return 0
	case t < e.Attack:
		return e.Peak * t / e.Attack
	}
	floor := e.Floor
	if floor >= e.Peak {
		floor = e.Peak / 10
	}
	if e.Peak <= 0 {
		return 0
	}
	frac := (t - e.Attack) / (e.Length - e.Attack)
	return e.Peak * math.Pow(floor/e.Peak, frac)
}

// next renders one sample for output frame f at the given rate and advances
// the oscillator once the voice has started.
func (v *Voice) next(f int64, sampleRate float64) float64 {
	if !v.active || f < v.start {
		return 0
	}
	t := float64(f-v.start) / sampleRate
	if t >= v.env.Length {
		v.active = false
		return 0
	}
	s := generateWave(v.wave, v.phase) * v.env.level(t)
	v.phase += v.frequency / sampleRate
	if v.phase >= 1.0 {
		v.phase -= 1.0
	}
	return s
}

func generateWave(waveType WaveType, phase float64) float64 {
	switch waveType {
	case WaveSquare:
		if phase < 0.5 {
			return 0.8
		}
		return -0.8
	case WaveTriangle:
		if phase < 0.5 {
			return 4*phase - 1
		}
		return 3 - 4*phase
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}
