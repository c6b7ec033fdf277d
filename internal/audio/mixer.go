package audio

import (
	"math"
	"sync"
)

const (
	// DefaultSampleRate is the device rate the mixer renders at.
	DefaultSampleRate = 44100
	channelCount      = 2 // stereo
	bitDepth          = 2 // 16-bit
	maxVoices         = 32
)

// Mixer renders the loaded track at a variable playback rate together with
// scheduled click voices. It implements io.Reader producing 16-bit LE stereo
// PCM and keeps an audio clock counted in rendered frames.
type Mixer struct {
	mu         sync.Mutex
	sampleRate int
	track      *Buffer
	pos        float64 // seconds into track
	rate       float64
	playing    bool
	volume     float64
	rendered   int64
	voices     []*Voice
	clickWave  WaveType
	clickFreq  float64
	onEnded    func()
}

// NewMixer creates a mixer rendering at sampleRate.
func NewMixer(sampleRate int) *Mixer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Mixer{
		sampleRate: sampleRate,
		rate:       1,
		volume:     1,
		clickWave:  WaveSine,
		clickFreq:  ClickFrequency,
	}
}

// SampleRate returns the device rate.
func (m *Mixer) SampleRate() int {
	return m.sampleRate
}

// SetClickTone changes the oscillator used for metronome clicks.
func (m *Mixer) SetClickTone(wave WaveType, freq float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clickWave = wave
	if freq > 0 {
		m.clickFreq = freq
	}
}

// OnEnded registers a callback run (outside the lock) when playback reaches
// the end of the track.
func (m *Mixer) OnEnded(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnded = f
}

// Decode decodes raw file bytes.
func (m *Mixer) Decode(raw []byte) (*Buffer, error) {
	return Decode(raw)
}

// Load replaces the playback asset. Position is kept, clamped to the new length.
func (m *Mixer) Load(b *Buffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.track = b
	if d := b.Duration(); m.pos > d {
		m.pos = d
	}
}

// CurrentTime returns the playback position in track seconds.
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// SetCurrentTime seeks.
func (m *Mixer) SetCurrentTime(sec float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sec < 0 {
		sec = 0
	}
	if d := m.track.Duration(); sec > d {
		sec = d
	}
	m.pos = sec
}

// Duration returns the track length in seconds.
func (m *Mixer) Duration() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.track.Duration()
}

// SetPlaybackRate sets the speed ratio; 1.0 is original speed.
func (m *Mixer) SetPlaybackRate(r float64) {
	if r <= 0 || math.IsNaN(r) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rate = r
}

// PlaybackRate returns the speed ratio.
func (m *Mixer) PlaybackRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rate
}

// Play starts track playback.
func (m *Mixer) Play() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.track != nil {
		m.playing = true
	}
}

// Pause stops track playback. Scheduled voices keep sounding.
func (m *Mixer) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playing = false
}

// Playing reports whether the track is advancing.
func (m *Mixer) Playing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// SetVolume sets the track volume (0.0 - 1.0)
func (m *Mixer) SetVolume(vol float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = clamp01(vol)
}

// AudioTime returns the audio clock in seconds: frames rendered so far.
func (m *Mixer) AudioTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.rendered) / float64(m.sampleRate)
}

// ScheduleClick starts a click voice at audio clock time at with the given
// peak gain. A time already rendered plays immediately.
func (m *Mixer) ScheduleClick(at, gain float64) {
	env := ClickEnvelope
	env.Peak = clamp01(gain)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addVoiceLocked(newVoice(m.clickWave, m.clickFreq, env, m.frameAtLocked(at)))
}

// PlayCue sounds the countdown tone for count immediately.
func (m *Mixer) PlayCue(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addVoiceLocked(newVoice(WaveSine, CueFrequency(count), CueEnvelope, m.rendered))
}

func (m *Mixer) frameAtLocked(at float64) int64 {
	f := int64(math.Round(at * float64(m.sampleRate)))
	if f < m.rendered {
		f = m.rendered
	}
	return f
}

func (m *Mixer) addVoiceLocked(v *Voice) {
	for i, old := range m.voices {
		if !old.active {
			m.voices[i] = v
			return
		}
	}
	if len(m.voices) < maxVoices {
		m.voices = append(m.voices, v)
		return
	}
	// Steal oldest voice
	m.voices[0] = v
}

// Read implements io.Reader for the output device.
func (m *Mixer) Read(buf []byte) (int, error) {
	numFrames := len(buf) / (channelCount * bitDepth)
	ended := m.render(numFrames, func(i int, l, r float64) {
		idx := i * channelCount * bitDepth
		li, ri := toInt16(l), toInt16(r)
		buf[idx] = byte(li)
		buf[idx+1] = byte(li >> 8)
		buf[idx+2] = byte(ri)
		buf[idx+3] = byte(ri >> 8)
	})
	if ended != nil {
		ended()
	}
	return numFrames * channelCount * bitDepth, nil
}

// render produces n frames, calling emit for each. It returns the ended
// callback if the track ran out during this block.
func (m *Mixer) render(n int, emit func(i int, l, r float64)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ended func()
	sr := float64(m.sampleRate)
	for i := 0; i < n; i++ {
		var l, r float64
		if m.playing && m.track != nil {
			l, r = m.trackFrameLocked()
			l *= m.volume
			r *= m.volume
			m.pos += m.rate / sr
			if d := m.track.Duration(); m.pos >= d {
				m.pos = d
				m.playing = false
				ended = m.onEnded
			}
		}
		for _, v := range m.voices {
			s := v.next(m.rendered, sr)
			l += s
			r += s
		}
		emit(i, l, r)
		m.rendered++
	}
	return ended
}

// trackFrameLocked samples the track at pos with linear interpolation.
func (m *Mixer) trackFrameLocked() (float64, float64) {
	b := m.track
	if b.NumChannels() == 0 {
		return 0, 0
	}
	x := m.pos * float64(b.SampleRate)
	i := int(x)
	frac := x - float64(i)
	l := interp(b.Channels[0], i, frac)
	if b.NumChannels() == 1 {
		return l, l
	}
	return l, interp(b.Channels[1], i, frac)
}

func interp(ch []float64, i int, frac float64) float64 {
	if i < 0 || i >= len(ch) {
		return 0
	}
	a := ch[i]
	b := a
	if i+1 < len(ch) {
		b = ch[i+1]
	}
	return a + (b-a)*frac
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
