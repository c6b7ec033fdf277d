// Package audio holds decoded PCM buffers, the WAV container writer, and the
// mixer that renders the practice track and metronome clicks to the device.
package audio

// Buffer is planar float PCM. Every channel slice has the same length.
type Buffer struct {
	SampleRate int
	Channels   [][]float64
}

// NewBuffer allocates a silent buffer.
func NewBuffer(sampleRate, channels, frames int) *Buffer {
	b := &Buffer{SampleRate: sampleRate, Channels: make([][]float64, channels)}
	for i := range b.Channels {
		b.Channels[i] = make([]float64, frames)
	}
	return b
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	return len(b.Channels)
}

// Frames returns the number of sample frames.
func (b *Buffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{SampleRate: b.SampleRate, Channels: make([][]float64, len(b.Channels))}
	for i, ch := range b.Channels {
		c.Channels[i] = append([]float64(nil), ch...)
	}
	return c
}

// Mono averages all channels into one slice.
func (b *Buffer) Mono() []float64 {
	n := b.Frames()
	out := make([]float64, n)
	if len(b.Channels) == 0 {
		return out
	}
	for _, ch := range b.Channels {
		for i, v := range ch {
			out[i] += v
		}
	}
	scale := 1 / float64(len(b.Channels))
	for i := range out {
		out[i] *= scale
	}
	return out
}

// Interleave writes frames [from, from+n) into dst as interleaved samples and
// returns the number of frames written.
func (b *Buffer) Interleave(dst []float64, from int) int {
	nch := len(b.Channels)
	if nch == 0 {
		return 0
	}
	n := len(dst) / nch
	if rem := b.Frames() - from; rem < n {
		n = rem
	}
	if n <= 0 {
		return 0
	}
	for i := 0; i < n; i++ {
		for c := 0; c < nch; c++ {
			dst[i*nch+c] = b.Channels[c][from+i]
		}
	}
	return n
}
