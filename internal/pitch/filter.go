// Package pitch resynthesizes audio at a different pitch with the same
// duration, using a phase vocoder followed by resampling.
package pitch

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	fftSize  = 2048
	synthHop = fftSize / 4
	olaGain  = 1.5 // sum of squared Hann windows at 75% overlap
	leadPad  = fftSize
	twoPi    = 2 * math.Pi
)

// Ratio returns the frequency ratio for a semitone shift.
func Ratio(semitones float64) float64 {
	return math.Pow(2, semitones/12)
}

type channelState struct {
	in        []float64 // pending input, in[0] is absolute index Filter.inBase
	ola       []float64 // stretched overlap-add signal, ola[0] is Filter.olaBase
	prevPhase []float64
	sumPhase  []float64
	queue     []float64 // resampled output waiting to be received
}

// Filter shifts pitch by time-stretching with a phase vocoder and resampling
// the stretched signal back to the original length. Input is pushed with
// PutSamples, output is pulled with ReceiveSamples; both are interleaved.
type Filter struct {
	channels int
	ratio    float64
	ha       float64 // analysis hop
	win      []float64
	st       []*channelState

	inBase   int
	inTotal  int // absolute samples received, padding included
	received int // real frames received
	frame    int
	prevPos  int
	olaBase  int
	emitted  int
	flushed  bool

	scratch []float64
	spec    []complex128
}

// NewFilter creates a filter for interleaved audio with the given channel count.
func NewFilter(channels int, semitones float64) *Filter {
	r := Ratio(semitones)
	f := &Filter{
		channels: channels,
		ratio:    r,
		ha:       synthHop / r,
		win:      window.Hann(fftSize),
		st:       make([]*channelState, channels),
		scratch:  make([]float64, fftSize),
		spec:     make([]complex128, fftSize),
	}
	for c := range f.st {
		f.st[c] = &channelState{
			in:        make([]float64, leadPad, leadPad+fftSize),
			prevPhase: make([]float64, fftSize/2+1),
			sumPhase:  make([]float64, fftSize/2+1),
		}
	}
	f.inTotal = leadPad
	return f
}

// PutSamples feeds interleaved frames.
func (f *Filter) PutSamples(samples []float64) {
	if f.flushed {
		return
	}
	n := len(samples) / f.channels
	for c, st := range f.st {
		for i := 0; i < n; i++ {
			st.in = append(st.in, samples[i*f.channels+c])
		}
	}
	f.inTotal += n
	f.received += n
	f.process()
}

// Flush pushes the tail through. No input is accepted afterwards.
func (f *Filter) Flush() {
	if f.flushed {
		return
	}
	for _, st := range f.st {
		st.in = append(st.in, make([]float64, fftSize)...)
	}
	f.inTotal += fftSize
	f.process()
	f.flushed = true
	f.resample(f.olaBase + len(f.st[0].ola))
}

// Available returns the number of frames ready to receive.
func (f *Filter) Available() int {
	return len(f.st[0].queue)
}

// ReceiveSamples moves up to len(dst)/channels ready frames into dst and
// returns how many were written.
func (f *Filter) ReceiveSamples(dst []float64) int {
	n := len(dst) / f.channels
	if a := f.Available(); a < n {
		n = a
	}
	for c, st := range f.st {
		for i := 0; i < n; i++ {
			dst[i*f.channels+c] = st.queue[i]
		}
		st.queue = st.queue[n:]
	}
	return n
}

func (f *Filter) process() {
	for {
		pos := int(math.Round(float64(f.frame) * f.ha))
		if pos+fftSize > f.inTotal {
			break
		}
		hop := float64(pos - f.prevPos)
		outPos := f.frame * synthHop
		for _, st := range f.st {
			f.analyze(st, pos-f.inBase, hop)
			f.synthesize(st, outPos-f.olaBase)
		}
		f.prevPos = pos
		f.frame++
	}

	// Everything before the next frame's output position is final.
	f.resample(f.frame * synthHop)

	next := int(math.Round(float64(f.frame) * f.ha))
	if drop := next - f.inBase; drop > 0 {
		for _, st := range f.st {
			st.in = append(st.in[:0], st.in[drop:]...)
		}
		f.inBase = next
	}
}

// analyze computes the spectrum of the frame starting at off and advances
// the synthesis phase of every bin.
func (f *Filter) analyze(st *channelState, off int, hop float64) {
	for i := range f.scratch {
		f.scratch[i] = st.in[off+i] * f.win[i]
	}
	x := fft.FFTReal(f.scratch)
	half := fftSize / 2
	for m := 0; m <= half; m++ {
		mag := cmplx.Abs(x[m])
		ph := cmplx.Phase(x[m])
		if f.frame == 0 || hop <= 0 {
			st.sumPhase[m] = ph
		} else {
			omega := twoPi * float64(m) / fftSize
			d := ph - st.prevPhase[m] - omega*hop
			d -= twoPi * math.Round(d/twoPi)
			st.sumPhase[m] += (omega + d/hop) * synthHop
		}
		st.prevPhase[m] = ph
		y := cmplx.Rect(mag, st.sumPhase[m])
		f.spec[m] = y
		if m > 0 && m < half {
			f.spec[fftSize-m] = cmplx.Conj(y)
		}
	}
}

// synthesize overlap-adds the inverse transform of f.spec at off.
func (f *Filter) synthesize(st *channelState, off int) {
	if need := off + fftSize; need > len(st.ola) {
		st.ola = append(st.ola, make([]float64, need-len(st.ola))...)
	}
	y := fft.IFFT(f.spec)
	for i := range y {
		st.ola[off+i] += real(y[i]) * f.win[i] / olaGain
	}
}

// resample reads the stretched signal at steps of ratio up to the final
// index end, producing one output frame per real input frame.
func (f *Filter) resample(end int) {
	for f.emitted < f.received {
		pos := f.readPos()
		i := int(pos)
		if !f.flushed && i+1 >= end {
			break
		}
		frac := pos - float64(i)
		for _, st := range f.st {
			a := sampleAt(st.ola, i-f.olaBase)
			b := sampleAt(st.ola, i+1-f.olaBase)
			st.queue = append(st.queue, a+(b-a)*frac)
		}
		f.emitted++
	}

	// Drop stretched samples nothing will read again.
	keep := int(f.readPos())
	if keep > end {
		keep = end
	}
	if drop := keep - f.olaBase; drop > 0 {
		for _, st := range f.st {
			if drop > len(st.ola) {
				drop = len(st.ola)
			}
			st.ola = append(st.ola[:0], st.ola[drop:]...)
		}
		f.olaBase += drop
	}
}

// readPos is the stretched position of the next output frame.
func (f *Filter) readPos() float64 {
	return float64(leadPad+f.emitted) * f.ratio
}

func sampleAt(s []float64, i int) float64 {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}
