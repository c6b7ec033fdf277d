// Package tempo derives the beat grid of a track: automatic BPM detection,
// transient anchoring, tap tempo and manual correction.
package tempo

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/icco/abcd/internal/audio"
)

const (
	frameSize = 1024
	hopSize   = 512

	// Search range for the autocorrelation peak before canonicalization.
	searchMinBPM = 40.0
	searchMaxBPM = 240.0
	// Center and width (in octaves) of the tempo prior.
	priorBPM    = 120.0
	priorOctave = 1.0

	canonicalLow  = 75.0
	canonicalHigh = 165.0

	anchorThreshold = 0.08
	anchorWindow    = 2.0
)

var errTooShort = errors.New("tempo: track too short to analyze")

// Canonicalize folds bpm into [75, 165) by octave steps.
func Canonicalize(bpm float64) float64 {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return bpm
	}
	for bpm < canonicalLow {
		bpm *= 2
	}
	for bpm >= canonicalHigh {
		bpm /= 2
	}
	return bpm
}

// Detect estimates the raw tempo of b. The result is not canonicalized.
func Detect(b *audio.Buffer) (float64, error) {
	if b == nil || b.SampleRate <= 0 {
		return 0, errTooShort
	}
	env := onsetEnvelope(b.Mono())
	frameRate := float64(b.SampleRate) / hopSize

	minLag := int(math.Floor(60 / searchMaxBPM * frameRate))
	maxLag := int(math.Ceil(60 / searchMinBPM * frameRate))
	if minLag < 1 {
		minLag = 1
	}
	if len(env) < 2*maxLag {
		return 0, errTooShort
	}

	mean := stat.Mean(env, nil)
	for i := range env {
		env[i] -= mean
	}

	// Weighted autocorrelation indexed by lag, with one frame of padding on
	// each side for interpolation.
	score := make([]float64, maxLag+2)
	for lag := minLag; lag <= maxLag+1; lag++ {
		var sum float64
		n := len(env) - lag
		for i := 0; i < n; i++ {
			sum += env[i] * env[i+lag]
		}
		bpm := 60 * frameRate / float64(lag)
		score[lag] = sum / float64(n) * prior(bpm)
	}
	best := floats.MaxIdx(score[minLag : maxLag+1]) + minLag
	if score[best] <= 0 {
		return 0, errors.New("tempo: no periodicity found")
	}

	lag := float64(best)
	if best > minLag {
		y0, y1, y2 := score[best-1], score[best], score[best+1]
		if d := y0 - 2*y1 + y2; d < 0 {
			lag += 0.5 * (y0 - y2) / d
		}
	}
	bpm := 60 * frameRate / lag
	if math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return 0, errors.New("tempo: non-finite estimate")
	}
	return bpm, nil
}

func prior(bpm float64) float64 {
	x := math.Log2(bpm/priorBPM) / priorOctave
	return math.Exp(-0.5 * x * x)
}

// onsetEnvelope returns the half-wave rectified spectral flux of x, one value
// per hop.
func onsetEnvelope(x []float64) []float64 {
	if len(x) < frameSize {
		return nil
	}
	win := window.Hann(frameSize)
	frames := 1 + (len(x)-frameSize)/hopSize
	env := make([]float64, frames)
	frame := make([]float64, frameSize)
	prev := make([]float64, frameSize/2+1)
	cur := make([]float64, frameSize/2+1)

	for f := 0; f < frames; f++ {
		off := f * hopSize
		for i := range frame {
			frame[i] = x[off+i] * win[i]
		}
		spec := fft.FFTReal(frame)
		var flux float64
		for k := range cur {
			cur[k] = math.Log1p(10 * cmplx.Abs(spec[k]))
			if d := cur[k] - prev[k]; d > 0 {
				flux += d
			}
		}
		if f == 0 {
			flux = 0
		}
		env[f] = flux
		prev, cur = cur, prev
	}
	return env
}

// Anchor returns the time of the first sample in the first two seconds of
// channel 0 whose magnitude exceeds 0.08, or 0.
func Anchor(b *audio.Buffer) float64 {
	if b == nil || b.NumChannels() == 0 || b.SampleRate <= 0 {
		return 0
	}
	ch := b.Channels[0]
	limit := int(anchorWindow * float64(b.SampleRate))
	if limit > len(ch) {
		limit = len(ch)
	}
	for i := 0; i < limit; i++ {
		if math.Abs(ch[i]) > anchorThreshold {
			return float64(i) / float64(b.SampleRate)
		}
	}
	return 0
}
