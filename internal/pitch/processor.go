package pitch

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/icco/abcd/internal/audio"
	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/logging"
)

const (
	// BlockFrames is the size of the blocks drained from the filter.
	BlockFrames = 4096

	MinSemitones = -12.0
	MaxSemitones = 12.0
)

// Source fills dst with interleaved frames and returns how many it wrote.
// Zero means the source is exhausted.
type Source func(dst []float64) int

// BufferSource reads b from the start.
func BufferSource(b *audio.Buffer) Source {
	pos := 0
	return func(dst []float64) int {
		n := b.Interleave(dst, pos)
		pos += n
		return n
	}
}

// ClampSemitones rounds a shift to whole semitones and bounds it to one
// octave either way.
func ClampSemitones(s float64) float64 {
	if math.IsNaN(s) {
		return 0
	}
	return math.Max(MinSemitones, math.Min(MaxSemitones, math.Round(s)))
}

// Process returns b shifted by semitones. The output keeps the channel count
// and sample rate. A zero shift returns a copy.
func Process(ctx context.Context, b *audio.Buffer, semitones float64) (*audio.Buffer, error) {
	if b == nil || b.NumChannels() == 0 {
		return nil, fmt.Errorf("pitch: empty buffer")
	}
	if semitones == 0 {
		return b.Clone(), nil
	}

	nch := b.NumChannels()
	filter := NewFilter(nch, semitones)
	src := BufferSource(b)

	out := audio.NewBuffer(b.SampleRate, nch, b.Frames())
	written := 0
	store := func(block []float64, n int) {
		if need := written + n; need > out.Frames() {
			for c := range out.Channels {
				out.Channels[c] = append(out.Channels[c], make([]float64, need-len(out.Channels[c]))...)
			}
		}
		for i := 0; i < n; i++ {
			for c := 0; c < nch; c++ {
				out.Channels[c][written+i] = block[i*nch+c]
			}
		}
		written += n
	}

	in := make([]float64, BlockFrames*nch)
	block := make([]float64, BlockFrames*nch)
	drain := func() {
		for {
			n := filter.ReceiveSamples(block)
			if n == 0 {
				return
			}
			store(block, n)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := src(in)
		if n == 0 {
			filter.Flush()
			drain()
			break
		}
		filter.PutSamples(in[:n*nch])
		drain()
	}

	for c := range out.Channels {
		out.Channels[c] = out.Channels[c][:written]
	}
	return out, nil
}

// Status is the state of the pitch-shift job.
type Status int

const (
	Idle Status = iota
	Processing
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Processing:
		return "processing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Result is delivered when a job finishes.
type Result struct {
	Semitones float64
	Buffer    *audio.Buffer // decoded WAV output, nil on failure
	WAV       []byte
	Err       error
}

// Decoder turns WAV bytes back into a playable buffer.
type Decoder func(raw []byte) (*audio.Buffer, error)

// Processor runs at most one pitch-shift job at a time.
type Processor struct {
	mu        sync.Mutex
	status    Status
	semitones float64
	decode    Decoder
	wg        sync.WaitGroup
}

// NewProcessor creates a processor that decodes its WAV output with decode.
func NewProcessor(decode Decoder) *Processor {
	if decode == nil {
		decode = audio.Decode
	}
	return &Processor{decode: decode}
}

// Status returns the job status and the semitones of the last job.
func (p *Processor) Status() (Status, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.semitones
}

// Busy reports whether a job is running.
func (p *Processor) Busy() bool {
	s, _ := p.Status()
	return s == Processing
}

// Start shifts src on a new goroutine and calls done with the result. It
// returns false without doing anything if a job is already running. The job
// counts as running until done returns. Jobs cannot be cancelled once
// started.
func (p *Processor) Start(src *audio.Buffer, semitones float64, done func(Result)) bool {
	p.mu.Lock()
	if p.status == Processing {
		p.mu.Unlock()
		return false
	}
	p.status = Processing
	p.semitones = semitones
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		res := p.run(src, semitones)

		// Busy stays true until done has applied the result.
		if done != nil {
			done(res)
		}

		p.mu.Lock()
		if res.Err != nil {
			p.status = Failed
		} else {
			p.status = Done
		}
		p.mu.Unlock()
	}()
	return true
}

// Wait blocks until the running job, if any, has delivered its result.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) run(src *audio.Buffer, semitones float64) (res Result) {
	res.Semitones = semitones
	log := logging.For("pitch").WithField("semitones", semitones)
	defer func() {
		if r := recover(); r != nil {
			res = Result{Semitones: semitones, Err: faults.New(faults.ProcessingError,
				fmt.Sprintf("pitch shift panicked: %v", r), "Pitch shift failed, keeping the original audio")}
		}
		if res.Err != nil {
			log.WithError(res.Err).Error("pitch shift failed")
		}
	}()

	shifted, err := Process(context.Background(), src, semitones)
	if err != nil {
		res.Err = faults.Wrap(err, faults.ProcessingError, "shift pitch")
		return res
	}
	var wav bytes.Buffer
	if err := audio.EncodeWAV(&wav, shifted); err != nil {
		res.Err = faults.Wrap(err, faults.ProcessingError, "encode wav")
		return res
	}
	decoded, err := p.decode(wav.Bytes())
	if err != nil {
		res.Err = faults.Wrap(err, faults.ProcessingError, "decode shifted audio")
		return res
	}
	log.WithField("frames", decoded.Frames()).Info("pitch shift complete")
	res.Buffer = decoded
	res.WAV = wav.Bytes()
	return res
}
