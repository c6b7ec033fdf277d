package audio

import (
	"context"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/logging"
)

const headlessTick = 10 * time.Millisecond

// Output drives a Mixer, either through the system audio device or, when no
// device is available, through a real-time paced goroutine that discards the
// samples so the audio clock still advances.
type Output struct {
	otoCtx   *oto.Context
	player   *oto.Player
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	headless bool
}

// Open starts rendering m. If headless is false it tries the audio device
// first; a device failure falls back to headless mode and is returned as a
// SchedulerUnavailable error alongside the working Output.
func Open(ctx context.Context, m *Mixer, headless bool) (*Output, error) {
	if !headless {
		o, err := openDevice(m)
		if err == nil {
			return o, nil
		}
		logging.For("audio").WithError(err).Warn("audio device unavailable, running headless")
		return openHeadless(ctx, m), faults.Wrap(err, faults.SchedulerUnavailable, "open audio device")
	}
	return openHeadless(ctx, m), nil
}

func openDevice(m *Mixer) (*Output, error) {
	op := &oto.NewContextOptions{
		SampleRate:   m.SampleRate(),
		ChannelCount: channelCount,
		Format:       oto.FormatSignedInt16LE,
	}
	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-readyChan

	player := otoCtx.NewPlayer(m)
	player.Play()
	return &Output{otoCtx: otoCtx, player: player}, nil
}

func openHeadless(ctx context.Context, m *Mixer) *Output {
	ctx, cancel := context.WithCancel(ctx)
	o := &Output{cancel: cancel, headless: true}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		pump(ctx, m, time.Now, headlessTick)
	}()
	return o
}

// pump reads from m at real-time pace until ctx is done.
func pump(ctx context.Context, m *Mixer, now func() time.Time, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	start := now()
	var consumed int64
	buf := make([]byte, 0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due := int64(now().Sub(start).Seconds() * float64(m.SampleRate()))
			frames := int(due - consumed)
			if frames <= 0 {
				continue
			}
			need := frames * channelCount * bitDepth
			if cap(buf) < need {
				buf = make([]byte, need)
			}
			n, _ := m.Read(buf[:need])
			consumed += int64(n / (channelCount * bitDepth))
		}
	}
}

// Headless reports whether samples are discarded instead of played.
func (o *Output) Headless() bool {
	return o.headless
}

// Close stops rendering.
func (o *Output) Close() error {
	if o.cancel != nil {
		o.cancel()
		o.wg.Wait()
	}
	if o.player != nil {
		o.player.Pause()
	}
	// player.Close is deprecated as of oto v3.4; suspending the context
	// releases the device.
	if o.otoCtx != nil {
		return o.otoCtx.Suspend()
	}
	return nil
}
