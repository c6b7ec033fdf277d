package audio

import (
	"bytes"
	"io"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/wav"

	"github.com/icco/abcd/internal/faults"
	"github.com/icco/abcd/internal/logging"
)

const decodeChunk = 4096

// Decode turns an encoded WAV or MP3 file into a Buffer.
func Decode(raw []byte) (*Buffer, error) {
	if len(raw) < 12 {
		return nil, faults.New(faults.DecodeError, "audio data too short", "The file is not a playable audio file")
	}

	var (
		s      beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	if bytes.HasPrefix(raw, []byte("RIFF")) && bytes.Equal(raw[8:12], []byte("WAVE")) {
		s, format, err = wav.Decode(bytes.NewReader(raw))
	} else {
		s, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(raw)))
	}
	if err != nil {
		return nil, faults.Wrap(err, faults.DecodeError, "decode audio")
	}
	defer func() { _ = s.Close() }()

	nch := format.NumChannels
	if nch < 1 {
		nch = 1
	}
	if nch > 2 {
		nch = 2
	}
	out := &Buffer{SampleRate: int(format.SampleRate), Channels: make([][]float64, nch)}
	if n := s.Len(); n > 0 {
		for c := range out.Channels {
			out.Channels[c] = make([]float64, 0, n)
		}
	}

	chunk := make([][2]float64, decodeChunk)
	for {
		n, ok := s.Stream(chunk)
		for _, frame := range chunk[:n] {
			for c := range out.Channels {
				out.Channels[c] = append(out.Channels[c], frame[c])
			}
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, faults.Wrap(err, faults.DecodeError, "stream audio")
	}
	if out.Frames() == 0 || out.SampleRate <= 0 {
		return nil, faults.New(faults.DecodeError, "audio has no samples", "The file contains no audio")
	}

	logging.For("audio").WithFields(logging.Fields{
		"sample_rate": out.SampleRate,
		"channels":    nch,
		"frames":      out.Frames(),
	}).Debug("decoded audio")
	return out, nil
}
