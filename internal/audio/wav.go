package audio

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
)

const wavHeaderSize = 44

// EncodeWAV writes b as a 16-bit PCM RIFF/WAVE file. Samples outside [-1, 1]
// are clamped.
func EncodeWAV(w io.Writer, b *Buffer) error {
	nch := b.NumChannels()
	frames := b.Frames()
	blockAlign := nch * 2
	dataSize := frames * blockAlign

	bw := bufio.NewWriter(w)
	hdr := make([]byte, wavHeaderSize)
	copy(hdr[0:], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:], uint32(36+dataSize))
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:], uint16(nch))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(b.SampleRate))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(b.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(hdr[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:], 16)
	copy(hdr[36:], "data")
	binary.LittleEndian.PutUint32(hdr[40:], uint32(dataSize))
	if _, err := bw.Write(hdr); err != nil {
		return err
	}

	var sample [2]byte
	for i := 0; i < frames; i++ {
		for c := 0; c < nch; c++ {
			binary.LittleEndian.PutUint16(sample[:], uint16(toInt16(b.Channels[c][i])))
			if _, err := bw.Write(sample[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func toInt16(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}
