package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/OneOfOne/xxhash"
)

// Waveform is a mono sample sequence in [-1, 1] at a fixed sample rate.
type Waveform struct {
	SampleRate int
	Samples    []float64
}

// Duration of the waveform.
func (w *Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// Checksum is the xxhash64 of the little-endian IEEE-754 bytes of the samples,
// seeded with the sample rate. Two decodes of the same file hash identically.
func (w *Waveform) Checksum() uint64 {
	h := xxhash.New64()
	var buf [8 * 512]byte

	binary.LittleEndian.PutUint64(buf[:8], uint64(w.SampleRate))
	h.Write(buf[:8])

	for start := 0; start < len(w.Samples); start += 512 {
		end := min(start+512, len(w.Samples))
		n := 0
		for _, s := range w.Samples[start:end] {
			binary.LittleEndian.PutUint64(buf[n:], math.Float64bits(s))
			n += 8
		}
		h.Write(buf[:n])
	}
	return h.Sum64()
}

// downmix averages interleaved channels into a mono sequence.
func downmix(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float64, frames)
	inv := 1.0 / float64(channels)

	switch channels {
	case 2:
		for f := range frames {
			out[f] = (interleaved[2*f] + interleaved[2*f+1]) * 0.5
		}
	default:
		for f := range frames {
			sum := 0.0
			base := f * channels
			for c := range channels {
				sum += interleaved[base+c]
			}
			out[f] = sum * inv
		}
	}
	return out
}
