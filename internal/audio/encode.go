package audio

import (
	"fmt"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV stores w as 16-bit mono PCM WAV at path. Samples outside [-1, 1]
// are clipped.
func WriteWAV(path string, w *Waveform) error {
	if w.SampleRate <= 0 {
		return fmt.Errorf("%w: invalid sample rate %d", ErrInputFormat, w.SampleRate)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}

	enc := wav.NewEncoder(f, w.SampleRate, 16, 1, 1)
	data := make([]int, len(w.Samples))
	for i, s := range w.Samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * 32767))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalising %s: %w", path, err)
	}
	return f.Close()
}
