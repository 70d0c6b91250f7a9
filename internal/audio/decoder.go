package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// Decoder turns an encoded stream into a mono Waveform.
type Decoder interface {
	Decode(r io.ReadSeeker) (*Waveform, error)
}

// Registry maps lower-case file extensions (".wav") to decoders.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Decoder
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

func (r *Registry) Register(ext string, d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[strings.ToLower(ext)] = d
}

func (r *Registry) Get(ext string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.codecs[strings.ToLower(ext)]
	return d, ok
}

// DefaultRegistry knows the formats that decode natively in Go.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(".wav", WAVDecoder{})
	r.Register(".wave", WAVDecoder{})
	r.Register(".aif", AIFFDecoder{})
	r.Register(".aiff", AIFFDecoder{})
	r.Register(".mp3", MP3Decoder{})
	r.Register(".ogg", VorbisDecoder{})
	return r
}

type DecodeOptions struct {
	// Registry used for native decoding; DefaultRegistry when nil.
	Registry *Registry
	// TempDir receives ffmpeg conversions of formats with no native decoder.
	TempDir string
	// SampleRate for ffmpeg conversions. Native decodes keep the file's rate.
	SampleRate int
}

// Decode reads path into a mono waveform. Formats without a registered decoder
// are converted to mono WAV with ffmpeg first. Every failure wraps ErrInputFormat.
func Decode(ctx context.Context, path string, opts DecodeOptions) (*Waveform, error) {
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}

	ext := strings.ToLower(filepath.Ext(path))
	if dec, ok := reg.Get(ext); ok {
		return decodeFile(path, dec)
	}

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	wavPath, err := ConvertToMonoWAV(ctx, path, tempDir, ConvertWAVConfig{SampleRate: opts.SampleRate})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInputFormat, path, err)
	}
	defer os.Remove(wavPath)

	return decodeFile(wavPath, WAVDecoder{})
}

func decodeFile(path string, dec Decoder) (*Waveform, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputFormat, err)
	}
	defer f.Close()

	w, err := dec.Decode(f)
	if err != nil {
		if errors.Is(err, ErrInputFormat) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInputFormat, path, err)
	}
	if w.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %s: invalid sample rate %d", ErrInputFormat, path, w.SampleRate)
	}
	if len(w.Samples) == 0 {
		return nil, fmt.Errorf("%w: %s: no samples", ErrInputFormat, path)
	}
	return w, nil
}

// intScale is the divisor that maps signed PCM of the given bit depth to [-1, 1].
func intScale(bitDepth int) float64 {
	switch bitDepth {
	case 8:
		return 128.0
	case 24:
		return 8388608.0
	case 32:
		return 2147483648.0
	default:
		return 32768.0
	}
}

func intsToFloat(data []int, bitDepth int, unsigned8 bool) []float64 {
	scale := intScale(bitDepth)
	out := make([]float64, len(data))
	for i, v := range data {
		if unsigned8 {
			v -= 128
		}
		out[i] = float64(v) / scale
	}
	return out
}

// WAVDecoder decodes PCM WAV files with go-audio/wav.
type WAVDecoder struct{}

func (WAVDecoder) Decode(r io.ReadSeeker) (*Waveform, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV file", ErrInputFormat)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}

	channels := int(d.NumChans)
	if channels < 1 {
		return nil, fmt.Errorf("%w: WAV reports %d channels", ErrInputFormat, channels)
	}

	// 8-bit WAV is unsigned
	bitDepth := int(d.BitDepth)
	samples := intsToFloat(buf.Data, bitDepth, bitDepth == 8)

	return &Waveform{
		SampleRate: int(d.SampleRate),
		Samples:    downmix(samples, channels),
	}, nil
}

// AIFFDecoder decodes AIFF files with go-audio/aiff.
type AIFFDecoder struct{}

func (AIFFDecoder) Decode(r io.ReadSeeker) (*Waveform, error) {
	d := aiff.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid AIFF file", ErrInputFormat)
	}
	d.ReadInfo()

	format := d.Format()
	if format == nil || format.NumChannels < 1 {
		return nil, fmt.Errorf("%w: unsupported AIFF layout", ErrInputFormat)
	}

	chunk := &goaudio.IntBuffer{Data: make([]int, 4096*format.NumChannels), Format: format}
	var data []int
	for {
		n, err := d.PCMBuffer(chunk)
		if n > 0 {
			data = append(data, chunk.Data[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading AIFF samples: %w", err)
		}
		if n == 0 {
			break
		}
	}

	samples := intsToFloat(data, int(d.BitDepth), false)
	return &Waveform{
		SampleRate: format.SampleRate,
		Samples:    downmix(samples, format.NumChannels),
	}, nil
}

// MP3Decoder decodes MPEG-1/2 layer III with go-mp3, which always yields
// 16-bit little-endian stereo.
type MP3Decoder struct{}

func (MP3Decoder) Decode(r io.ReadSeeker) (*Waveform, error) {
	d, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("opening mp3 stream: %w", err)
	}

	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("reading mp3 stream: %w", err)
	}

	const channels = 2
	interleaved := make([]float64, len(raw)/2)
	for i := range interleaved {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		interleaved[i] = float64(v) / 32768.0
	}

	return &Waveform{
		SampleRate: d.SampleRate(),
		Samples:    downmix(interleaved, channels),
	}, nil
}

// VorbisDecoder decodes Ogg Vorbis with jfreymuth/oggvorbis.
type VorbisDecoder struct{}

func (VorbisDecoder) Decode(r io.ReadSeeker) (*Waveform, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading ogg vorbis stream: %w", err)
	}
	if format.Channels < 1 {
		return nil, fmt.Errorf("%w: vorbis stream reports %d channels", ErrInputFormat, format.Channels)
	}

	interleaved := make([]float64, len(data))
	for i, v := range data {
		interleaved[i] = float64(v)
	}

	return &Waveform{
		SampleRate: format.SampleRate,
		Samples:    downmix(interleaved, format.Channels),
	}, nil
}
