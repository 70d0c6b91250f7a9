package fingerprint

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/freezam/internal/audio"
)

// Analysis parameters. Windows are WindowSeconds long and advance by
// HopSeconds, whatever the sample rate.
const (
	WindowSeconds = 10
	HopSeconds    = 1
)

// Spectrogram is a one-sided power spectral density over overlapping windows.
// Columns is time-major: Columns[t][f] is the power at Freqs[f] for the
// window centred at Times[t].
type Spectrogram struct {
	Freqs      []float64
	Times      []float64
	Columns    [][]float64
	SampleRate int
}

// Power returns the power at frequency bin f of time column t.
func (s *Spectrogram) Power(f, t int) float64 { return s.Columns[t][f] }

// NumBins is the number of frequency bins per column.
func (s *Spectrogram) NumBins() int { return len(s.Freqs) }

// NumColumns is the number of analysis windows.
func (s *Spectrogram) NumColumns() int { return len(s.Times) }

// PeriodicHamming returns the DFT-even Hamming window 0.54 - 0.46*cos(2*pi*n/L).
func PeriodicHamming(L int) []float64 {
	w := make([]float64, L)
	for n := range w {
		w[n] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/float64(L))
	}
	return w
}

// BuildSpectrogram computes the power spectrogram of a mono waveform using
// windows of WindowSeconds*sampleRate samples, hop HopSeconds*sampleRate,
// constant detrending per window and a periodic Hamming taper.
func BuildSpectrogram(samples []float64, sampleRate int) (*Spectrogram, error) {
	return buildSpectrogram(context.Background(), samples, sampleRate)
}

func buildSpectrogram(ctx context.Context, samples []float64, sampleRate int) (*Spectrogram, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid sample rate %d", audio.ErrInputFormat, sampleRate)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", audio.ErrInputFormat)
	}

	L := WindowSeconds * sampleRate
	H := HopSeconds * sampleRate
	if len(samples) < L {
		return nil, fmt.Errorf("%w: %d samples, need at least %d (%w)",
			ErrInsufficientDuration, len(samples), L, audio.ErrInputFormat)
	}

	nCols := (len(samples)-L)/H + 1
	nBins := L/2 + 1
	fs := float64(sampleRate)

	taper := PeriodicHamming(L)
	wss := 0.0
	for _, v := range taper {
		wss += v * v
	}
	scale := 1.0 / (fs * wss)

	spect := &Spectrogram{
		Freqs:      make([]float64, nBins),
		Times:      make([]float64, nCols),
		Columns:    make([][]float64, nCols),
		SampleRate: sampleRate,
	}
	for k := range spect.Freqs {
		spect.Freqs[k] = float64(k) * fs / float64(L)
	}
	for c := range spect.Times {
		spect.Times[c] = float64(L/2+c*H) / fs
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for c := 0; c < nCols; c++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			start := c * H
			frame := make([]float64, L)
			copy(frame, samples[start:start+L])

			mean := 0.0
			for _, v := range frame {
				mean += v
			}
			mean /= float64(L)
			for i := range frame {
				frame[i] -= mean
			}

			window.Apply(frame, func(int) []float64 { return taper })
			spectrum := fft.FFTReal(frame)

			col := make([]float64, nBins)
			for k := range col {
				re, im := real(spectrum[k]), imag(spectrum[k])
				p := (re*re + im*im) * scale
				// one-sided: fold negative frequencies, except DC and Nyquist (L is even)
				if k > 0 && k < L/2 {
					p *= 2
				}
				col[k] = p
			}
			spect.Columns[c] = col
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return spect, nil
}

// ComputeSpectrogram decodes the audio file at path and builds its spectrogram.
func ComputeSpectrogram(ctx context.Context, path string, opts audio.DecodeOptions) (*Spectrogram, error) {
	w, err := audio.Decode(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return buildSpectrogram(ctx, w.Samples, w.SampleRate)
}

// FromWaveform builds the spectrogram of an already decoded waveform.
func FromWaveform(ctx context.Context, w *audio.Waveform) (*Spectrogram, error) {
	return buildSpectrogram(ctx, w.Samples, w.SampleRate)
}
