package fingerprint

import (
	"context"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/freezam/internal/audio"
)

func tone(freq float64, rate int, seconds float64) []float64 {
	n := int(seconds * float64(rate))
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(rate))
	}
	return out
}

func TestBuildSpectrogramShape(t *testing.T) {
	s, err := BuildSpectrogram(tone(100, 1000, 12), 1000)
	require.NoError(t, err)

	assert.Equal(t, 3, s.NumColumns())
	assert.Equal(t, 5001, s.NumBins())
	assert.Equal(t, []float64{5, 6, 7}, s.Times)
	assert.InDelta(t, 0.1, s.Freqs[1], 1e-12)
	assert.InDelta(t, 500.0, s.Freqs[len(s.Freqs)-1], 1e-9)
	assert.Equal(t, 1000, s.SampleRate)

	for t2 := range s.Columns {
		require.Len(t, s.Columns[t2], s.NumBins())
		for f := range s.Freqs {
			assert.GreaterOrEqual(t, s.Power(f, t2), 0.0)
		}
	}
}

func TestBuildSpectrogramExactWindow(t *testing.T) {
	s, err := BuildSpectrogram(tone(100, 1000, 10), 1000)
	require.NoError(t, err)
	assert.Equal(t, 1, s.NumColumns())
	assert.Equal(t, []float64{5}, s.Times)
}

func TestBuildSpectrogramPowerDensity(t *testing.T) {
	s, err := BuildSpectrogram(tone(100, 1000, 10), 1000)
	require.NoError(t, err)

	// integrated density of a unit sine is its mean square, 1/2
	df := s.Freqs[1] - s.Freqs[0]
	total := 0.0
	for f := range s.Freqs {
		total += s.Power(f, 0) * df
	}
	assert.InDelta(t, 0.5, total, 0.01)

	peak := 0
	for f := range s.Freqs {
		if s.Power(f, 0) > s.Power(peak, 0) {
			peak = f
		}
	}
	assert.InDelta(t, 100.0, s.Freqs[peak], 1e-9)
}

func TestBuildSpectrogramErrors(t *testing.T) {
	_, err := BuildSpectrogram(tone(100, 1000, 9.999), 1000)
	assert.ErrorIs(t, err, ErrInsufficientDuration)
	assert.ErrorIs(t, err, audio.ErrInputFormat)

	_, err = BuildSpectrogram(nil, 1000)
	assert.ErrorIs(t, err, audio.ErrInputFormat)

	_, err = BuildSpectrogram(tone(100, 1000, 12), 0)
	assert.ErrorIs(t, err, audio.ErrInputFormat)
}

func TestBuildSpectrogramCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FromWaveform(ctx, &audio.Waveform{SampleRate: 1000, Samples: tone(100, 1000, 20)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestComputeSpectrogramFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, audio.WriteWAV(path, &audio.Waveform{SampleRate: 2048, Samples: tone(300, 2048, 11)}))

	s, err := ComputeSpectrogram(context.Background(), path, audio.DecodeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, s.NumColumns())
	assert.Equal(t, 2048, s.SampleRate)
}

func TestPeakFrequencies(t *testing.T) {
	s, err := BuildSpectrogram(tone(100, 1000, 12), 1000)
	require.NoError(t, err)

	fp := PeakFrequencies(s)
	require.Len(t, fp, s.NumColumns())
	for _, v := range fp {
		assert.InDelta(t, 0.2, v, 1e-9)
	}
}

func TestPeakFrequenciesRange(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	noise := make([]float64, 15000)
	for i := range noise {
		noise[i] = r.Float64()*2 - 1
	}

	s, err := BuildSpectrogram(noise, 1000)
	require.NoError(t, err)

	for _, v := range PeakFrequencies(s) {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestPeakFrequenciesSilence(t *testing.T) {
	// constant input is removed by detrending, every bin ties at zero
	flat := make([]float64, 10000)
	for i := range flat {
		flat[i] = 0.25
	}
	s, err := BuildSpectrogram(flat, 1000)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, PeakFrequencies(s))
}

func TestOctaveBands(t *testing.T) {
	bands, err := OctaveBands(2048, 10241)
	require.NoError(t, err)
	require.Len(t, bands, Octaves)

	assert.Equal(t, [2]int{20, 40}, bands[0])
	assert.Equal(t, [2]int{2560, 5120}, bands[7])
	for k := 1; k < Octaves; k++ {
		assert.Equal(t, bands[k-1][1], bands[k][0], "bands must be contiguous")
	}

	clamped, err := OctaveBands(2048, 3000)
	require.NoError(t, err)
	assert.Equal(t, [2]int{2560, 3000}, clamped[7])

	_, err = OctaveBands(1000, 5001)
	assert.ErrorIs(t, err, audio.ErrInputFormat)
}

func TestOctavePeaks(t *testing.T) {
	s, err := BuildSpectrogram(tone(300, 2048, 12), 2048)
	require.NoError(t, err)

	fp, err := OctavePeaks(s)
	require.NoError(t, err)
	require.Len(t, fp, s.NumColumns())

	for _, vec := range fp {
		require.Len(t, vec, Octaves)
		for _, v := range vec {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		// 300 Hz sits in the top band [256, 512) Hz
		assert.InDelta(t, 300.0/s.Freqs[5119], vec[7], 1e-9)
	}
}

func TestOctavePeaksLowSampleRate(t *testing.T) {
	s, err := BuildSpectrogram(tone(100, 1000, 10), 1000)
	require.NoError(t, err)

	_, err = OctavePeaks(s)
	assert.ErrorIs(t, err, audio.ErrInputFormat)
}

func TestMatch(t *testing.T) {
	assert.True(t, Match(0.5, 0.5))
	assert.True(t, Match(0, 0))
	assert.False(t, Match(0.5, 0.5000001))
	assert.False(t, Match(0.2, 0.4))
}

func TestMatch2(t *testing.T) {
	v := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8}

	ok, err := Match2(v, v)
	require.NoError(t, err)
	assert.True(t, ok)

	near := append([]float64(nil), v...)
	near[0] += 0.05
	ok, err = Match2(v, near)
	require.NoError(t, err)
	assert.True(t, ok)

	far := append([]float64(nil), v...)
	far[3] += 0.2
	ok, err = Match2(v, far)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Match2(v, v[:7])
	assert.ErrorIs(t, err, ErrLengthMismatch)
}
