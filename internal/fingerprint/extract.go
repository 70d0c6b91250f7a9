package fingerprint

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/himanishpuri/freezam/internal/audio"
)

// Octaves is the number of frequency bands of a v2 fingerprint.
const Octaves = 8

// PeakFrequencies is the v1 fingerprint: for every time column, the frequency
// of the strongest bin divided by the highest frequency of the spectrogram.
// Ties resolve to the lowest frequency. Values lie in [0, 1].
func PeakFrequencies(s *Spectrogram) []float64 {
	return peakFrequencies(s.Columns, s.Freqs, 0, len(s.Freqs))
}

// peakFrequencies applies the v1 rule to bins [lo, hi), normalising by the
// highest frequency of that range.
func peakFrequencies(columns [][]float64, freqs []float64, lo, hi int) []float64 {
	out := make([]float64, len(columns))
	if hi <= lo {
		return out
	}

	top := freqs[hi-1]
	for t, col := range columns {
		idx := floats.MaxIdx(col[lo:hi])
		if top == 0 {
			continue
		}
		out[t] = freqs[lo+idx] / top
	}
	return out
}

// OctaveBands returns the [lo, hi) bin ranges of the v2 fingerprint for a
// spectrogram with nBins bins at sampleRate. Band k spans frequencies
// [minF*2^k, minF*2^(k+1)) Hz with minF = (sampleRate/2) / 2^(Octaves+1).
func OctaveBands(sampleRate, nBins int) ([][2]int, error) {
	minF := int(math.Pow(2, -(Octaves+1)) * float64(sampleRate) / 2)
	if minF == 0 {
		return nil, fmt.Errorf("%w: sample rate %d too low for %d octaves",
			audio.ErrInputFormat, sampleRate, Octaves)
	}

	// a window of WindowSeconds resolves 1/WindowSeconds Hz per bin
	binsPerHz := WindowSeconds
	bands := make([][2]int, Octaves)
	for k := range bands {
		lo := min(minF*(1<<k)*binsPerHz, nBins)
		hi := min(minF*(1<<(k+1))*binsPerHz, nBins)
		bands[k] = [2]int{lo, hi}
	}
	return bands, nil
}

// OctavePeaks is the v2 fingerprint: one vector of Octaves values per time
// column, each the v1 rule restricted to one octave band.
func OctavePeaks(s *Spectrogram) ([][]float64, error) {
	bands, err := OctaveBands(s.SampleRate, len(s.Freqs))
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(s.Columns))
	for t := range out {
		out[t] = make([]float64, Octaves)
	}
	for k, b := range bands {
		peaks := peakFrequencies(s.Columns, s.Freqs, b[0], b[1])
		for t, v := range peaks {
			out[t][k] = v
		}
	}
	return out, nil
}
