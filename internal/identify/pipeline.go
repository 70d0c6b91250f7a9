// Package identify scans a reference corpus for the songs whose stored
// fingerprints best agree with a snippet's.
package identify

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/freezam/internal/fingerprint"
	"github.com/himanishpuri/freezam/pkg/models"
)

// Corpus is the read side of a reference store. Song ids run from 1 to
// MaxSongID; an id without a song record yields empty fingerprints and
// models.ErrSongNotFound from TitleOf.
type Corpus interface {
	MaxSongID(ctx context.Context) (uint32, error)
	FingerprintsV1(ctx context.Context, songID uint32) ([]float64, error)
	FingerprintsV2(ctx context.Context, songID uint32) ([][]float64, error)
	TitleOf(ctx context.Context, songID uint32) (string, error)
}

// Scheme selects the fingerprint and matcher pair.
type Scheme int

const (
	SchemeV2 Scheme = iota // max power per octave, default
	SchemeV1               // peak frequency
)

func (s Scheme) String() string {
	switch s {
	case SchemeV1:
		return "v1"
	case SchemeV2:
		return "v2"
	}
	return fmt.Sprintf("Scheme(%d)", int(s))
}

// ParseScheme maps the CLI's "1"/"2" (or "v1"/"v2") to a Scheme.
func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "1", "v1":
		return SchemeV1, nil
	case "2", "v2", "":
		return SchemeV2, nil
	}
	return 0, fmt.Errorf("unknown fingerprint type %q (want 1 or 2)", s)
}

// Logger receives warnings about skipped comparisons.
type Logger interface {
	Warnf(format string, args ...any)
}

type Options struct {
	Scheme Scheme
	// AllWindows counts a stored v2 window when it matches any snippet
	// window instead of only the first one.
	AllWindows bool
	// Workers bounds concurrent per-song scans; GOMAXPROCS when <= 0.
	Workers int
	Logger  Logger
}

// Result of a corpus scan. Counts[i] is the number of matches of song i+1.
// Count is the maximum; SongIDs (ascending) and Titles are the songs that
// reach it. A zero Count means nothing matched and every song ties.
type Result struct {
	SongIDs []uint32
	Titles  []string
	Count   int
	Counts  []int
}

// Query holds snippet fingerprints computed elsewhere, such as in a browser.
// Only the field of the selected scheme is read.
type Query struct {
	V1 []float64   `json:"v1,omitempty"`
	V2 [][]float64 `json:"v2,omitempty"`
}

// NewQuery fingerprints spect with the given scheme.
func NewQuery(spect *fingerprint.Spectrogram, scheme Scheme) (Query, error) {
	if spect == nil || spect.NumColumns() == 0 {
		return Query{}, fingerprint.ErrInsufficientDuration
	}
	switch scheme {
	case SchemeV1:
		return Query{V1: fingerprint.PeakFrequencies(spect)}, nil
	case SchemeV2:
		fp2, err := fingerprint.OctavePeaks(spect)
		if err != nil {
			return Query{}, err
		}
		return Query{V2: fp2}, nil
	}
	return Query{}, fmt.Errorf("unknown scheme %v", scheme)
}

// Identify fingerprints spect with the chosen scheme and counts, for every
// song in corpus, the stored windows the matcher accepts.
func Identify(ctx context.Context, corpus Corpus, spect *fingerprint.Spectrogram, opts Options) (*Result, error) {
	q, err := NewQuery(spect, opts.Scheme)
	if err != nil {
		return nil, err
	}
	return IdentifyQuery(ctx, corpus, q, opts)
}

// IdentifyQuery runs the corpus scan for precomputed snippet fingerprints.
func IdentifyQuery(ctx context.Context, corpus Corpus, q Query, opts Options) (*Result, error) {
	snippet1, snippet2 := q.V1, q.V2
	switch opts.Scheme {
	case SchemeV1:
		if len(snippet1) == 0 {
			return nil, fingerprint.ErrInsufficientDuration
		}
	case SchemeV2:
		if len(snippet2) == 0 {
			return nil, fingerprint.ErrInsufficientDuration
		}
		for i, v := range snippet2 {
			if len(v) != fingerprint.Octaves {
				return nil, fmt.Errorf("%w: snippet window %d has %d components, want %d",
					fingerprint.ErrLengthMismatch, i, len(v), fingerprint.Octaves)
			}
		}
		if !opts.AllWindows {
			snippet2 = snippet2[:1]
		}
	default:
		return nil, fmt.Errorf("unknown scheme %v", opts.Scheme)
	}

	maxID, err := corpus.MaxSongID(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading corpus size: %w", err)
	}
	if maxID == 0 {
		return nil, ErrEmptyCorpus
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	counts := make([]int, maxID)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for id := uint32(1); id <= maxID; id++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			var n int
			switch opts.Scheme {
			case SchemeV1:
				stored, err := corpus.FingerprintsV1(gctx, id)
				if err != nil {
					return fmt.Errorf("loading v1 fingerprints of song %d: %w", id, err)
				}
				n = countV1(stored, snippet1)
			default:
				stored, err := corpus.FingerprintsV2(gctx, id)
				if err != nil {
					return fmt.Errorf("loading v2 fingerprints of song %d: %w", id, err)
				}
				n = countV2(stored, snippet2, id, opts.Logger)
			}
			counts[id-1] = n
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := 0
	for _, c := range counts {
		best = max(best, c)
	}

	res := &Result{Count: best, Counts: counts}
	for i, c := range counts {
		if c != best {
			continue
		}
		id := uint32(i + 1)
		title, err := corpus.TitleOf(ctx, id)
		if errors.Is(err, models.ErrSongNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving title of song %d: %w", id, err)
		}
		res.SongIDs = append(res.SongIDs, id)
		res.Titles = append(res.Titles, title)
	}

	if len(res.SongIDs) == 0 {
		return nil, ErrEmptyCorpus
	}
	return res, nil
}

// countV1 counts every (stored, snippet) pair accepted by Match.
func countV1(stored, snippet []float64) int {
	n := 0
	for _, a := range stored {
		for _, b := range snippet {
			if fingerprint.Match(a, b) {
				n++
			}
		}
	}
	return n
}

// countV2 counts stored windows accepted by Match2 against any snippet
// window. Vectors of the wrong length are skipped and reported once per song.
func countV2(stored, snippet [][]float64, songID uint32, log Logger) int {
	n, skipped := 0, 0
	var firstErr error
	for _, a := range stored {
		for _, b := range snippet {
			ok, err := fingerprint.Match2(a, b)
			if err != nil {
				if skipped == 0 {
					firstErr = err
				}
				skipped++
				break
			}
			if ok {
				n++
				break
			}
		}
	}
	if skipped > 0 && log != nil {
		log.Warnf("song %d: skipped %d of %d windows: %v", songID, skipped, len(stored), firstErr)
	}
	return n
}
