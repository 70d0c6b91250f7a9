package identify

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/freezam/internal/fingerprint"
	"github.com/himanishpuri/freezam/pkg/models"
)

type fakeSong struct {
	title string
	fp1   []float64
	fp2   [][]float64
}

// fakeCorpus is an in-memory Corpus; ids missing from songs behave like removed songs.
type fakeCorpus struct {
	maxID  uint32
	songs  map[uint32]fakeSong
	failID uint32
}

func (c *fakeCorpus) MaxSongID(context.Context) (uint32, error) { return c.maxID, nil }

func (c *fakeCorpus) FingerprintsV1(_ context.Context, id uint32) ([]float64, error) {
	if id == c.failID {
		return nil, errors.New("disk on fire")
	}
	return c.songs[id].fp1, nil
}

func (c *fakeCorpus) FingerprintsV2(_ context.Context, id uint32) ([][]float64, error) {
	if id == c.failID {
		return nil, errors.New("disk on fire")
	}
	return c.songs[id].fp2, nil
}

func (c *fakeCorpus) TitleOf(_ context.Context, id uint32) (string, error) {
	s, ok := c.songs[id]
	if !ok {
		return "", models.ErrSongNotFound
	}
	return s.title, nil
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

// singleColumn is a one-window spectrogram whose v1 fingerprint is 0.5.
func singleColumn() *fingerprint.Spectrogram {
	return &fingerprint.Spectrogram{
		Freqs:      []float64{0, 1, 2},
		Times:      []float64{5},
		Columns:    [][]float64{{0.1, 0.9, 0.2}},
		SampleRate: 4,
	}
}

func noise(seed uint64, n int) []float64 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		out[i] = r.Float64()*2 - 1
	}
	return out
}

func fingerprintsOf(t *testing.T, samples []float64, rate int) ([]float64, [][]float64) {
	t.Helper()
	s, err := fingerprint.BuildSpectrogram(samples, rate)
	require.NoError(t, err)
	fp2, err := fingerprint.OctavePeaks(s)
	require.NoError(t, err)
	return fingerprint.PeakFrequencies(s), fp2
}

func TestIdentifySingleWindowV1(t *testing.T) {
	corpus := &fakeCorpus{maxID: 1, songs: map[uint32]fakeSong{1: {title: "A", fp1: []float64{0.5}}}}

	res, err := Identify(context.Background(), corpus, singleColumn(), Options{Scheme: SchemeV1})
	require.NoError(t, err)

	assert.Equal(t, []string{"A"}, res.Titles)
	assert.Equal(t, []uint32{1}, res.SongIDs)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, []int{1}, res.Counts)
}

func TestIdentifyCrossProductV1(t *testing.T) {
	spect := &fingerprint.Spectrogram{
		Freqs:   []float64{0, 1, 2},
		Times:   []float64{5, 6},
		Columns: [][]float64{{0, 1, 0}, {0, 1, 0}},
	}
	corpus := &fakeCorpus{maxID: 2, songs: map[uint32]fakeSong{
		1: {title: "A", fp1: []float64{0.5, 0.5, 0.5}},
		2: {title: "B", fp1: []float64{0.5, 1}},
	}}

	res, err := Identify(context.Background(), corpus, spect, Options{Scheme: SchemeV1})
	require.NoError(t, err)

	// 3 stored x 2 snippet windows
	assert.Equal(t, []int{6, 2}, res.Counts)
	assert.Equal(t, []string{"A"}, res.Titles)
}

func TestIdentifyEmptyCorpus(t *testing.T) {
	_, err := Identify(context.Background(), &fakeCorpus{}, singleColumn(), Options{Scheme: SchemeV1})
	assert.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestIdentifyOnlyRemovedSongs(t *testing.T) {
	corpus := &fakeCorpus{maxID: 3, songs: map[uint32]fakeSong{}}
	_, err := Identify(context.Background(), corpus, singleColumn(), Options{Scheme: SchemeV1})
	assert.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestIdentifyTies(t *testing.T) {
	corpus := &fakeCorpus{maxID: 3, songs: map[uint32]fakeSong{
		1: {title: "A", fp1: []float64{0.5}},
		2: {title: "B", fp1: []float64{0.1}},
		3: {title: "C", fp1: []float64{0.5}},
	}}

	res, err := Identify(context.Background(), corpus, singleColumn(), Options{Scheme: SchemeV1})
	require.NoError(t, err)

	assert.Equal(t, []uint32{1, 3}, res.SongIDs)
	assert.Equal(t, []string{"A", "C"}, res.Titles)
	assert.Equal(t, 1, res.Count)
}

func TestIdentifyZeroMatchesIsAResult(t *testing.T) {
	corpus := &fakeCorpus{maxID: 3, songs: map[uint32]fakeSong{
		1: {title: "A", fp1: []float64{0.9}},
		3: {title: "C", fp1: []float64{0.1}},
	}}

	res, err := Identify(context.Background(), corpus, singleColumn(), Options{Scheme: SchemeV1})
	require.NoError(t, err)

	assert.Zero(t, res.Count)
	// id 2 has no record and is skipped
	assert.Equal(t, []string{"A", "C"}, res.Titles)
}

func TestIdentifyShortSnippet(t *testing.T) {
	corpus := &fakeCorpus{maxID: 1, songs: map[uint32]fakeSong{1: {title: "A"}}}
	empty := &fingerprint.Spectrogram{Freqs: []float64{0, 1}}

	_, err := Identify(context.Background(), corpus, empty, Options{})
	assert.ErrorIs(t, err, fingerprint.ErrInsufficientDuration)

	_, err = Identify(context.Background(), corpus, nil, Options{})
	assert.ErrorIs(t, err, fingerprint.ErrInsufficientDuration)
}

func TestIdentifyStoreFailure(t *testing.T) {
	corpus := &fakeCorpus{maxID: 4, failID: 3, songs: map[uint32]fakeSong{
		1: {title: "A", fp1: []float64{0.5}},
	}}

	_, err := Identify(context.Background(), corpus, singleColumn(), Options{Scheme: SchemeV1, Workers: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "song 3")
}

func TestIdentifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	corpus := &fakeCorpus{maxID: 2, songs: map[uint32]fakeSong{1: {title: "A"}, 2: {title: "B"}}}
	_, err := Identify(ctx, corpus, singleColumn(), Options{Scheme: SchemeV1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIdentifyV2LengthMismatchIsSkipped(t *testing.T) {
	const rate = 2048
	spect, err := fingerprint.BuildSpectrogram(noise(7, 12*rate), rate)
	require.NoError(t, err)
	fp2, err := fingerprint.OctavePeaks(spect)
	require.NoError(t, err)

	broken := [][]float64{fp2[0][:7], fp2[0]}
	corpus := &fakeCorpus{maxID: 1, songs: map[uint32]fakeSong{1: {title: "A", fp2: broken}}}
	log := &recordingLogger{}

	res, err := Identify(context.Background(), corpus, spect, Options{Logger: log})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	require.Len(t, log.lines, 1)
	assert.Contains(t, log.lines[0], "song 1")
}

func TestIdentifySnippetOfTrack(t *testing.T) {
	const rate = 2048
	trackA := noise(1, 30*rate)
	trackB := noise(99, 30*rate)

	a1, a2 := fingerprintsOf(t, trackA, rate)
	b1, b2 := fingerprintsOf(t, trackB, rate)
	corpus := &fakeCorpus{maxID: 2, songs: map[uint32]fakeSong{
		1: {title: "B", fp1: b1, fp2: b2},
		2: {title: "A", fp1: a1, fp2: a2},
	}}

	// 12 s cut from A on a hop boundary
	snippet := trackA[7*rate : 19*rate]
	spect, err := fingerprint.BuildSpectrogram(snippet, rate)
	require.NoError(t, err)

	tests := []struct {
		name string
		opts Options
	}{
		{"v1", Options{Scheme: SchemeV1}},
		{"v2", Options{Scheme: SchemeV2}},
		{"v2 all windows", Options{Scheme: SchemeV2, AllWindows: true}},
		{"v2 one worker", Options{Scheme: SchemeV2, Workers: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Identify(context.Background(), corpus, spect, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, []string{"A"}, res.Titles)
			assert.Equal(t, []uint32{2}, res.SongIDs)
			assert.Positive(t, res.Count)
		})
	}
}

func TestParseScheme(t *testing.T) {
	s, err := ParseScheme("1")
	require.NoError(t, err)
	assert.Equal(t, SchemeV1, s)

	s, err = ParseScheme("")
	require.NoError(t, err)
	assert.Equal(t, SchemeV2, s)

	_, err = ParseScheme("3")
	assert.Error(t, err)
}

// flat is an octave vector with every component v.
func flat(v float64) []float64 {
	out := make([]float64, fingerprint.Octaves)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestIdentifyQuery(t *testing.T) {
	corpus := &fakeCorpus{maxID: 2, songs: map[uint32]fakeSong{
		1: {title: "A", fp2: [][]float64{flat(0.1), flat(0.3)}},
		2: {title: "B", fp2: [][]float64{flat(0.9)}},
	}}

	t.Run("first window only", func(t *testing.T) {
		q := Query{V2: [][]float64{flat(0.9), flat(0.1)}}
		res, err := IdentifyQuery(context.Background(), corpus, q, Options{Scheme: SchemeV2})
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, res.Titles)
	})

	t.Run("all windows", func(t *testing.T) {
		q := Query{V2: [][]float64{flat(0.9), flat(0.1), flat(0.3)}}
		res, err := IdentifyQuery(context.Background(), corpus, q, Options{Scheme: SchemeV2, AllWindows: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, res.Titles)
		assert.Equal(t, []int{2, 1}, res.Counts)
	})

	t.Run("missing fingerprints", func(t *testing.T) {
		_, err := IdentifyQuery(context.Background(), corpus, Query{V2: [][]float64{flat(0.1)}}, Options{Scheme: SchemeV1})
		assert.ErrorIs(t, err, fingerprint.ErrInsufficientDuration)
	})

	t.Run("short vector", func(t *testing.T) {
		log := &recordingLogger{}
		q := Query{V2: [][]float64{flat(0.1), {0, 0, 0}}}
		_, err := IdentifyQuery(context.Background(), corpus, q, Options{Scheme: SchemeV2, Logger: log})
		assert.ErrorIs(t, err, fingerprint.ErrLengthMismatch)
		assert.Contains(t, err.Error(), "window 1")
		assert.Empty(t, log.lines)
	})
}

func TestIdentifyWarnsOncePerSong(t *testing.T) {
	stored := make([][]float64, 200)
	for i := range stored {
		stored[i] = []float64{0.5, 0.5}
	}
	corpus := &fakeCorpus{maxID: 3, songs: map[uint32]fakeSong{
		1: {title: "A", fp2: stored},
		2: {title: "B", fp2: stored},
		3: {title: "C", fp2: append([][]float64{flat(0.2)}, stored...)},
	}}
	log := &recordingLogger{}

	res, err := IdentifyQuery(context.Background(), corpus, Query{V2: [][]float64{flat(0.2)}}, Options{Scheme: SchemeV2, Logger: log})
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, res.Titles)
	assert.Len(t, log.lines, 3)
	for _, line := range log.lines {
		assert.Contains(t, line, "skipped 200")
	}
}

func TestNewQueryMatchesIdentify(t *testing.T) {
	q, err := NewQuery(singleColumn(), SchemeV1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, q.V1)
	assert.Nil(t, q.V2)

	_, err = NewQuery(nil, SchemeV2)
	assert.ErrorIs(t, err, fingerprint.ErrInsufficientDuration)
}
