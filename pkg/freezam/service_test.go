package freezam

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/himanishpuri/freezam/internal/audio"
	"github.com/himanishpuri/freezam/internal/fingerprint"
	"github.com/himanishpuri/freezam/internal/storage"
	"github.com/himanishpuri/freezam/pkg/logger"
	"github.com/himanishpuri/freezam/pkg/models"
)

const testRate = 2048

func noise(seed uint64, seconds int) []float64 {
	r := rand.New(rand.NewPCG(seed, 42))
	out := make([]float64, seconds*testRate)
	for i := range out {
		out[i] = r.Float64() - 0.5
	}
	return out
}

func writeTrack(t *testing.T, dir, name string, samples []float64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := audio.WriteWAV(path, &audio.Waveform{SampleRate: testRate, Samples: samples}); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func newTestService(t *testing.T, opts ...Option) Service {
	t.Helper()
	dir := t.TempDir()
	opts = append([]Option{
		WithDBPath(filepath.Join(dir, "corpus.sqlite3")),
		WithTempDir(dir),
		WithLogger(logger.Nop()),
		WithWorkers(2),
	}, opts...)

	svc, err := NewService(opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestAddAndIdentify(t *testing.T) {
	for _, backend := range []string{"sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			opts := []Option{WithBackend(backend)}
			if backend == "badger" {
				opts = append(opts, WithDBPath(t.TempDir()))
			}
			svc := newTestService(t, opts...)
			dir := t.TempDir()

			trackA := noise(1, 25)
			trackB := noise(2, 25)
			for name, samples := range map[string][]float64{"Alpha.wav": trackA, "Bravo.wav": trackB} {
				song, err := svc.AddSong(context.Background(), writeTrack(t, dir, name, samples))
				if err != nil {
					t.Fatalf("AddSong(%s): %v", name, err)
				}
				if !song.Fingerprinted {
					t.Errorf("%s not marked fingerprinted", name)
				}
				if song.DurationMs != 25000 {
					t.Errorf("%s duration = %d ms", name, song.DurationMs)
				}
			}

			snippet := writeTrack(t, dir, "snippet.wav", trackB[5*testRate:17*testRate])

			for _, scheme := range []Scheme{SchemeV1, SchemeV2} {
				res, err := svc.Identify(context.Background(), snippet, IdentifyOptions{Scheme: scheme})
				if err != nil {
					t.Fatalf("Identify(%v): %v", scheme, err)
				}
				if len(res.Titles) != 1 || res.Titles[0] != "Bravo" {
					t.Errorf("Identify(%v) = %v (count %d)", scheme, res.Titles, res.Count)
				}
			}
		})
	}
}

func TestAddSongSkipsDuplicateAudio(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	samples := noise(3, 12)

	first, err := svc.AddSong(context.Background(), writeTrack(t, dir, "Original.wav", samples))
	if err != nil {
		t.Fatal(err)
	}
	again, err := svc.AddSong(context.Background(), writeTrack(t, dir, "Copy.wav", samples))
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID || again.Title != "Original" {
		t.Errorf("duplicate audio stored as %+v", again)
	}

	songs, _ := svc.ListSongs()
	if len(songs) != 1 {
		t.Errorf("expected 1 song, got %d", len(songs))
	}
}

func TestReAddAfterNewRecordingWithSameTitle(t *testing.T) {
	for _, backend := range []string{"sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			opts := []Option{WithBackend(backend)}
			if backend == "badger" {
				opts = append(opts, WithDBPath(t.TempDir()))
			}
			svc := newTestService(t, opts...)
			ctx := context.Background()

			first := noise(21, 20)
			pathA := writeTrack(t, t.TempDir(), "Song.wav", first)
			pathB := writeTrack(t, t.TempDir(), "Song.wav", noise(22, 20))

			a, err := svc.AddSong(ctx, pathA)
			if err != nil {
				t.Fatal(err)
			}
			b, err := svc.AddSong(ctx, pathB)
			if err != nil {
				t.Fatal(err)
			}
			if b.ID == a.ID {
				t.Fatalf("second recording reused song %d", a.ID)
			}

			again, err := svc.AddSong(ctx, pathA)
			if err != nil {
				t.Fatal(err)
			}
			if again.ID != a.ID {
				t.Errorf("re-adding the first recording returned song %d, want %d", again.ID, a.ID)
			}

			snippet := writeTrack(t, t.TempDir(), "cut.wav", first[4*testRate:16*testRate])
			res, err := svc.Identify(ctx, snippet, IdentifyOptions{Scheme: SchemeV1})
			if err != nil {
				t.Fatal(err)
			}
			if res.Count == 0 || len(res.SongIDs) != 1 || res.SongIDs[0] != a.ID {
				t.Errorf("Identify = %+v, want song %d", res, a.ID)
			}
		})
	}
}

// flakyStorage fails StoreWindows while failWrites is set.
type flakyStorage struct {
	Storage
	failWrites atomic.Bool
}

func (f *flakyStorage) StoreWindows(ctx context.Context, songID uint32, times, fp1 []float64, fp2 [][]float64) error {
	if f.failWrites.Load() {
		return errors.New("disk full")
	}
	return f.Storage.StoreWindows(ctx, songID, times, fp1, fp2)
}

func TestFailedWindowWriteKeepsExistingSongs(t *testing.T) {
	store, err := storage.Open(storage.BackendSQLite, filepath.Join(t.TempDir(), "corpus.sqlite3"))
	if err != nil {
		t.Fatal(err)
	}
	flaky := &flakyStorage{Storage: store}
	svc := newTestService(t, WithStorage(flaky))
	ctx := context.Background()
	dir := t.TempDir()

	good, err := svc.AddSong(ctx, writeTrack(t, dir, "Song.wav", noise(31, 12)))
	if err != nil {
		t.Fatal(err)
	}
	legacyID, _, err := store.RegisterSong(models.Song{Title: "Legacy"})
	if err != nil {
		t.Fatal(err)
	}

	flaky.failWrites.Store(true)
	if _, err := svc.AddSong(ctx, writeTrack(t, t.TempDir(), "Song.wav", noise(32, 12))); err == nil {
		t.Fatal("expected the window write to fail")
	}
	if _, err := svc.AddSong(ctx, writeTrack(t, dir, "Legacy.wav", noise(33, 12))); err == nil {
		t.Fatal("expected the window write to fail")
	}

	songs, err := svc.ListSongs()
	if err != nil {
		t.Fatal(err)
	}
	if len(songs) != 2 {
		t.Errorf("songs after failed ingests = %+v, want the original two", songs)
	}
	for _, id := range []uint32{good.ID, legacyID} {
		if _, err := svc.GetSongByID(id); err != nil {
			t.Errorf("GetSongByID(%d): %v", id, err)
		}
	}
	if n, err := store.WindowCount(good.ID); err != nil || n != 3 {
		t.Errorf("WindowCount(%d) = %d, %v; want 3", good.ID, n, err)
	}
}

func TestAddSongTooShort(t *testing.T) {
	svc := newTestService(t)
	path := writeTrack(t, t.TempDir(), "short.wav", noise(4, 5))

	if _, err := svc.AddSong(context.Background(), path); !errors.Is(err, ErrInsufficientDuration) {
		t.Fatalf("expected ErrInsufficientDuration, got %v", err)
	}
	songs, _ := svc.ListSongs()
	if len(songs) != 0 {
		t.Errorf("short song was registered: %+v", songs)
	}
}

func TestAddSongBadInput(t *testing.T) {
	svc := newTestService(t)
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AddSong(context.Background(), path); !errors.Is(err, ErrInputFormat) {
		t.Fatalf("expected ErrInputFormat, got %v", err)
	}
}

func TestIdentifyEmptyCorpus(t *testing.T) {
	svc := newTestService(t)
	path := writeTrack(t, t.TempDir(), "q.wav", noise(5, 11))

	if _, err := svc.Identify(context.Background(), path, IdentifyOptions{}); !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestIdentifySamples(t *testing.T) {
	svc := newTestService(t)
	track := noise(6, 15)
	if _, err := svc.AddSong(context.Background(), writeTrack(t, t.TempDir(), "Solo.wav", track)); err != nil {
		t.Fatal(err)
	}

	// a quantised copy matches bit for bit
	path := writeTrack(t, t.TempDir(), "q.wav", track[2*testRate:13*testRate])
	w, err := audio.Decode(context.Background(), path, audio.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}

	res, err := svc.IdentifySamples(context.Background(), w.Samples, w.SampleRate, IdentifyOptions{Scheme: SchemeV2, AllWindows: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Count == 0 || res.Titles[0] != "Solo" {
		t.Errorf("IdentifySamples = %+v", res)
	}

	if _, err := svc.IdentifySamples(context.Background(), w.Samples[:testRate], w.SampleRate, IdentifyOptions{}); !errors.Is(err, ErrInsufficientDuration) {
		t.Errorf("expected ErrInsufficientDuration, got %v", err)
	}
}

func TestIdentifyFingerprints(t *testing.T) {
	svc := newTestService(t)
	track := noise(11, 14)
	path := writeTrack(t, t.TempDir(), "Remote.wav", track)
	if _, err := svc.AddSong(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	w, err := audio.Decode(context.Background(), path, audio.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	spect, err := fingerprint.FromWaveform(context.Background(), w)
	if err != nil {
		t.Fatal(err)
	}
	fp2, err := fingerprint.OctavePeaks(spect)
	if err != nil {
		t.Fatal(err)
	}

	q := Query{V1: fingerprint.PeakFrequencies(spect), V2: fp2}
	for _, scheme := range []Scheme{SchemeV1, SchemeV2} {
		res, err := svc.IdentifyFingerprints(context.Background(), q, IdentifyOptions{Scheme: scheme})
		if err != nil {
			t.Fatalf("%v: %v", scheme, err)
		}
		if len(res.Titles) != 1 || res.Titles[0] != "Remote" {
			t.Errorf("%v: got %+v", scheme, res)
		}
	}

	if _, err := svc.IdentifyFingerprints(context.Background(), Query{}, IdentifyOptions{}); !errors.Is(err, ErrInsufficientDuration) {
		t.Errorf("expected ErrInsufficientDuration, got %v", err)
	}
}

func TestConstruct(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	writeTrack(t, dir, "One.wav", noise(7, 11))
	writeTrack(t, dir, "Two.wav", noise(8, 11))
	writeTrack(t, dir, "Tiny.wav", noise(9, 2))
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var seen []ConstructProgress
	report, err := svc.Construct(context.Background(), dir, func(p ConstructProgress) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, p)
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}

	if report.Added != 2 || len(report.Failed) != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, ok := report.Failed[filepath.Join(dir, "Tiny.wav")]; !ok {
		t.Errorf("Tiny.wav should fail, failures: %v", report.Failed)
	}
	if len(seen) != 3 || seen[2].Done != 3 || seen[2].Total != 3 {
		t.Errorf("progress = %+v", seen)
	}

	// a second run finds everything already stored
	report, err = svc.Construct(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if report.Added != 0 || report.Skipped != 2 {
		t.Errorf("second report = %+v", report)
	}
}

func TestMetadataAndRemoval(t *testing.T) {
	svc := newTestService(t)
	dir := t.TempDir()
	a, err := svc.AddSong(context.Background(), writeTrack(t, dir, "Keep.wav", noise(10, 11)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := svc.AddSong(context.Background(), writeTrack(t, dir, "Drop.wav", noise(11, 11)))
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.UpdateMetadata("Keep", "Artist", "Album"); err != nil {
		t.Fatal(err)
	}
	song, err := svc.GetSongByID(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if song.Artist != "Artist" || song.Album != "Album" {
		t.Errorf("metadata not updated: %+v", song)
	}
	if err := svc.UpdateMetadata("Keep", "", ""); err == nil {
		t.Error("empty update should fail")
	}
	if err := svc.UpdateMetadata("Nope", "x", ""); !errors.Is(err, ErrSongNotFound) {
		t.Errorf("expected ErrSongNotFound, got %v", err)
	}

	if n, err := svc.RemoveSong("Drop"); err != nil || n != 1 {
		t.Fatalf("RemoveSong = %d, %v", n, err)
	}
	if _, err := svc.GetSongByID(b.ID); !errors.Is(err, ErrSongNotFound) {
		t.Errorf("removed song still present: %v", err)
	}

	if n, err := svc.RemoveDuplicates(); err != nil || n != 0 {
		t.Errorf("RemoveDuplicates = %d, %v", n, err)
	}
	if n, err := svc.RemoveUnfingerprinted(); err != nil || n != 0 {
		t.Errorf("RemoveUnfingerprinted = %d, %v", n, err)
	}
	if err := svc.RemoveSongByID(a.ID); err != nil {
		t.Errorf("RemoveSongByID: %v", err)
	}
}

func TestParseScheme(t *testing.T) {
	if s, err := ParseScheme("1"); err != nil || s != SchemeV1 {
		t.Errorf("ParseScheme(1) = %v, %v", s, err)
	}
	if _, err := ParseScheme("x"); err == nil {
		t.Error("expected error")
	}
}
