package freezam

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/himanishpuri/freezam/internal/audio"
	"github.com/himanishpuri/freezam/internal/fingerprint"
	"github.com/himanishpuri/freezam/internal/identify"
	"github.com/himanishpuri/freezam/internal/storage"
	"github.com/himanishpuri/freezam/pkg/logger"
	"github.com/himanishpuri/freezam/pkg/models"
)

// freezamService is the default implementation of the Service interface.
type freezamService struct {
	storage Storage
	log     Logger
	config  *Config
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}

	stor := cfg.Storage
	if stor == nil {
		var err error
		stor, err = storage.Open(cfg.Backend, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &freezamService{
		storage: stor,
		log:     cfg.Logger,
		config:  cfg,
	}, nil
}

func (s *freezamService) decodeOptions() audio.DecodeOptions {
	return audio.DecodeOptions{
		TempDir:    s.config.TempDir,
		SampleRate: s.config.SampleRate,
	}
}

// AddSong decodes, fingerprints and stores the audio file at audioPath.
// Title, artist and album come from the file's tags.
func (s *freezamService) AddSong(ctx context.Context, audioPath string) (*models.Song, error) {
	song, _, err := s.ingest(ctx, audioPath, audio.ReadMetadata(audioPath))
	return song, err
}

// AddSongFromURL downloads the audio behind url and ingests it.
func (s *freezamService) AddSongFromURL(ctx context.Context, url string) (*models.Song, error) {
	s.log.Infof("Downloading %s", url)

	path, meta, err := audio.DownloadAudio(ctx, url, s.config.TempDir)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	song, _, err := s.ingest(ctx, path, meta)
	return song, err
}

// ingest stores one file. skipped is true when a fingerprinted song with the
// same decoded audio already exists; that song is returned.
func (s *freezamService) ingest(ctx context.Context, audioPath string, meta models.Metadata) (song *models.Song, skipped bool, err error) {
	s.log.Debugf("Processing %s", audioPath)

	w, err := audio.Decode(ctx, audioPath, s.decodeOptions())
	if err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", audioPath, err)
	}

	sum := w.Checksum()
	existing, err := s.storage.FindByChecksum(sum)
	switch {
	case err == nil && existing.Fingerprinted:
		s.log.Infof("Skipping %s: already stored as song %d (%s)", audioPath, existing.ID, existing.Title)
		return existing, true, nil
	case err != nil && !errors.Is(err, models.ErrSongNotFound):
		return nil, false, fmt.Errorf("checking for duplicates: %w", err)
	}

	spect, err := fingerprint.FromWaveform(ctx, w)
	if err != nil {
		return nil, false, fmt.Errorf("spectrogram of %s: %w", audioPath, err)
	}
	fp1 := fingerprint.PeakFrequencies(spect)
	fp2, err := fingerprint.OctavePeaks(spect)
	if err != nil {
		return nil, false, fmt.Errorf("fingerprinting %s: %w", audioPath, err)
	}

	songID, created, err := s.storage.RegisterSong(models.Song{
		Title:      meta.Title,
		Artist:     meta.Artist,
		Album:      meta.Album,
		Path:       audioPath,
		URL:        meta.URL,
		Checksum:   sum,
		DurationMs: int(w.Duration().Milliseconds()),
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to register song: %w", err)
	}

	if err := s.storage.StoreWindows(ctx, songID, spect.Times, fp1, fp2); err != nil {
		// a reused row belongs to an earlier ingest and stays
		if created {
			if rbErr := s.storage.DeleteSongByID(songID); rbErr != nil {
				s.log.Errorf("Rollback of song %d failed: %v", songID, rbErr)
			}
		}
		return nil, false, fmt.Errorf("failed to store windows: %w", err)
	}
	if err := s.storage.MarkFingerprinted(songID); err != nil {
		return nil, false, fmt.Errorf("marking song %d: %w", songID, err)
	}

	song, err = s.storage.GetSongByID(songID)
	if err != nil {
		return nil, false, err
	}
	s.log.Infof("Added song ID=%d %q (%d windows)", songID, song.Title, len(spect.Times))
	return song, false, nil
}

func (s *freezamService) identifyOptions(opts IdentifyOptions) identify.Options {
	if opts.Workers <= 0 {
		opts.Workers = s.config.Workers
	}
	if opts.Logger == nil {
		opts.Logger = s.log
	}
	return opts
}

// Identify decodes audioPath and returns the stored songs that best match it.
func (s *freezamService) Identify(ctx context.Context, audioPath string, opts IdentifyOptions) (*IdentifyResult, error) {
	s.log.Infof("Identifying %s (%v)", audioPath, opts.Scheme)

	spect, err := fingerprint.ComputeSpectrogram(ctx, audioPath, s.decodeOptions())
	if err != nil {
		return nil, err
	}
	return s.identify(ctx, spect, opts)
}

// IdentifySamples identifies an already decoded mono waveform.
func (s *freezamService) IdentifySamples(ctx context.Context, samples []float64, sampleRate int, opts IdentifyOptions) (*IdentifyResult, error) {
	spect, err := fingerprint.FromWaveform(ctx, &audio.Waveform{SampleRate: sampleRate, Samples: samples})
	if err != nil {
		return nil, err
	}
	return s.identify(ctx, spect, opts)
}

// IdentifyFingerprints matches fingerprints computed by a client.
func (s *freezamService) IdentifyFingerprints(ctx context.Context, q Query, opts IdentifyOptions) (*IdentifyResult, error) {
	return s.report(identify.IdentifyQuery(ctx, s.storage, q, s.identifyOptions(opts)))
}

func (s *freezamService) identify(ctx context.Context, spect *fingerprint.Spectrogram, opts IdentifyOptions) (*IdentifyResult, error) {
	return s.report(identify.Identify(ctx, s.storage, spect, s.identifyOptions(opts)))
}

func (s *freezamService) report(res *IdentifyResult, err error) (*IdentifyResult, error) {
	if err != nil {
		return nil, err
	}
	if res.Count == 0 {
		s.log.Warnf("No stored window matched; %d songs tie at zero", len(res.SongIDs))
	} else {
		s.log.Debugf("Best count %d for %v", res.Count, res.Titles)
	}
	return res, nil
}

// UpdateMetadata sets the artist and/or album of every song titled title.
// Empty values are left unchanged.
func (s *freezamService) UpdateMetadata(title, artist, album string) error {
	if artist == "" && album == "" {
		return errors.New("nothing to update: artist and album are both empty")
	}
	if artist != "" {
		if _, err := s.storage.UpdateArtist(title, artist); err != nil {
			return err
		}
	}
	if album != "" {
		if _, err := s.storage.UpdateAlbum(title, album); err != nil {
			return err
		}
	}
	return nil
}

// RemoveSong removes every song titled title and returns how many were removed.
func (s *freezamService) RemoveSong(title string) (int, error) {
	return s.storage.DeleteSongByTitle(title)
}

func (s *freezamService) RemoveSongByID(songID uint32) error {
	return s.storage.DeleteSongByID(songID)
}

// RemoveDuplicates keeps the first song of every title.
func (s *freezamService) RemoveDuplicates() (int, error) {
	n, err := s.storage.DeleteDuplicates()
	if err == nil {
		s.log.Infof("Removed %d duplicate songs", n)
	}
	return n, err
}

// RemoveUnfingerprinted drops songs left over from interrupted ingests.
func (s *freezamService) RemoveUnfingerprinted() (int, error) {
	n, err := s.storage.DeleteUnfingerprinted()
	if err == nil {
		s.log.Infof("Removed %d unfingerprinted songs", n)
	}
	return n, err
}

func (s *freezamService) GetSongByID(songID uint32) (*models.Song, error) {
	return s.storage.GetSongByID(songID)
}

func (s *freezamService) ListSongs() ([]models.Song, error) {
	return s.storage.ListSongs()
}

// Close releases all resources held by the service.
func (s *freezamService) Close() error {
	return s.storage.Close()
}
