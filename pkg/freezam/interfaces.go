package freezam

import (
	"context"

	"github.com/himanishpuri/freezam/pkg/models"
)

type Service interface {
	AddSong(ctx context.Context, audioPath string) (*models.Song, error)
	AddSongFromURL(ctx context.Context, url string) (*models.Song, error)
	Construct(ctx context.Context, dir string, progress func(ConstructProgress)) (*ConstructReport, error)

	Identify(ctx context.Context, audioPath string, opts IdentifyOptions) (*IdentifyResult, error)
	IdentifySamples(ctx context.Context, samples []float64, sampleRate int, opts IdentifyOptions) (*IdentifyResult, error)
	IdentifyFingerprints(ctx context.Context, q Query, opts IdentifyOptions) (*IdentifyResult, error)

	UpdateMetadata(title, artist, album string) error
	RemoveSong(title string) (int, error)
	RemoveSongByID(songID uint32) error
	RemoveDuplicates() (int, error)
	RemoveUnfingerprinted() (int, error)

	GetSongByID(songID uint32) (*models.Song, error)
	ListSongs() ([]models.Song, error)
	Close() error
}

// Storage is the corpus store the service reads and writes. Both built-in
// backends implement it.
type Storage interface {
	RegisterSong(song models.Song) (id uint32, created bool, err error)
	StoreWindows(ctx context.Context, songID uint32, times, fp1 []float64, fp2 [][]float64) error
	MarkFingerprinted(songID uint32) error

	GetSongByID(songID uint32) (*models.Song, error)
	FindByChecksum(sum uint64) (*models.Song, error)
	ListSongs() ([]models.Song, error)
	WindowCount(songID uint32) (int, error)

	DeleteSongByID(songID uint32) error
	DeleteSongByTitle(title string) (int, error)
	DeleteDuplicates() (int, error)
	DeleteUnfingerprinted() (int, error)

	UpdateArtist(title, artist string) (int, error)
	UpdateAlbum(title, album string) (int, error)

	MaxSongID(ctx context.Context) (uint32, error)
	FingerprintsV1(ctx context.Context, songID uint32) ([]float64, error)
	FingerprintsV2(ctx context.Context, songID uint32) ([][]float64, error)
	TitleOf(ctx context.Context, songID uint32) (string, error)

	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
