// Package storage persists songs and their per-window fingerprints.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/himanishpuri/freezam/internal/identify"
	"github.com/himanishpuri/freezam/pkg/models"
)

// ErrWindowShape is returned when the window slices handed to StoreWindows
// disagree in length.
var ErrWindowShape = errors.New("window slices differ in length")

// Store is implemented by every backend.
type Store interface {
	identify.Corpus

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

	Close() error
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*BadgerStore)(nil)
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open opens the named backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendSQLite:
		return NewSQLiteStore(path)
	case BackendBadger:
		return NewBadgerStore(path)
	}
	return nil, fmt.Errorf("unknown storage backend %q", backend)
}

func checkWindows(times, fp1 []float64, fp2 [][]float64) error {
	if len(times) != len(fp1) || len(times) != len(fp2) {
		return fmt.Errorf("%w: %d times, %d v1, %d v2",
			ErrWindowShape, len(times), len(fp1), len(fp2))
	}
	return nil
}
