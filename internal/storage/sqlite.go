package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/freezam/pkg/models"
)

const DefaultDBFile = "freezam.sqlite3"

const errDBClientNil = "db client is nil"

// SQLiteStore keeps songs and windows in a SQLite file through gorm.
type SQLiteStore struct {
	DB *gorm.DB
	db *sql.DB
}

type Song struct {
	ID            uint32 `gorm:"primaryKey;autoIncrement"`
	Title         string `gorm:"index:idx_song_title_artist,priority:1;index:idx_song_title"`
	Artist        string `gorm:"index:idx_song_title_artist,priority:2"`
	Album         string
	Path          string
	URL           string
	Checksum      int64 `gorm:"index:idx_song_checksum"`
	DurationMs    int
	Fingerprinted bool `gorm:"index:idx_song_fingerprinted"`
	CreatedAt     time.Time
}

type Window struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SongID     uint32 `gorm:"index:idx_window_song,priority:1"`
	Idx        int    `gorm:"index:idx_window_song,priority:2"`
	CenterSec  float64
	Signature1 float64
	Signature2 []float64 `gorm:"serializer:json"`
}

func (s Song) model() models.Song {
	return models.Song{
		ID:            s.ID,
		Title:         s.Title,
		Artist:        s.Artist,
		Album:         s.Album,
		Path:          s.Path,
		URL:           s.URL,
		Checksum:      uint64(s.Checksum),
		DurationMs:    s.DurationMs,
		Fingerprinted: s.Fingerprinted,
		CreatedAt:     s.CreatedAt,
	}
}

// NewSQLiteStore opens (creating if needed) the database file at dbPath and
// migrates the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(sqlite.Open(dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	// SQLite allows a single writer
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Song{}, &Window{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SQLiteStore{DB: db, db: sqlDB}, nil
}

func (c *SQLiteStore) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *SQLiteStore) ready() error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return nil
}

// RegisterSong returns the id of song, inserting a row unless one with the
// same title and artist holds the same audio. A stored checksum of 0 counts
// as the same audio and is filled in, as are an empty URL, path and album.
// created reports whether a new row was inserted.
func (c *SQLiteStore) RegisterSong(song models.Song) (id uint32, created bool, err error) {
	if err := c.ready(); err != nil {
		return 0, false, err
	}

	err = c.DB.Transaction(func(tx *gorm.DB) error {
		q := tx.Where("title = ? AND artist = ?", song.Title, song.Artist)
		if song.Checksum != 0 {
			q = q.Where("checksum IN (0, ?)", int64(song.Checksum))
		}

		var existing Song
		err := q.Order("checksum = 0, id").First(&existing).Error
		if err == nil {
			id = existing.ID
			updates := map[string]any{}
			if existing.URL == "" && song.URL != "" {
				updates["url"] = song.URL
			}
			if existing.Path == "" && song.Path != "" {
				updates["path"] = song.Path
			}
			if existing.Album == "" && song.Album != "" {
				updates["album"] = song.Album
			}
			if existing.Checksum == 0 && song.Checksum != 0 {
				updates["checksum"] = int64(song.Checksum)
			}
			if len(updates) == 0 {
				return nil
			}
			if err := tx.Model(&existing).Updates(updates).Error; err != nil {
				return fmt.Errorf("updating song %d: %w", existing.ID, err)
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("querying existing song: %w", err)
		}

		row := Song{
			Title:      song.Title,
			Artist:     song.Artist,
			Album:      song.Album,
			Path:       song.Path,
			URL:        song.URL,
			Checksum:   int64(song.Checksum),
			DurationMs: song.DurationMs,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("creating song: %w", err)
		}
		id, created = row.ID, true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return id, created, nil
}

// StoreWindows replaces the stored windows of songID with one row per
// timestamp.
func (c *SQLiteStore) StoreWindows(ctx context.Context, songID uint32, times, fp1 []float64, fp2 [][]float64) error {
	if err := c.ready(); err != nil {
		return err
	}
	if err := checkWindows(times, fp1, fp2); err != nil {
		return err
	}

	rows := make([]Window, len(times))
	for i := range times {
		rows[i] = Window{
			SongID:     songID,
			Idx:        i,
			CenterSec:  times[i],
			Signature1: fp1[i],
			Signature2: fp2[i],
		}
	}

	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("song_id = ?", songID).Delete(&Window{}).Error; err != nil {
			return fmt.Errorf("clearing windows of song %d: %w", songID, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("batch insert windows: %w", err)
		}
		return nil
	})
}

func (c *SQLiteStore) MarkFingerprinted(songID uint32) error {
	if err := c.ready(); err != nil {
		return err
	}
	res := c.DB.Model(&Song{}).Where("id = ?", songID).Update("fingerprinted", true)
	if res.Error != nil {
		return fmt.Errorf("marking song %d: %w", songID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("song %d: %w", songID, models.ErrSongNotFound)
	}
	return nil
}

func (c *SQLiteStore) findSong(query any, args ...any) (*models.Song, error) {
	var row Song
	err := c.DB.Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrSongNotFound
	}
	if err != nil {
		return nil, err
	}
	s := row.model()
	return &s, nil
}

func (c *SQLiteStore) GetSongByID(songID uint32) (*models.Song, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	s, err := c.findSong("id = ?", songID)
	if err != nil {
		return nil, fmt.Errorf("song %d: %w", songID, err)
	}
	return s, nil
}

func (c *SQLiteStore) FindByChecksum(sum uint64) (*models.Song, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return c.findSong("checksum = ?", int64(sum))
}

func (c *SQLiteStore) ListSongs() ([]models.Song, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var rows []Song
	if err := c.DB.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	out := make([]models.Song, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func (c *SQLiteStore) WindowCount(songID uint32) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var n int64
	if err := c.DB.Model(&Window{}).Where("song_id = ?", songID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting windows of song %d: %w", songID, err)
	}
	return int(n), nil
}

// deleteSongs removes the songs with the given ids and their windows.
func (c *SQLiteStore) deleteSongs(ids []uint32) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int64
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("song_id IN ?", ids).Delete(&Window{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&Song{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deleting songs: %w", err)
	}
	return int(removed), nil
}

func (c *SQLiteStore) DeleteSongByID(songID uint32) error {
	if err := c.ready(); err != nil {
		return err
	}
	n, err := c.deleteSongs([]uint32{songID})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("song %d: %w", songID, models.ErrSongNotFound)
	}
	return nil
}

func (c *SQLiteStore) idsWhere(query any, args ...any) ([]uint32, error) {
	var ids []uint32
	if err := c.DB.Model(&Song{}).Where(query, args...).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteSongByTitle removes every song with the given title.
func (c *SQLiteStore) DeleteSongByTitle(title string) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	ids, err := c.idsWhere("title = ?", title)
	if err != nil {
		return 0, fmt.Errorf("looking up %q: %w", title, err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%q: %w", title, models.ErrSongNotFound)
	}
	return c.deleteSongs(ids)
}

// DeleteDuplicates keeps the lowest id of every title and removes the rest.
func (c *SQLiteStore) DeleteDuplicates() (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	keep := c.DB.Model(&Song{}).Select("MIN(id)").Group("title")
	ids, err := c.idsWhere("id NOT IN (?)", keep)
	if err != nil {
		return 0, fmt.Errorf("finding duplicates: %w", err)
	}
	return c.deleteSongs(ids)
}

// DeleteUnfingerprinted removes songs whose windows were never completely stored.
func (c *SQLiteStore) DeleteUnfingerprinted() (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	ids, err := c.idsWhere("fingerprinted = ?", false)
	if err != nil {
		return 0, fmt.Errorf("finding unfingerprinted songs: %w", err)
	}
	return c.deleteSongs(ids)
}

func (c *SQLiteStore) updateByTitle(title, column, value string) (int, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	res := c.DB.Model(&Song{}).Where("title = ?", title).Update(column, value)
	if res.Error != nil {
		return 0, fmt.Errorf("updating %s of %q: %w", column, title, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("%q: %w", title, models.ErrSongNotFound)
	}
	return int(res.RowsAffected), nil
}

func (c *SQLiteStore) UpdateArtist(title, artist string) (int, error) {
	return c.updateByTitle(title, "artist", artist)
}

func (c *SQLiteStore) UpdateAlbum(title, album string) (int, error) {
	return c.updateByTitle(title, "album", album)
}

// MaxSongID is the highest id in use, 0 for an empty store.
func (c *SQLiteStore) MaxSongID(ctx context.Context) (uint32, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	var maxID sql.NullInt64
	if err := c.DB.WithContext(ctx).Model(&Song{}).Select("MAX(id)").Row().Scan(&maxID); err != nil {
		return 0, fmt.Errorf("reading max song id: %w", err)
	}
	if !maxID.Valid {
		return 0, nil
	}
	return uint32(maxID.Int64), nil
}

func (c *SQLiteStore) FingerprintsV1(ctx context.Context, songID uint32) ([]float64, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var out []float64
	err := c.DB.WithContext(ctx).Model(&Window{}).
		Where("song_id = ?", songID).
		Order("idx").
		Pluck("signature1", &out).Error
	if err != nil {
		return nil, fmt.Errorf("loading v1 windows of song %d: %w", songID, err)
	}
	return out, nil
}

func (c *SQLiteStore) FingerprintsV2(ctx context.Context, songID uint32) ([][]float64, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	var rows []Window
	err := c.DB.WithContext(ctx).
		Select("idx", "signature2").
		Where("song_id = ?", songID).
		Order("idx").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("loading v2 windows of song %d: %w", songID, err)
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = r.Signature2
	}
	return out, nil
}

func (c *SQLiteStore) TitleOf(ctx context.Context, songID uint32) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	var row Song
	err := c.DB.WithContext(ctx).Select("id", "title").First(&row, songID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", models.ErrSongNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading title of song %d: %w", songID, err)
	}
	return row.Title, nil
}
