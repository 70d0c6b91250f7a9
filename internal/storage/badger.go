package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/himanishpuri/freezam/pkg/models"
)

// Key layout:
//
//	song/<id:be32>             -> JSON models.Song
//	win/<id:be32><idx:be32>    -> JSON windowValue
//	idx/ta/<title>\x00<artist>\x00<id:be32> -> empty
//	idx/sum/<checksum:be64>    -> id:be32
var (
	songPrefix   = []byte("song/")
	windowPrefix = []byte("win/")
	titlePrefix  = []byte("idx/ta/")
	sumPrefix    = []byte("idx/sum/")
	songSeqKey   = []byte("seq/songs")
)

const writeBatchSize = 1000

type windowValue struct {
	CenterSec  float64   `json:"t"`
	Signature1 float64   `json:"s1"`
	Signature2 []float64 `json:"s2"`
}

// BadgerStore keeps songs and windows in an embedded badger key-value store.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence

	// serialises writers that touch song records and their indexes
	mu sync.Mutex
}

// NewBadgerStore opens the badger directory at dir; an empty dir gives an
// in-memory store.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}

	seq, err := db.GetSequence(songSeqKey, 1)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("song id sequence: %w", err)
	}

	return &BadgerStore{db: db, seq: seq}, nil
}

func (b *BadgerStore) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	if err := b.seq.Release(); err != nil {
		b.db.Close()
		return err
	}
	return b.db.Close()
}

func be32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func songKey(id uint32) []byte {
	return append(append([]byte{}, songPrefix...), be32(id)...)
}

func windowPrefixOf(id uint32) []byte {
	return append(append([]byte{}, windowPrefix...), be32(id)...)
}

func windowKey(id uint32, idx int) []byte {
	return append(windowPrefixOf(id), be32(uint32(idx))...)
}

func titleKeyPrefix(title, artist string) []byte {
	k := append([]byte{}, titlePrefix...)
	k = append(k, title...)
	k = append(k, 0)
	k = append(k, artist...)
	return append(k, 0)
}

func titleKey(title, artist string, id uint32) []byte {
	return append(titleKeyPrefix(title, artist), be32(id)...)
}

// songsTitled returns the ids indexed under title and artist, ascending.
func songsTitled(txn *badger.Txn, title, artist string) []uint32 {
	prefix := titleKeyPrefix(title, artist)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []uint32
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		if len(key) == len(prefix)+4 {
			ids = append(ids, binary.BigEndian.Uint32(key[len(prefix):]))
		}
	}
	return ids
}

func sumKey(sum uint64) []byte {
	k := append([]byte{}, sumPrefix...)
	return binary.BigEndian.AppendUint64(k, sum)
}

func getSong(txn *badger.Txn, id uint32) (*models.Song, error) {
	item, err := txn.Get(songKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, models.ErrSongNotFound
	}
	if err != nil {
		return nil, err
	}
	var s models.Song
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &s)
	})
	if err != nil {
		return nil, fmt.Errorf("decoding song %d: %w", id, err)
	}
	return &s, nil
}

func getID(txn *badger.Txn, key []byte) (uint32, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	var id uint32
	err = item.Value(func(val []byte) error {
		if len(val) != 4 {
			return fmt.Errorf("corrupt index value for %q", key)
		}
		id = binary.BigEndian.Uint32(val)
		return nil
	})
	return id, true, err
}

func putSong(txn *badger.Txn, s *models.Song) error {
	val, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return txn.Set(songKey(s.ID), val)
}

// scanSongs calls fn for every song in id order.
func (b *BadgerStore) scanSongs(fn func(s *models.Song) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(songPrefix); it.ValidForPrefix(songPrefix); it.Next() {
			var s models.Song
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &s)
			})
			if err != nil {
				return fmt.Errorf("decoding %q: %w", it.Item().Key(), err)
			}
			if err := fn(&s); err != nil {
				return err
			}
		}
		return nil
	})
}

// RegisterSong returns the id of song, inserting a record unless one with the
// same title and artist holds the same audio. A stored checksum of 0 counts
// as the same audio and is filled in, as are an empty URL, path and album.
// created reports whether a new record was inserted.
func (b *BadgerStore) RegisterSong(song models.Song) (id uint32, created bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	err = b.db.Update(func(txn *badger.Txn) error {
		var reuse *models.Song
		for _, cand := range songsTitled(txn, song.Title, song.Artist) {
			s, err := getSong(txn, cand)
			if err != nil {
				return err
			}
			if song.Checksum != 0 && s.Checksum != 0 && s.Checksum != song.Checksum {
				continue
			}
			if reuse == nil || (reuse.Checksum == 0 && s.Checksum != 0) {
				reuse = s
			}
		}

		if reuse != nil {
			s := reuse
			id = s.ID
			changed := false
			if s.URL == "" && song.URL != "" {
				s.URL, changed = song.URL, true
			}
			if s.Path == "" && song.Path != "" {
				s.Path, changed = song.Path, true
			}
			if s.Album == "" && song.Album != "" {
				s.Album, changed = song.Album, true
			}
			if s.Checksum == 0 && song.Checksum != 0 {
				s.Checksum, changed = song.Checksum, true
				if err := txn.Set(sumKey(s.Checksum), be32(s.ID)); err != nil {
					return err
				}
			}
			if !changed {
				return nil
			}
			return putSong(txn, s)
		}

		next, err := b.seq.Next()
		if err != nil {
			return fmt.Errorf("allocating song id: %w", err)
		}
		id, created = uint32(next+1), true

		s := song
		s.ID = id
		s.Fingerprinted = false
		s.CreatedAt = time.Now()
		if err := putSong(txn, &s); err != nil {
			return err
		}
		if err := txn.Set(titleKey(s.Title, s.Artist, id), []byte{}); err != nil {
			return err
		}
		if s.Checksum != 0 {
			if err := txn.Set(sumKey(s.Checksum), be32(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("registering song: %w", err)
	}
	return id, created, nil
}

func (b *BadgerStore) windowKeys(songID uint32) ([][]byte, error) {
	prefix := windowPrefixOf(songID)
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// StoreWindows replaces the stored windows of songID with one entry per
// timestamp.
func (b *BadgerStore) StoreWindows(ctx context.Context, songID uint32, times, fp1 []float64, fp2 [][]float64) error {
	if err := checkWindows(times, fp1, fp2); err != nil {
		return err
	}

	old, err := b.windowKeys(songID)
	if err != nil {
		return fmt.Errorf("listing windows of song %d: %w", songID, err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range old[min(len(old), len(times)):] {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}

	for i := range times {
		if i%writeBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		val, err := json.Marshal(windowValue{CenterSec: times[i], Signature1: fp1[i], Signature2: fp2[i]})
		if err != nil {
			return err
		}
		if err := wb.Set(windowKey(songID, i), val); err != nil {
			return fmt.Errorf("batch insert windows: %w", err)
		}
	}
	return wb.Flush()
}

func (b *BadgerStore) MarkFingerprinted(songID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		s, err := getSong(txn, songID)
		if err != nil {
			return fmt.Errorf("song %d: %w", songID, err)
		}
		s.Fingerprinted = true
		return putSong(txn, s)
	})
}

func (b *BadgerStore) GetSongByID(songID uint32) (*models.Song, error) {
	var s *models.Song
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		s, err = getSong(txn, songID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("song %d: %w", songID, err)
	}
	return s, nil
}

func (b *BadgerStore) FindByChecksum(sum uint64) (*models.Song, error) {
	var s *models.Song
	err := b.db.View(func(txn *badger.Txn) error {
		id, found, err := getID(txn, sumKey(sum))
		if err != nil {
			return err
		}
		if !found {
			return models.ErrSongNotFound
		}
		s, err = getSong(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *BadgerStore) ListSongs() ([]models.Song, error) {
	var out []models.Song
	err := b.scanSongs(func(s *models.Song) error {
		out = append(out, *s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing songs: %w", err)
	}
	return out, nil
}

func (b *BadgerStore) WindowCount(songID uint32) (int, error) {
	keys, err := b.windowKeys(songID)
	if err != nil {
		return 0, fmt.Errorf("counting windows of song %d: %w", songID, err)
	}
	return len(keys), nil
}

// deleteSongs removes the given songs, their indexes and their windows.
// Callers hold b.mu.
func (b *BadgerStore) deleteSongs(songs []*models.Song) (int, error) {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, s := range songs {
		keys, err := b.windowKeys(s.ID)
		if err != nil {
			return 0, err
		}
		keys = append(keys, songKey(s.ID), titleKey(s.Title, s.Artist, s.ID))

		if s.Checksum != 0 {
			err := b.db.View(func(txn *badger.Txn) error {
				owner, found, err := getID(txn, sumKey(s.Checksum))
				if err == nil && found && owner == s.ID {
					keys = append(keys, sumKey(s.Checksum))
				}
				return err
			})
			if err != nil {
				return 0, err
			}
		}

		for _, k := range keys {
			if err := wb.Delete(k); err != nil {
				return 0, fmt.Errorf("deleting song %d: %w", s.ID, err)
			}
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("deleting songs: %w", err)
	}
	return len(songs), nil
}

func (b *BadgerStore) selectSongs(keep func(s *models.Song) bool) ([]*models.Song, error) {
	var out []*models.Song
	err := b.scanSongs(func(s *models.Song) error {
		if keep(s) {
			c := *s
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

func (b *BadgerStore) DeleteSongByID(songID uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.GetSongByID(songID)
	if err != nil {
		return err
	}
	_, err = b.deleteSongs([]*models.Song{s})
	return err
}

// DeleteSongByTitle removes every song with the given title.
func (b *BadgerStore) DeleteSongByTitle(title string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	songs, err := b.selectSongs(func(s *models.Song) bool { return s.Title == title })
	if err != nil {
		return 0, fmt.Errorf("looking up %q: %w", title, err)
	}
	if len(songs) == 0 {
		return 0, fmt.Errorf("%q: %w", title, models.ErrSongNotFound)
	}
	return b.deleteSongs(songs)
}

// DeleteDuplicates keeps the lowest id of every title and removes the rest.
func (b *BadgerStore) DeleteDuplicates() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]bool)
	// scan runs in id order, so the first of each title is the one kept
	songs, err := b.selectSongs(func(s *models.Song) bool {
		if seen[s.Title] {
			return true
		}
		seen[s.Title] = true
		return false
	})
	if err != nil {
		return 0, fmt.Errorf("finding duplicates: %w", err)
	}
	return b.deleteSongs(songs)
}

// DeleteUnfingerprinted removes songs whose windows were never completely stored.
func (b *BadgerStore) DeleteUnfingerprinted() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	songs, err := b.selectSongs(func(s *models.Song) bool { return !s.Fingerprinted })
	if err != nil {
		return 0, fmt.Errorf("finding unfingerprinted songs: %w", err)
	}
	return b.deleteSongs(songs)
}

func (b *BadgerStore) updateByTitle(title string, apply func(s *models.Song) error) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	songs, err := b.selectSongs(func(s *models.Song) bool { return s.Title == title })
	if err != nil {
		return 0, err
	}
	if len(songs) == 0 {
		return 0, fmt.Errorf("%q: %w", title, models.ErrSongNotFound)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		for _, s := range songs {
			oldKey := titleKey(s.Title, s.Artist, s.ID)
			if err := apply(s); err != nil {
				return err
			}
			if newKey := titleKey(s.Title, s.Artist, s.ID); !bytes.Equal(oldKey, newKey) {
				if err := txn.Delete(oldKey); err != nil {
					return err
				}
				if err := txn.Set(newKey, []byte{}); err != nil {
					return err
				}
			}
			if err := putSong(txn, s); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("updating %q: %w", title, err)
	}
	return len(songs), nil
}

func (b *BadgerStore) UpdateArtist(title, artist string) (int, error) {
	return b.updateByTitle(title, func(s *models.Song) error {
		s.Artist = artist
		return nil
	})
}

func (b *BadgerStore) UpdateAlbum(title, album string) (int, error) {
	return b.updateByTitle(title, func(s *models.Song) error {
		s.Album = album
		return nil
	})
}

// MaxSongID is the highest id in use, 0 for an empty store.
func (b *BadgerStore) MaxSongID(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var maxID uint32
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// largest key under the prefix
		it.Seek(append(append([]byte{}, songPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff))
		if it.ValidForPrefix(songPrefix) {
			key := it.Item().Key()
			maxID = binary.BigEndian.Uint32(key[len(songPrefix):])
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reading max song id: %w", err)
	}
	return maxID, nil
}

func (b *BadgerStore) scanWindows(ctx context.Context, songID uint32, fn func(w windowValue)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := windowPrefixOf(songID)
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var w windowValue
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &w)
			})
			if err != nil {
				return fmt.Errorf("decoding window %x: %w", bytes.TrimPrefix(it.Item().Key(), windowPrefix), err)
			}
			fn(w)
		}
		return nil
	})
}

func (b *BadgerStore) FingerprintsV1(ctx context.Context, songID uint32) ([]float64, error) {
	var out []float64
	err := b.scanWindows(ctx, songID, func(w windowValue) {
		out = append(out, w.Signature1)
	})
	if err != nil {
		return nil, fmt.Errorf("loading v1 windows of song %d: %w", songID, err)
	}
	return out, nil
}

func (b *BadgerStore) FingerprintsV2(ctx context.Context, songID uint32) ([][]float64, error) {
	var out [][]float64
	err := b.scanWindows(ctx, songID, func(w windowValue) {
		out = append(out, w.Signature2)
	})
	if err != nil {
		return nil, fmt.Errorf("loading v2 windows of song %d: %w", songID, err)
	}
	return out, nil
}

func (b *BadgerStore) TitleOf(ctx context.Context, songID uint32) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var title string
	err := b.db.View(func(txn *badger.Txn) error {
		s, err := getSong(txn, songID)
		if err != nil {
			return err
		}
		title = s.Title
		return nil
	})
	if errors.Is(err, models.ErrSongNotFound) {
		return "", models.ErrSongNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading title of song %d: %w", songID, err)
	}
	return title, nil
}
