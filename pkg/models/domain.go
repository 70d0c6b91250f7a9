package models

import (
	"errors"
	"time"
)

// ErrSongNotFound is returned by stores when no song record exists for an id or title.
var ErrSongNotFound = errors.New("song not found")

// Song represents a reference track in the corpus.
type Song struct {
	ID            uint32    // Sequential id, starting at 1
	Title         string    // Song title (from tags or file name)
	Artist        string    // Artist name
	Album         string    // Album name
	Path          string    // Source file the song was ingested from
	URL           string    // Source URL when ingested from the web
	Checksum      uint64    // xxhash64 of the decoded waveform
	DurationMs    int       // Duration in milliseconds
	Fingerprinted bool      // Set once all windows are stored
	CreatedAt     time.Time // Registration time
}

// Metadata is the descriptive part of a song read from tags or a download.
type Metadata struct {
	Title  string
	Artist string
	Album  string
	URL    string
}

// Window is one stored analysis window of a song: the window centre and both
// fingerprint variants computed for it.
type Window struct {
	SongID     uint32
	CenterSec  float64
	Signature1 float64
	Signature2 []float64
}
