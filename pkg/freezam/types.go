package freezam

import (
	"github.com/himanishpuri/freezam/internal/audio"
	"github.com/himanishpuri/freezam/internal/fingerprint"
	"github.com/himanishpuri/freezam/internal/identify"
	"github.com/himanishpuri/freezam/pkg/models"
)

// IdentifyOptions selects the fingerprint scheme and scan behaviour.
type IdentifyOptions = identify.Options

// IdentifyResult holds the best matching songs and the per-song counts.
type IdentifyResult = identify.Result

type Scheme = identify.Scheme

// Query carries snippet fingerprints computed outside the service.
type Query = identify.Query

const (
	SchemeV1 = identify.SchemeV1
	SchemeV2 = identify.SchemeV2
)

// ParseScheme accepts "1" or "2".
func ParseScheme(s string) (Scheme, error) { return identify.ParseScheme(s) }

var (
	ErrInputFormat          = audio.ErrInputFormat
	ErrDownload             = audio.ErrDownload
	ErrInsufficientDuration = fingerprint.ErrInsufficientDuration
	ErrLengthMismatch       = fingerprint.ErrLengthMismatch
	ErrEmptyCorpus          = identify.ErrEmptyCorpus
	ErrSongNotFound         = models.ErrSongNotFound
)

// ConstructProgress reports one finished file of a Construct run.
type ConstructProgress struct {
	Path    string
	Song    *models.Song // nil on failure
	Skipped bool         // already in the corpus
	Err     error
	Done    int
	Total   int
}

// ConstructReport summarises a Construct run.
type ConstructReport struct {
	Added   int
	Skipped int
	Failed  map[string]error
}
