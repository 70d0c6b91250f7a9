package audio

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/himanishpuri/freezam/pkg/models"
)

// ReadMetadata reads ID3/MP4/FLAC/Ogg tags from path. Missing or unreadable
// tags are not an error: the title falls back to the file name.
func ReadMetadata(path string) models.Metadata {
	var meta models.Metadata

	if f, err := os.Open(path); err == nil {
		if m, err := tag.ReadFrom(f); err == nil {
			meta.Title = strings.TrimSpace(m.Title())
			meta.Artist = strings.TrimSpace(m.Artist())
			meta.Album = strings.TrimSpace(m.Album())
		}
		f.Close()
	}

	if meta.Title == "" {
		meta.Title = TitleFromFilename(path)
	}
	return meta
}

// TitleFromFilename strips directory and extension: "/music/a.b.wav" -> "a.b".
func TitleFromFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
