package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/himanishpuri/freezam/pkg/models"
)

// ErrDownload is returned when a remote source cannot be fetched.
var ErrDownload = errors.New("download failed")

// remoteInfo is the subset of yt-dlp's --dump-single-json output we use.
type remoteInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Track      string  `json:"track"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
}

func pickArtist(info remoteInfo) string {
	for _, s := range []string{info.Artist, info.Channel, info.Uploader} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return "Unknown Artist"
}

func pickTitle(info remoteInfo) string {
	if strings.TrimSpace(info.Track) != "" {
		return info.Track
	}
	return info.Title
}

// ValidateURL accepts absolute http(s) URLs only.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid URL: %v", ErrDownload, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: unsupported URL %q", ErrDownload, raw)
	}
	return nil
}

// DownloadAudio fetches the best audio stream behind sourceURL into outputDir
// as WAV using yt-dlp, and returns its path with the remote metadata.
func DownloadAudio(ctx context.Context, sourceURL, outputDir string) (string, models.Metadata, error) {
	if err := ValidateURL(sourceURL); err != nil {
		return "", models.Metadata{}, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Minute)
		defer cancel()
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", models.Metadata{}, fmt.Errorf("creating output directory: %w", err)
	}

	res, err := ytdlp.New().
		NoPlaylist().
		NoWarnings().
		DumpSingleJSON().
		Run(ctx, sourceURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", models.Metadata{}, ctx.Err()
		}
		return "", models.Metadata{}, fmt.Errorf("%w: reading metadata: %v", ErrDownload, err)
	}

	var info remoteInfo
	if err := json.Unmarshal([]byte(res.Stdout), &info); err != nil {
		return "", models.Metadata{}, fmt.Errorf("%w: parsing yt-dlp output: %v", ErrDownload, err)
	}
	if strings.TrimSpace(info.ID) == "" {
		return "", models.Metadata{}, fmt.Errorf("%w: missing id in yt-dlp output", ErrDownload)
	}

	outputTemplate := filepath.Join(outputDir, info.ID+".%(ext)s")
	_, err = ytdlp.New().
		NoPlaylist().
		NoWarnings().
		Format("ba").
		ExtractAudio().
		AudioFormat("wav").
		Output(outputTemplate).
		Run(ctx, sourceURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", models.Metadata{}, ctx.Err()
		}
		return "", models.Metadata{}, fmt.Errorf("%w: %v", ErrDownload, err)
	}

	path := filepath.Join(outputDir, info.ID+".wav")
	if _, err := os.Stat(path); err != nil {
		return "", models.Metadata{}, fmt.Errorf("%w: downloaded audio for %s not found", ErrDownload, info.ID)
	}

	source := info.WebpageURL
	if source == "" {
		source = sourceURL
	}
	return path, models.Metadata{
		Title:  pickTitle(info),
		Artist: pickArtist(info),
		Album:  info.Album,
		URL:    source,
	}, nil
}
