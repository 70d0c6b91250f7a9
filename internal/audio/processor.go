package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultSampleRate is used for ffmpeg conversions when none is configured.
const DefaultSampleRate = 11025

type ConvertWAVConfig struct {
	SampleRate int // e.g. 11025, 22050, 44100
}

// ffmpegPath is swapped in tests.
var ffmpegPath = "ffmpeg"

// ConvertToMonoWAV converts an audio file to 16-bit mono PCM WAV under
// outputDir and returns the new path. The caller owns the returned file.
func ConvertToMonoWAV(
	ctx context.Context,
	inputPath string,
	outputDir string,
	cfg ConvertWAVConfig,
) (string, error) {

	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}

	bin, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFFmpegUnavailable, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("creating temp dir %s: %w", outputDir, err)
	}

	name := uuid.NewString()
	outputPath := filepath.Join(outputDir, name+".wav")
	tmpPath := filepath.Join(outputDir, name+".tmp.wav")
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(
		ctx,
		bin,
		"-y",
		"-v", "quiet",
		"-i", inputPath,
		"-ac", "1", // mono
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", "pcm_s16le",
		tmpPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		return "", fmt.Errorf("moving %s to %s: %w", tmpPath, outputPath, err)
	}

	return outputPath, nil
}

// FFmpegAvailable reports whether ffmpeg can be found on PATH.
func FFmpegAvailable() bool {
	_, err := exec.LookPath(ffmpegPath)
	return err == nil
}

