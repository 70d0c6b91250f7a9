package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/eligwz/spectrogram"

	"github.com/himanishpuri/freezam/internal/audio"
	"github.com/himanishpuri/freezam/internal/fingerprint"
	"github.com/himanishpuri/freezam/pkg/logger"
)

var (
	inputPath string
	outputDir string
	width     int
	height    int
	mode      string
	log10     bool
	tempDir   string
)

func main() {
	flag.StringVar(&inputPath, "in", "", "Audio file or directory to render")
	flag.StringVar(&outputDir, "out", "spectrograms", "Directory for PNG output")
	flag.IntVar(&width, "width", 2048, "Image width in pixels (fft mode)")
	flag.IntVar(&height, "height", 512, "Image height in pixels (fft mode)")
	flag.StringVar(&mode, "mode", "psd", "psd renders the fingerprinting spectrogram, fft the short-window FFT")
	flag.BoolVar(&log10, "log10", false, "Logarithmic magnitude (fft mode)")
	flag.StringVar(&tempDir, "temp", os.TempDir(), "Directory for ffmpeg conversions")
	flag.Parse()

	log := logger.GetLogger()
	if inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: spectrogram -in <file|dir> [-out dir] [-mode psd|fft]")
		os.Exit(2)
	}
	if mode != "psd" && mode != "fft" {
		log.Fatalf("unknown mode %q", mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		log.Fatalf("creating %s: %v", outputDir, err)
	}

	rendered := 0
	err := filepath.WalkDir(inputPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		out := filepath.Join(outputDir, filepath.Base(path)+".png")
		if err := render(ctx, path, out); err != nil {
			log.Warnf("Skipping %s: %v", path, err)
			return nil
		}
		log.Infof("Saved spectrogram to %s", out)
		rendered++
		return nil
	})
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Infof("Done, %d image(s) written", rendered)
}

func render(ctx context.Context, path, out string) error {
	w, err := audio.Decode(ctx, path, audio.DecodeOptions{TempDir: tempDir, SampleRate: audio.DefaultSampleRate})
	if err != nil {
		return err
	}

	if mode == "fft" {
		return renderFFT(w, out)
	}
	s, err := fingerprint.FromWaveform(ctx, w)
	if err != nil {
		return err
	}
	return renderPSD(s, out)
}

func renderFFT(w *audio.Waveform, out string) error {
	img := spectrogram.NewImage128(image.Rect(0, 0, width, height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	// Hamming window, FFT, magnitude.
	spectrogram.Drawfft(img, w.Samples, uint32(w.SampleRate), uint32(height), false, false, true, log10)
	return spectrogram.SavePng(img, out)
}

// renderPSD draws one pixel column per window and one row per frequency bin,
// low frequencies at the bottom, with power normalised to the image maximum.
func renderPSD(s *fingerprint.Spectrogram, out string) error {
	cols, rows := s.NumColumns(), s.NumBins()
	img := spectrogram.NewImage128(image.Rect(0, 0, cols, rows))

	peak := 0.0
	for _, col := range s.Columns {
		for _, p := range col {
			peak = max(peak, p)
		}
	}

	for t, col := range s.Columns {
		for f, p := range col {
			v := 0.0
			if peak > 0 {
				v = p / peak
			}
			img.Set(t, rows-1-f, heat(v))
		}
	}
	return spectrogram.SavePng(img, out)
}

// heat maps v in [0, 1] onto a black-red-yellow-white ramp.
func heat(v float64) color.Color {
	v = min(max(v, 0), 1)
	scale := func(x float64) uint8 { return uint8(min(max(x, 0), 1) * 255) }
	return color.RGBA{
		R: scale(3 * v),
		G: scale(3*v - 1),
		B: scale(3*v - 2),
		A: 255,
	}
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Render spectrogram PNGs for audio files.\n\n")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nNative formats: .wav .aiff .mp3 .ogg (others via ffmpeg)")
	}
}
