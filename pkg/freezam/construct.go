package freezam

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/himanishpuri/freezam/internal/audio"
)

var (
	nativeFormats = audio.DefaultRegistry()

	// ingested through ffmpeg when it is installed
	ffmpegExtensions = []string{".flac", ".m4a", ".aac", ".opus", ".webm", ".wma"}
)

func (s *freezamService) ingestable(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := nativeFormats.Get(ext); ok {
		return true
	}
	if !audio.FFmpegAvailable() {
		return false
	}
	for _, e := range ffmpegExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Construct ingests every supported audio file directly inside dir using a
// pool of Config.Workers goroutines. progress, when non-nil, is called once
// per file from a single goroutine.
func (s *freezamService) Construct(ctx context.Context, dir string, progress func(ConstructProgress)) (*ConstructReport, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !s.ingestable(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	s.log.Infof("Constructing corpus from %d files in %s", len(paths), dir)

	workers := max(s.config.Workers, 1)
	jobs := make(chan string)
	results := make(chan ConstructProgress)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				song, skipped, err := s.ingest(ctx, path, audio.ReadMetadata(path))
				results <- ConstructProgress{Path: path, Song: song, Skipped: skipped, Err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, p := range paths {
			select {
			case jobs <- p:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	report := &ConstructReport{Failed: make(map[string]error)}
	done := 0
	for r := range results {
		done++
		r.Done, r.Total = done, len(paths)
		switch {
		case r.Err != nil:
			s.log.Warnf("Failed to add %s: %v", r.Path, r.Err)
			report.Failed[r.Path] = r.Err
		case r.Skipped:
			report.Skipped++
		default:
			report.Added++
		}
		if progress != nil {
			progress(r)
		}
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}
