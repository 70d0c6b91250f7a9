package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/freezam/pkg/freezam"
	"github.com/himanishpuri/freezam/pkg/logger"
)

// Global flags
var (
	dbPath     string
	backend    string
	tempDir    string
	sampleRate int
	workers    int
	verbose    bool
)

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func registerGlobalFlags() {
	flag.StringVar(&dbPath, "db", getEnvOrDefault("FREEZAM_DB_PATH", "freezam.sqlite3"), "Path to the database (file for sqlite, directory for badger)")
	flag.StringVar(&backend, "backend", getEnvOrDefault("FREEZAM_BACKEND", "sqlite"), "Storage backend: sqlite or badger")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("FREEZAM_TEMP_DIR", os.TempDir()), "Directory for temporary audio files")
	flag.IntVar(&sampleRate, "rate", 11025, "Sample rate for ffmpeg conversions")
	flag.IntVar(&workers, "workers", 0, "Concurrent workers (default: number of CPUs)")
	flag.BoolVar(&verbose, "verbose", false, "Verbose (debug) logging")
	flag.BoolVar(&verbose, "vb", false, "Shorthand for --verbose")
	flag.Usage = printUsage
}

// createService creates a new Freezam service with configured options
func createService() (freezam.Service, error) {
	opts := []freezam.Option{
		freezam.WithDBPath(dbPath),
		freezam.WithBackend(backend),
		freezam.WithTempDir(tempDir),
		freezam.WithSampleRate(sampleRate),
		freezam.WithLogger(logger.GetLogger()),
	}
	if workers > 0 {
		opts = append(opts, freezam.WithWorkers(workers))
	}
	return freezam.NewService(opts...)
}

func mustService() freezam.Service {
	svc, err := createService()
	if err != nil {
		fail("Failed to create service", err)
	}
	return svc
}

func fail(msg string, err error) {
	fmt.Printf("❌ %s: %v\n", msg, err)
	logger.GetLogger().Errorf("%s: %v", msg, err)
	os.Exit(1)
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	registerGlobalFlags()
	flag.Parse()

	log := logger.GetLogger()
	if verbose {
		log.SetLevel(logger.DEBUG)
		log.SetShowCaller(true)
	}

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	command, args := flag.Arg(0), flag.Args()[1:]
	log.Debugf("Executing command: %s", command)

	switch command {
	case "add":
		handleAdd(ctx, args)
	case "construct":
		handleConstruct(ctx, args)
	case "identify":
		handleIdentify(ctx, args)
	case "list":
		handleList()
	case "remove":
		handleRemove(args)
	case "update":
		handleUpdate(args)
	case "admin":
		handleAdmin(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// splitArgs separates leading positional arguments from flags so that
// "add song.mp3 --url x" and "add --url x" both parse.
func splitArgs(args []string) (positional, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

func handleAdd(ctx context.Context, args []string) {
	positional, flagArgs := splitArgs(args)

	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	url := addCmd.String("url", "", "Download the audio behind this URL and add it")
	addCmd.Parse(flagArgs)
	positional = append(positional, addCmd.Args()...)

	switch {
	case *url != "" && len(positional) > 0:
		fmt.Println("Error: cannot specify both audio file and --url")
		os.Exit(1)
	case *url == "" && len(positional) == 0:
		fmt.Println("Usage: freezam add <audio_file>")
		fmt.Println("   OR: freezam add --url <url>")
		os.Exit(1)
	}

	svc := mustService()
	defer svc.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	if *url != "" {
		fmt.Println("⬇️  Downloading and fingerprinting...")
		song, err := svc.AddSongFromURL(ctx, *url)
		if err != nil {
			fail("Failed to add song", err)
		}
		fmt.Printf("✅ Added \"%s\" by %s (ID: %d)\n", song.Title, song.Artist, song.ID)
		return
	}

	for _, path := range positional {
		song, err := svc.AddSong(ctx, path)
		if err != nil {
			fail("Failed to add "+path, err)
		}
		fmt.Printf("✅ Added \"%s\" (ID: %d)\n", song.Title, song.ID)
	}
}

func handleConstruct(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: freezam construct <directory>")
		os.Exit(1)
	}
	dir := args[0]

	svc := mustService()
	defer svc.Close()

	p := mpb.New(mpb.WithWidth(64))
	var bar *mpb.Bar
	start := time.Now()

	report, err := svc.Construct(ctx, dir, func(pr freezam.ConstructProgress) {
		if bar == nil {
			bar = p.AddBar(int64(pr.Total),
				mpb.PrependDecorators(
					decor.Name("Fingerprinting: "),
					decor.CountersNoUnit("%d / %d"),
				),
				mpb.AppendDecorators(
					decor.Percentage(),
					decor.Elapsed(decor.ET_STYLE_GO),
				),
			)
		}
		bar.Increment()
	})
	p.Wait()
	if err != nil && report == nil {
		fail("Failed to construct corpus", err)
	}

	fmt.Printf("\n✅ Added %d, skipped %d, failed %d in %s\n",
		report.Added, report.Skipped, len(report.Failed), time.Since(start).Round(time.Millisecond))
	for path, ferr := range report.Failed {
		fmt.Printf("   ⚠️  %s: %v\n", path, ferr)
	}
	if err != nil {
		fail("Construct interrupted", err)
	}
}

func handleIdentify(ctx context.Context, args []string) {
	positional, flagArgs := splitArgs(args)

	idCmd := flag.NewFlagSet("identify", flag.ExitOnError)
	kind := idCmd.String("type", "2", "Fingerprint type: 1 (peak frequency) or 2 (max power per octave)")
	allWindows := idCmd.Bool("all-windows", false, "Type 2: compare against every snippet window, not just the first")
	idCmd.Parse(flagArgs)
	positional = append(positional, idCmd.Args()...)

	if len(positional) != 1 {
		fmt.Println("Usage: freezam identify <audio_file> [--type 1|2] [--all-windows]")
		os.Exit(1)
	}

	scheme, err := freezam.ParseScheme(*kind)
	if err != nil {
		fail("Invalid --type", err)
	}

	svc := mustService()
	defer svc.Close()

	fmt.Println("🔍 Analyzing audio file...")

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	res, err := svc.Identify(ctx, positional[0], freezam.IdentifyOptions{Scheme: scheme, AllWindows: *allWindows})
	switch {
	case errors.Is(err, freezam.ErrEmptyCorpus):
		fmt.Println("📭 No songs in database")
		os.Exit(1)
	case errors.Is(err, freezam.ErrInsufficientDuration):
		fmt.Println("❌ Snippet is too short: at least 10 seconds are needed")
		os.Exit(1)
	case err != nil:
		fail("Failed to identify", err)
	}

	if res.Count == 0 {
		fmt.Println("\n❌ No window matched; every song scores zero")
		return
	}

	fmt.Printf("\n✅ Best match (%d matching windows):\n", res.Count)
	for i, title := range res.Titles {
		fmt.Printf("%d. \"%s\" (ID: %d)\n", i+1, title, res.SongIDs[i])
	}
}

func handleList() {
	svc := mustService()
	defer svc.Close()

	songs, err := svc.ListSongs()
	if err != nil {
		fail("Failed to list songs", err)
	}

	if len(songs) == 0 {
		fmt.Println("\n📭 No songs in database")
		return
	}

	fmt.Printf("\n📚 Found %d song(s):\n\n", len(songs))
	for _, song := range songs {
		fmt.Printf("%d. \"%s\"", song.ID, song.Title)
		if song.Artist != "" {
			fmt.Printf(" by %s", song.Artist)
		}
		if song.Album != "" {
			fmt.Printf(" [%s]", song.Album)
		}
		fmt.Println()

		duration := song.DurationMs / 1000
		fmt.Printf("   Duration: %d:%02d | Added %s", duration/60, duration%60, humanize.Time(song.CreatedAt))
		if !song.Fingerprinted {
			fmt.Print(" | not fingerprinted")
		}
		fmt.Println()
		if song.URL != "" {
			fmt.Printf("   Source: %s\n", song.URL)
		}
	}
}

func handleRemove(args []string) {
	rmCmd := flag.NewFlagSet("remove", flag.ExitOnError)
	title := rmCmd.String("title", "", "Remove every song with this title")
	id := rmCmd.String("id", "", "Remove the song with this id")
	rmCmd.Parse(args)

	svc := mustService()
	defer svc.Close()

	switch {
	case *id != "":
		songID, err := strconv.ParseUint(*id, 10, 32)
		if err != nil {
			fail("Invalid song ID", err)
		}
		song, err := svc.GetSongByID(uint32(songID))
		if err != nil {
			fail("Song not found", err)
		}
		if err := svc.RemoveSongByID(song.ID); err != nil {
			fail("Failed to remove song", err)
		}
		fmt.Printf("✅ Removed \"%s\" (ID: %d)\n", song.Title, song.ID)
	case *title != "":
		n, err := svc.RemoveSong(*title)
		if err != nil {
			fail("Failed to remove song", err)
		}
		fmt.Printf("✅ Removed %s titled \"%s\"\n", plural(n, "song"), *title)
	default:
		fmt.Println("Usage: freezam remove --title <title> | --id <id>")
		os.Exit(1)
	}
}

func handleUpdate(args []string) {
	upCmd := flag.NewFlagSet("update", flag.ExitOnError)
	title := upCmd.String("title", "", "Title of the song(s) to update (required)")
	artist := upCmd.String("artist", "", "New artist")
	album := upCmd.String("album", "", "New album")
	upCmd.Parse(args)

	if *title == "" {
		fmt.Println("Usage: freezam update --title <title> [--artist <artist>] [--album <album>]")
		os.Exit(1)
	}

	svc := mustService()
	defer svc.Close()

	if err := svc.UpdateMetadata(*title, *artist, *album); err != nil {
		fail("Failed to update", err)
	}
	fmt.Printf("✅ Updated \"%s\"\n", *title)
}

func handleAdmin(args []string) {
	adminCmd := flag.NewFlagSet("admin", flag.ExitOnError)
	action := adminCmd.String("action", "", "rm_dup or rm_unfingerprinted")
	adminCmd.Parse(args)

	svc := mustService()
	defer svc.Close()

	var (
		n   int
		err error
	)
	switch *action {
	case "rm_dup":
		n, err = svc.RemoveDuplicates()
	case "rm_unfingerprinted":
		n, err = svc.RemoveUnfingerprinted()
	default:
		fmt.Println("Usage: freezam admin --action rm_dup|rm_unfingerprinted")
		os.Exit(1)
	}
	if err != nil {
		fail("Admin action failed", err)
	}
	fmt.Printf("✅ Removed %s\n", plural(n, "song"))
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}

func printUsage() {
	fmt.Println("Freezam - Audio Identification CLI")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  --db <path>        Database path (env: FREEZAM_DB_PATH, default: freezam.sqlite3)")
	fmt.Println("  --backend <name>   sqlite or badger (env: FREEZAM_BACKEND, default: sqlite)")
	fmt.Println("  --temp <dir>       Temporary directory (env: FREEZAM_TEMP_DIR)")
	fmt.Println("  --rate <hz>        Sample rate for ffmpeg conversions (default: 11025)")
	fmt.Println("  --workers <n>      Concurrent workers")
	fmt.Println("  --verbose, --vb    Debug logging")
	fmt.Println("\nUsage:")
	fmt.Println("  freezam [global-options] add <audio_file>...")
	fmt.Println("  freezam [global-options] add --url <url>")
	fmt.Println("  freezam [global-options] construct <directory>")
	fmt.Println("  freezam [global-options] identify <audio_file> [--type 1|2] [--all-windows]")
	fmt.Println("  freezam [global-options] list")
	fmt.Println("  freezam [global-options] remove --title <title> | --id <id>")
	fmt.Println("  freezam [global-options] update --title <title> [--artist <a>] [--album <b>]")
	fmt.Println("  freezam [global-options] admin --action rm_dup|rm_unfingerprinted")
	fmt.Println("\nExamples:")
	fmt.Println("  freezam construct ~/Music/library")
	fmt.Println("  freezam --backend badger --db ./corpus identify clip.wav --type 1")
}
