package freezam

import (
	"os"
	"runtime"

	"github.com/himanishpuri/freezam/internal/audio"
	"github.com/himanishpuri/freezam/internal/storage"
)

type Config struct {
	DBPath     string
	Backend    string // "sqlite" or "badger"
	TempDir    string
	SampleRate int // used when ffmpeg converts unsupported formats
	Workers    int
	Logger     Logger
	Storage    Storage
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

// WithBackend selects the storage engine used when no Storage is given.
func WithBackend(name string) Option {
	return func(c *Config) {
		c.Backend = name
	}
}

func WithTempDir(dir string) Option {
	return func(c *Config) {
		c.TempDir = dir
	}
}

func WithSampleRate(rate int) Option {
	return func(c *Config) {
		c.SampleRate = rate
	}
}

// WithWorkers bounds both the ingest pool and the identification scan.
func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:     storage.DefaultDBFile,
		Backend:    storage.BackendSQLite,
		TempDir:    os.TempDir(),
		SampleRate: audio.DefaultSampleRate,
		Workers:    runtime.GOMAXPROCS(0),
	}
}
