package main

import (
	"flag"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/himanishpuri/freezam/pkg/freezam"
	"github.com/himanishpuri/freezam/pkg/logger"
)

var (
	port           int
	dbPath         string
	backend        string
	tempDir        string
	sampleRate     int
	allowedOrigins string
	logRequests    bool
)

func registerFlags() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("FREEZAM_DB_PATH", "freezam.sqlite3"), "Database path (file for sqlite, directory for badger)")
	flag.StringVar(&backend, "backend", getEnvOrDefault("FREEZAM_BACKEND", "sqlite"), "Storage backend: sqlite or badger")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("FREEZAM_TEMP_DIR", os.TempDir()), "Temporary directory")
	flag.IntVar(&sampleRate, "rate", 11025, "Sample rate for ffmpeg conversions")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
	flag.BoolVar(&logRequests, "log-requests", false, "Log every HTTP request")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseOrigins(s string) []string {
	if s == "*" {
		return []string{"*"}
	}
	origins := strings.Split(s, ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}
	return origins
}

func main() {
	_ = godotenv.Load()
	registerFlags()
	flag.Parse()

	log := logger.GetLogger()

	service, err := freezam.NewService(
		freezam.WithDBPath(dbPath),
		freezam.WithBackend(backend),
		freezam.WithTempDir(tempDir),
		freezam.WithSampleRate(sampleRate),
		freezam.WithLogger(log),
	)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}
	defer service.Close()

	config := &ServerConfig{
		Port:           port,
		DBPath:         dbPath,
		Backend:        backend,
		TempDir:        tempDir,
		SampleRate:     sampleRate,
		AllowedOrigins: parseOrigins(allowedOrigins),
		LogRequests:    logRequests,
	}

	server := NewServer(service, config)
	if err := server.Start(); err != nil {
		log.Errorf("Server failed: %v", err)
		os.Exit(1)
	}
}
