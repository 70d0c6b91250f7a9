package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/himanishpuri/freezam/pkg/freezam"
	"github.com/himanishpuri/freezam/pkg/logger"
)

const (
	maxUploadBytes  = 100 << 20
	maxSnippetBytes = 32 << 20
	ingestTimeout   = 5 * time.Minute
	identifyTimeout = 2 * time.Minute
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service freezam.Service
	config  *ServerConfig
	log     freezam.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	Backend        string
	TempDir        string
	SampleRate     int
	AllowedOrigins []string
	LogRequests    bool
}

// NewServer creates a new server instance
func NewServer(service freezam.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, freezam.ErrSongNotFound):
		return http.StatusNotFound
	case errors.Is(err, freezam.ErrEmptyCorpus):
		return http.StatusConflict
	case errors.Is(err, freezam.ErrInsufficientDuration),
		errors.Is(err, freezam.ErrLengthMismatch),
		errors.Is(err, freezam.ErrInputFormat),
		errors.Is(err, freezam.ErrDownload):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, what string, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.log.Errorf("%s: %v", what, err)
		s.respondError(w, code, what)
		return
	}
	s.respondError(w, code, err.Error())
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "freezam API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":       "GET /health",
			"metrics":      "GET /api/health/metrics",
			"songs":        "GET /api/songs",
			"addSongFile":  "POST /api/songs",
			"addSongURL":   "POST /api/songs/url",
			"updateSong":   "PATCH /api/songs",
			"getSong":      "GET /api/songs/{id}",
			"deleteSong":   "DELETE /api/songs/{id}",
			"identifyFile": "POST /api/identify",
			"identifyFp":   "POST /api/identify/fingerprints",
			"admin":        "POST /api/admin/{rm_dup|rm_unfingerprinted}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	songs, err := s.service.ListSongs()
	if err != nil {
		s.log.Errorf("Failed to get song count: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	unfingerprinted := 0
	for _, song := range songs {
		if !song.Fingerprinted {
			unfingerprinted++
		}
	}

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:             "healthy",
		Backend:            s.config.Backend,
		DatabasePath:       s.config.DBPath,
		SongCount:          len(songs),
		UnfingerprintedCnt: unfingerprinted,
	})
}

// handleListSongs handles GET /api/songs
func (s *Server) handleListSongs(w http.ResponseWriter, r *http.Request) {
	songs, err := s.service.ListSongs()
	if err != nil {
		s.log.Errorf("Failed to list songs: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve songs")
		return
	}

	dtos := make([]SongDTO, len(songs))
	for i := range songs {
		dtos[i] = songDTO(&songs[i])
	}

	s.respondJSON(w, http.StatusOK, ListSongsResponse{
		Songs: dtos,
		Count: len(dtos),
	})
}

// handleGetSong handles GET /api/songs/{id}
func (s *Server) handleGetSong(w http.ResponseWriter, r *http.Request, songID uint32) {
	song, err := s.service.GetSongByID(songID)
	if err != nil {
		s.respondServiceError(w, "Failed to retrieve song", err)
		return
	}
	s.respondJSON(w, http.StatusOK, songDTO(song))
}

// handleDeleteSong handles DELETE /api/songs/{id}
func (s *Server) handleDeleteSong(w http.ResponseWriter, r *http.Request, songID uint32) {
	if err := s.service.RemoveSongByID(songID); err != nil {
		s.respondServiceError(w, "Failed to delete song", err)
		return
	}

	s.log.Infof("Deleted song %d", songID)
	s.respondJSON(w, http.StatusOK, DeleteResponse{
		Message: fmt.Sprintf("Song %d deleted", songID),
		Removed: 1,
	})
}

// handleUpdateSong handles PATCH /api/songs
func (s *Server) handleUpdateSong(w http.ResponseWriter, r *http.Request) {
	var req UpdateSongRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.UpdateMetadata(req.Title, req.Artist, req.Album); err != nil {
		s.respondServiceError(w, "Failed to update song", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "Song updated"})
}

// saveUpload copies the multipart "audio" field into its own directory under
// TempDir, keeping the client's base name so titles fall back to it. The
// caller removes the returned directory.
func (s *Server) saveUpload(r *http.Request, limit int64) (path, dir string, err error) {
	if err := r.ParseMultipartForm(limit); err != nil {
		return "", "", fmt.Errorf("failed to parse multipart form: %w", err)
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", "", fmt.Errorf("missing audio file in form field 'audio'")
	}
	defer file.Close()

	name := filepath.Base(filepath.Clean("/" + header.Filename))
	if name == "/" || name == "." {
		name = "upload"
	}

	dir = filepath.Join(s.config.TempDir, "upload_"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating temp dir: %w", err)
	}
	path = filepath.Join(dir, name)

	out, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("creating temp file: %w", err)
	}
	_, err = io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("saving upload: %w", err)
	}
	return path, dir, nil
}

// handleAddSong handles POST /api/songs (multipart upload)
func (s *Server) handleAddSong(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	tempPath, tempDir, err := s.saveUpload(r, maxUploadBytes)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.RemoveAll(tempDir)

	s.log.Infof("Processing upload %s", filepath.Base(tempPath))

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	song, err := s.service.AddSong(ctx, tempPath)
	if err != nil {
		s.respondServiceError(w, "Failed to add song", err)
		return
	}

	s.respondJSON(w, http.StatusCreated, AddSongResponse{
		Message: "Song added",
		Song:    songDTO(song),
	})
}

// handleAddSongURL handles POST /api/songs/url
func (s *Server) handleAddSongURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req AddSongURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	song, err := s.service.AddSongFromURL(ctx, req.URL)
	if err != nil {
		s.respondServiceError(w, "Failed to add song from URL", err)
		return
	}

	s.respondJSON(w, http.StatusCreated, AddSongResponse{
		Message: "Song added",
		Song:    songDTO(song),
	})
}

// handleIdentify handles POST /api/identify
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSnippetBytes)
	tempPath, tempDir, err := s.saveUpload(r, maxSnippetBytes)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer os.RemoveAll(tempDir)

	scheme, err := freezam.ParseScheme(r.FormValue("type"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	allWindows := false
	if v := r.FormValue("all_windows"); v != "" {
		allWindows, err = strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "all_windows must be a boolean")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), identifyTimeout)
	defer cancel()

	res, err := s.service.Identify(ctx, tempPath, freezam.IdentifyOptions{
		Scheme:     scheme,
		AllWindows: allWindows,
	})
	if err != nil {
		s.respondServiceError(w, "Failed to identify snippet", err)
		return
	}

	s.respondJSON(w, http.StatusOK, identifyResponse(scheme, res))
}

// handleIdentifyFingerprints handles POST /api/identify/fingerprints
func (s *Server) handleIdentifyFingerprints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req IdentifyFingerprintsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSnippetBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	scheme, err := freezam.ParseScheme(req.Type)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), identifyTimeout)
	defer cancel()

	res, err := s.service.IdentifyFingerprints(ctx, freezam.Query{V1: req.V1, V2: req.V2}, freezam.IdentifyOptions{
		Scheme:     scheme,
		AllWindows: req.AllWindows,
	})
	if err != nil {
		s.respondServiceError(w, "Failed to identify fingerprints", err)
		return
	}

	s.respondJSON(w, http.StatusOK, identifyResponse(scheme, res))
}

// handleAdmin handles POST /api/admin/{action}
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	action := strings.TrimPrefix(r.URL.Path, "/api/admin/")
	var (
		n   int
		err error
	)
	switch action {
	case "rm_dup":
		n, err = s.service.RemoveDuplicates()
	case "rm_unfingerprinted":
		n, err = s.service.RemoveUnfingerprinted()
	default:
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("unknown admin action %q", action))
		return
	}
	if err != nil {
		s.respondServiceError(w, "Admin action failed", err)
		return
	}

	s.respondJSON(w, http.StatusOK, DeleteResponse{
		Message: fmt.Sprintf("%s removed %d songs", action, n),
		Removed: n,
	})
}

// handleSongs dispatches /api/songs by method
func (s *Server) handleSongs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListSongs(w, r)
	case http.MethodPost:
		s.handleAddSong(w, r)
	case http.MethodPatch:
		s.handleUpdateSong(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleSong dispatches /api/songs/{id} by method
func (s *Server) handleSong(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/songs/")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id == 0 {
		s.respondError(w, http.StatusBadRequest, "Invalid song ID")
		return
	}
	songID := uint32(id)

	switch r.Method {
	case http.MethodGet:
		s.handleGetSong(w, r, songID)
	case http.MethodDelete:
		s.handleDeleteSong(w, r, songID)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}
