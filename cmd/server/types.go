package main

import (
	"fmt"
	"time"

	"github.com/himanishpuri/freezam/pkg/freezam"
	"github.com/himanishpuri/freezam/pkg/models"
)

// AddSongURLRequest is the request body for POST /api/songs/url
type AddSongURLRequest struct {
	URL string `json:"url"`
}

func (r *AddSongURLRequest) Validate() error {
	if r.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// UpdateSongRequest is the request body for PATCH /api/songs
type UpdateSongRequest struct {
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
}

func (r *UpdateSongRequest) Validate() error {
	if r.Title == "" {
		return fmt.Errorf("title is required")
	}
	if r.Artist == "" && r.Album == "" {
		return fmt.Errorf("artist or album is required")
	}
	return nil
}

// SongDTO represents a song in API responses
type SongDTO struct {
	ID            uint32    `json:"id"`
	Title         string    `json:"title"`
	Artist        string    `json:"artist,omitempty"`
	Album         string    `json:"album,omitempty"`
	URL           string    `json:"url,omitempty"`
	DurationMs    int       `json:"duration_ms"`
	Fingerprinted bool      `json:"fingerprinted"`
	CreatedAt     time.Time `json:"created_at"`
}

func songDTO(s *models.Song) SongDTO {
	return SongDTO{
		ID:            s.ID,
		Title:         s.Title,
		Artist:        s.Artist,
		Album:         s.Album,
		URL:           s.URL,
		DurationMs:    s.DurationMs,
		Fingerprinted: s.Fingerprinted,
		CreatedAt:     s.CreatedAt,
	}
}

// ListSongsResponse is the response for GET /api/songs
type ListSongsResponse struct {
	Songs []SongDTO `json:"songs"`
	Count int       `json:"count"`
}

// AddSongResponse is the response for successful song addition
type AddSongResponse struct {
	Message string  `json:"message"`
	Song    SongDTO `json:"song"`
}

// DeleteResponse is the response for deletions and admin actions
type DeleteResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
}

// IdentifyFingerprintsRequest is the request body for
// POST /api/identify/fingerprints, produced by the WASM module.
type IdentifyFingerprintsRequest struct {
	Type       string      `json:"type"`
	AllWindows bool        `json:"all_windows"`
	V1         []float64   `json:"v1,omitempty"`
	V2         [][]float64 `json:"v2,omitempty"`
}

func (r *IdentifyFingerprintsRequest) Validate() error {
	if len(r.V1) == 0 && len(r.V2) == 0 {
		return fmt.Errorf("v1 or v2 fingerprints are required")
	}
	return nil
}

// MatchDTO is one best-matching song
type MatchDTO struct {
	SongID uint32 `json:"song_id"`
	Title  string `json:"title"`
}

// IdentifyResponse is the response for POST /api/identify
type IdentifyResponse struct {
	Scheme  string     `json:"scheme"`
	Count   int        `json:"count"`
	Matches []MatchDTO `json:"matches"`
}

func identifyResponse(scheme freezam.Scheme, res *freezam.IdentifyResult) IdentifyResponse {
	out := IdentifyResponse{Scheme: scheme.String(), Count: res.Count, Matches: make([]MatchDTO, len(res.SongIDs))}
	for i, id := range res.SongIDs {
		out.Matches[i] = MatchDTO{SongID: id, Title: res.Titles[i]}
	}
	return out
}

// MetricsResponse provides server health and database metrics
type MetricsResponse struct {
	Status             string `json:"status"`
	Backend            string `json:"backend"`
	DatabasePath       string `json:"database_path"`
	SongCount          int    `json:"song_count"`
	UnfingerprintedCnt int    `json:"unfingerprinted_count"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
