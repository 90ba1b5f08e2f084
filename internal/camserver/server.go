package camserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/asgsync/gallery/internal/models"
)

const defaultPageLimit = 20

// Options tunes the simulated camera server.
type Options struct {
	// RateLimit allows this many requests per RateWindow. Zero disables
	// limiting.
	RateLimit  int
	RateWindow time.Duration
	// CameraBusy simulates an active recording session.
	CameraBusy bool
}

// Server implements the camera firmware's HTTP contract over a Library.
type Server struct {
	lib  *Library
	opts Options
	rate *rateLimiter
	now  func() time.Time
}

// NewServer creates a camera server over the given library.
func NewServer(lib *Library, opts Options) *Server {
	window := opts.RateWindow
	if window <= 0 {
		window = time.Second
	}
	return &Server{
		lib:  lib,
		opts: opts,
		rate: newRateLimiter(opts.RateLimit, window),
		now:  time.Now,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.rate.middleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/status", s.handleStatus)
	r.Get("/api/gallery", s.handleGallery)
	r.Get("/api/photo", s.handlePhoto)
	r.Get("/api/download", s.handleDownload)
	r.Get("/api/sync", s.handleSync)
	r.Post("/api/delete-files", s.handleDeleteFiles)
	r.Post("/api/take-picture", s.handleTakePicture)
	r.Post("/api/cleanup", s.handleCleanup)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.HealthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	photos, videos := s.lib.Counts()
	respondSuccess(w, models.StatusData{
		PhotoCount: photos,
		VideoCount: videos,
		TotalCount: photos + videos,
		HasContent: photos+videos > 0,
		CameraBusy: s.opts.CameraBusy,
	})
}

func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageLimit)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	all := s.lib.List()
	total := len(all)

	end := offset + limit
	if offset > total {
		offset = total
	}
	if end > total {
		end = total
	}

	page := all[offset:end]
	records := make([]models.PhotoRecord, 0, len(page))
	var totalSize int64
	for _, f := range all {
		totalSize += int64(len(f.Data))
	}
	for _, f := range page {
		records = append(records, toRecord(f))
	}

	respondSuccess(w, models.GalleryData{
		Photos:        records,
		TotalCount:    total,
		ReturnedCount: len(records),
		HasMore:       end < total,
		Offset:        offset,
		Limit:         limit,
		TotalSize:     totalSize,
	})
}

// handlePhoto serves the stored bytes for any media name, photos and videos
// alike, exactly as the firmware does. A thumbnail=true query swaps in the
// downscaled preview when one can be produced.
func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	f, ok := s.lib.Get(models.SanitizeMediaName(name))
	if !ok {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}

	if r.URL.Query().Get("thumbnail") == "true" {
		if thumb, ok := s.lib.Thumbnail(f.Name); ok {
			serveBytes(w, "image/jpeg", thumb)
			return
		}
	}
	serveBytes(w, f.MimeType, f.Data)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	f, ok := s.lib.Get(models.SanitizeMediaName(name))
	if !ok {
		respondError(w, http.StatusNotFound, "file not found")
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+f.Name+`"`)
	serveBytes(w, f.MimeType, f.Data)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	lastSync := r.URL.Query().Get("last_sync_time")

	var cutoff time.Time
	if lastSync != "" {
		t, err := time.Parse(models.ServerTimeLayout, lastSync)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid last_sync_time")
			return
		}
		cutoff = t
	}

	changed, deleted := s.lib.ChangedSince(cutoff)
	records := make([]models.PhotoRecord, 0, len(changed))
	var totalSize int64
	for _, f := range changed {
		records = append(records, toRecord(f))
		totalSize += int64(len(f.Data))
	}
	if deleted == nil {
		deleted = []string{}
	}

	respondSuccess(w, models.SyncData{
		ClientID:     clientID,
		ChangedFiles: records,
		DeletedFiles: deleted,
		ServerTime:   s.now().Format(models.ServerTimeLayout),
		TotalChanged: len(records),
		TotalSize:    totalSize,
	})
}

func (s *Server) handleDeleteFiles(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteFilesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Files) == 0 {
		respondError(w, http.StatusBadRequest, "no files specified")
		return
	}

	results := make([]models.DeleteFileResult, 0, len(req.Files))
	for _, name := range req.Files {
		name = models.SanitizeMediaName(name)
		if s.lib.Delete(name) {
			results = append(results, models.DeleteFileResult{File: name, Success: true})
		} else {
			results = append(results, models.DeleteFileResult{File: name, Success: false, Error: "not found"})
		}
	}
	respondSuccess(w, models.DeleteFilesData{Results: results})
}

func (s *Server) handleTakePicture(w http.ResponseWriter, r *http.Request) {
	if s.opts.CameraBusy {
		respondError(w, http.StatusConflict, "camera busy")
		return
	}
	name := s.lib.Capture()
	respondSuccess(w, models.TakePictureData{Message: "captured " + name})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	n := s.lib.Clear()
	respondSuccess(w, map[string]int{"removed": n})
}

func toRecord(f *mediaFile) models.PhotoRecord {
	return models.PhotoRecord{
		Name:        f.Name,
		URL:         "/api/photo?file=" + f.Name,
		DownloadURL: "/api/download?file=" + f.Name,
		Size:        int64(len(f.Data)),
		Modified:    f.Modified.Format(models.ServerTimeLayout),
		MimeType:    f.MimeType,
		IsVideo:     f.IsVideo,
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func serveBytes(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func respondSuccess(w http.ResponseWriter, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	respondJSON(w, http.StatusOK, models.Envelope{
		Status: models.StatusSuccess,
		Data:   payload,
	})
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, models.Envelope{
		Status:  models.StatusError,
		Message: message,
	})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
