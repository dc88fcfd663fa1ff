package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"audiocache/internal/extract"
	"audiocache/internal/files"
	"audiocache/internal/logging"
	"audiocache/internal/search"
)

// AudioStore is the part of the retention store the handler reads from.
type AudioStore interface {
	Open(ctx context.Context, key string) (*os.File, *files.Artifact, error)
	Format() string
	ContentType() string
}

// Config holds handler settings.
type Config struct {
	// PublicBaseURL prefixes audio links. When empty it is derived from the request.
	PublicBaseURL string
	// Retention is added to an artifact's creation time to report its expiry.
	Retention time.Duration
	// SearchMaxResults caps /search responses.
	SearchMaxResults int
}

// Handler handles HTTP requests.
type Handler struct {
	extractor      extract.Extractor
	store          AudioStore
	searcher       search.Searcher
	inflight       *InflightLimiter
	metricsHandler http.Handler
	cfg            Config
	mux            *http.ServeMux
}

// NewHandler creates a new HTTP handler.
// If inflight is nil, concurrent extractions per client are not capped.
func NewHandler(extractor extract.Extractor, st AudioStore, inflight *InflightLimiter, cfg Config) *Handler {
	if cfg.SearchMaxResults <= 0 {
		cfg.SearchMaxResults = search.DefaultMaxResults
	}
	h := &Handler{
		extractor: extractor,
		store:     st,
		inflight:  inflight,
		cfg:       cfg,
		mux:       http.NewServeMux(),
	}
	h.registerRoutes()
	return h
}

// SetSearcher enables the /search endpoint.
func (h *Handler) SetSearcher(s search.Searcher) {
	h.searcher = s
}

// SetMetricsHandler exposes mh under /metrics.
func (h *Handler) SetMetricsHandler(mh http.Handler) {
	h.metricsHandler = mh
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /{$}", h.handleRoot)
	h.mux.HandleFunc("GET /download", h.handleDownload)
	h.mux.HandleFunc("GET /search", h.handleSearch)
	h.mux.HandleFunc("GET /audios/{file}", h.handleAudio)
	h.mux.HandleFunc("HEAD /audios/{file}", h.handleAudio)
	h.mux.HandleFunc("GET /metrics", h.handleMetrics)
	h.mux.HandleFunc("/", h.handleNotFound)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Internal.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// StatusResponse is the liveness response.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok", Message: "audiocache is running"})
}

func (h *Handler) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

// DownloadResponse is returned after a successful extraction.
type DownloadResponse struct {
	AudioURL            string `json:"audioUrl"`
	ExpirationTimestamp int64  `json:"expirationTimestamp"` // Unix seconds
	DirectURL           string `json:"directUrl,omitempty"` // Presigned mirror URL, if a mirror is configured
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	videoURL := strings.TrimSpace(r.URL.Query().Get("videoUrl"))
	if videoURL == "" {
		writeError(w, http.StatusBadRequest, "missing videoUrl parameter")
		return
	}

	if h.inflight != nil {
		client := extractIP(r)
		if !h.inflight.Acquire(client) {
			writeError(w, http.StatusTooManyRequests, "too many extractions in progress, try again when one finishes")
			return
		}
		defer h.inflight.Release(client)
	}

	res, err := h.extractor.Extract(r.Context(), videoURL)
	if err != nil {
		status, msg := extractErrorStatus(err)
		if status >= 500 {
			logging.Internal.Printf("extraction failed for %q: %v", videoURL, err)
		}
		writeError(w, status, msg)
		return
	}

	audioURL := res.AudioURL
	if audioURL == "" {
		audioURL = h.baseURL(r) + "/audios/" + res.Key + "." + h.store.Format()
	}

	writeJSON(w, http.StatusOK, DownloadResponse{
		AudioURL:            audioURL,
		ExpirationTimestamp: res.CreatedAt.Add(h.cfg.Retention).Unix(),
		DirectURL:           res.DirectURL,
	})
}

// extractErrorStatus maps an extraction failure to a status code and a
// message that is safe to show to clients.
func extractErrorStatus(err error) (int, string) {
	status := http.StatusInternalServerError
	if errors.Is(err, extract.ErrInvalidURL) || errors.Is(err, extract.ErrTooLong) {
		status = http.StatusBadRequest
	}

	var e *extract.Error
	if errors.As(err, &e) && e.Message != "" {
		return status, e.Message
	}
	return status, "extraction failed"
}

// baseURL returns the externally visible scheme and host.
func (h *Handler) baseURL(r *http.Request) string {
	if h.cfg.PublicBaseURL != "" {
		return strings.TrimRight(h.cfg.PublicBaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Search []search.Result `json:"search"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if h.searcher == nil {
		writeError(w, http.StatusServiceUnavailable, "search is not configured")
		return
	}

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "missing q parameter")
		return
	}

	results, err := h.searcher.Search(r.Context(), q, h.cfg.SearchMaxResults)
	if err != nil {
		logging.Internal.Printf("search failed for %q: %v", q, err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if results == nil {
		results = []search.Result{}
	}

	writeJSON(w, http.StatusOK, SearchResponse{Search: results})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metricsHandler == nil {
		h.handleNotFound(w, r)
		return
	}
	h.metricsHandler.ServeHTTP(w, r)
}
