// Package api exposes the HTTP surface: download submission and
// control, progress polling, catalog search, manuscript listings and
// the live progress WebSocket.
package api

import (
	"net/http"

	"github.com/iiifstudio/backend/internal/discovery"
	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/health"
	"github.com/iiifstudio/backend/internal/jobs"
	"github.com/iiifstudio/backend/internal/metrics"
	"github.com/iiifstudio/backend/internal/pipeline"
	"github.com/iiifstudio/backend/internal/resolver"
	"github.com/iiifstudio/backend/internal/storage"
	"github.com/iiifstudio/backend/internal/vault"
	"github.com/iiifstudio/backend/internal/websocket"
)

type Router struct {
	mux *http.ServeMux

	downloads *DownloadHandlers
	discovery *DiscoveryHandlers
	library   *LibraryHandlers
	ws        *websocket.Handler
	health    *health.Handler
	metrics   *metrics.Metrics
	pages     *PagesHandler

	downloadsDir string
}

// RouterConfig collects the handler dependencies
type RouterConfig struct {
	Pipeline     *pipeline.Service
	Manager      *jobs.Manager
	Discovery    *discovery.Service
	Registry     *resolver.Registry
	Manuscripts  *vault.ManuscriptRepository
	Transcripts  *vault.TranscriptionRepository
	Settings     *vault.SettingsRepository
	WS           *websocket.Handler
	Health       *health.Handler
	Metrics      *metrics.Metrics
	Storage      *storage.Client
	DownloadsDir string
}

func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		mux:          http.NewServeMux(),
		downloads:    NewDownloadHandlers(cfg.Pipeline, cfg.Manager),
		discovery:    NewDiscoveryHandlers(cfg.Discovery, cfg.Pipeline, cfg.Registry),
		library:      NewLibraryHandlers(cfg.Manuscripts, cfg.Transcripts, cfg.Settings),
		ws:           cfg.WS,
		health:       cfg.Health,
		metrics:      cfg.Metrics,
		pages:        NewPagesHandler(cfg.DownloadsDir, cfg.Storage),
		downloadsDir: cfg.DownloadsDir,
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	handle := func(pattern string, h apperrors.Handler) {
		r.mux.HandleFunc(pattern, apperrors.HandleFunc(h))
	}

	// Health and metrics
	r.mux.HandleFunc("GET /health", r.health.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.health.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.health.ReadinessHandler)
	if r.metrics != nil {
		r.mux.HandleFunc("GET /metrics", r.metrics.Handler())
	}

	// Identifier resolution and catalog search
	handle("GET /api/resolve", r.discovery.Resolve)
	handle("GET /api/search", r.discovery.Search)
	handle("GET /api/preview", r.discovery.Preview)
	handle("GET /api/libraries", r.discovery.Libraries)

	// Download jobs
	handle("POST /api/downloads", r.downloads.Submit)
	handle("GET /api/downloads", r.downloads.List)
	handle("GET /api/download_status/{job_id}", r.downloads.Status)
	handle("POST /api/downloads/{job_id}/cancel", r.downloads.Cancel)
	handle("POST /api/downloads/{job_id}/pause", r.downloads.Pause)
	handle("POST /api/downloads/{job_id}/resume", r.downloads.Resume)
	handle("POST /api/downloads/{job_id}/retry", r.downloads.Retry)
	handle("POST /api/downloads/{job_id}/prioritize", r.downloads.Prioritize)
	handle("DELETE /api/downloads/{job_id}", r.downloads.Remove)

	// OCR jobs
	handle("POST /api/ocr", r.downloads.SubmitOCR)

	// Local library
	handle("GET /api/manuscripts", r.library.ListManuscripts)
	handle("GET /api/manuscripts/{library}/{id}", r.library.GetManuscript)
	handle("DELETE /api/manuscripts/{library}/{id}", r.library.DeleteManuscript)
	handle("GET /api/manuscripts/{library}/{id}/transcriptions", r.library.ListTranscriptions)

	// Settings
	handle("GET /api/settings", r.library.GetSettings)
	handle("PUT /api/settings", r.library.PutSettings)

	// Live progress
	if r.ws != nil {
		r.mux.HandleFunc("GET /ws/progress", r.ws.ServeWS)
	}

	// Downloaded page images, with the archive as a fallback source
	if r.downloadsDir != "" {
		r.mux.Handle("GET /pages/", http.StripPrefix("/pages/", r.pages))
	}
}
