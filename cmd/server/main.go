package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iiifstudio/backend/internal/api"
	"github.com/iiifstudio/backend/internal/cache"
	"github.com/iiifstudio/backend/internal/config"
	"github.com/iiifstudio/backend/internal/discovery"
	"github.com/iiifstudio/backend/internal/downloader"
	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/health"
	"github.com/iiifstudio/backend/internal/jobs"
	"github.com/iiifstudio/backend/internal/logger"
	"github.com/iiifstudio/backend/internal/manifest"
	"github.com/iiifstudio/backend/internal/metrics"
	"github.com/iiifstudio/backend/internal/middleware"
	"github.com/iiifstudio/backend/internal/ocr"
	"github.com/iiifstudio/backend/internal/pipeline"
	"github.com/iiifstudio/backend/internal/resolver"
	"github.com/iiifstudio/backend/internal/storage"
	"github.com/iiifstudio/backend/internal/vault"
	"github.com/iiifstudio/backend/internal/websocket"
)

const version = "1.0.0"

func main() {
	godotenv.Load()
	cfg := config.Load()

	log := logger.New(os.Stdout, logger.ParseLevel(cfg.LogLevel), "server")
	logger.SetDefault(log)
	ctx := context.Background()

	// Durable store
	v, err := vault.Open(cfg.VaultPath)
	if err != nil {
		log.Error(ctx, "failed to open vault", err)
		os.Exit(1)
	}
	defer v.Close()
	if err := v.Migrate(); err != nil {
		log.Error(ctx, "failed to run vault migrations", err)
		os.Exit(1)
	}

	jobsRepo := vault.NewJobRepository(v)
	manuscripts := vault.NewManuscriptRepository(v)
	transcripts := vault.NewTranscriptionRepository(v)
	settings := vault.NewSettingsRepository(v)

	// Jobs interrupted by the previous process cannot be resumed
	// in-memory; mark them so the UI offers a retry.
	if n, err := jobsRepo.ResetInterruptedJobs(ctx); err != nil {
		log.Warn(ctx, "failed to reset interrupted jobs", map[string]interface{}{"error": err.Error()})
	} else if n > 0 {
		log.Info(ctx, "marked interrupted jobs", map[string]interface{}{"count": n})
	}

	// Optional Redis manifest cache
	var manifestCache manifest.Cache
	var redisCache *cache.Cache
	if cfg.RedisAddr != "" {
		redisCache, err = cache.New(cfg.RedisAddr, cfg.ManifestCacheTTL)
		if err != nil {
			log.Warn(ctx, "manifest cache unavailable, fetching uncached", map[string]interface{}{
				"addr":  cfg.RedisAddr,
				"error": err.Error(),
			})
		} else {
			manifestCache = redisCache
		}
	}

	client := manifest.NewClient(cfg.ManifestTimeout, manifestCache)
	registry := resolver.DefaultRegistry()
	engine := downloader.NewEngine(client, cfg.ImageQuality)

	// Optional object storage archive
	var archiver storage.Archiver
	var streamClient *storage.Client
	var storageCheck func(ctx context.Context) error
	if cfg.ArchiveEnabled {
		s3, err := storage.NewS3Archiver(cfg)
		if err != nil {
			log.Error(ctx, "failed to create archiver", err)
			os.Exit(1)
		}
		archiver = s3

		streamClient, err = storage.New(cfg)
		if err != nil {
			log.Error(ctx, "failed to create storage client", err)
			os.Exit(1)
		}
		if err := streamClient.EnsureBucket(ctx); err != nil {
			log.Warn(ctx, "failed to ensure archive bucket", map[string]interface{}{"error": err.Error()})
		}
		storageCheck = streamClient.Ping
	}

	// Live progress fan-out
	hub := websocket.NewHub()
	go hub.Run()

	manager := jobs.NewManager(cfg.WorkerCount, pipeline.NewVaultPersister(jobsRepo), hub)

	var ocrProcessor ocr.ProcessPageFunc
	if cfg.OCRServiceURL != "" {
		ocrProcessor = ocr.NewHTTPProcessor(cfg.OCRServiceURL, 2*time.Minute)
	}

	svc := pipeline.NewService(pipeline.Config{
		Registry:     registry,
		Engine:       engine,
		Manager:      manager,
		JobsRepo:     jobsRepo,
		Manuscripts:  manuscripts,
		Transcripts:  transcripts,
		Archiver:     archiver,
		DownloadsDir: cfg.DownloadsDir,
		OCRProcessor: ocrProcessor,
	})

	healthCfg := &health.CheckerConfig{
		Vault:        v.DB,
		StorageCheck: storageCheck,
		Version:      version,
	}
	if redisCache != nil {
		healthCfg.Redis = redisCache.Client()
	}
	checker := health.NewChecker(healthCfg)

	m := metrics.Default()
	go trackQueueMetrics(manager, m)

	router := api.NewRouter(api.RouterConfig{
		Pipeline:     svc,
		Manager:      manager,
		Discovery:    discovery.NewService(client, registry),
		Registry:     registry,
		Manuscripts:  manuscripts,
		Transcripts:  transcripts,
		Settings:     settings,
		WS:           websocket.NewHandler(hub),
		Health:       health.NewHandler(checker),
		Metrics:      m,
		Storage:      streamClient,
		DownloadsDir: cfg.DownloadsDir,
	})

	handler := middleware.Chain(router,
		middleware.Recoverer(log),
		apperrors.RequestIDMiddleware,
		logger.LoggingMiddleware,
		metrics.MetricsMiddleware(m),
		middleware.CORS([]string{"*"}),
		middleware.Timing,
		middleware.Gzip,
		middleware.ETag,
	)

	server := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info(ctx, "server listening", map[string]interface{}{
			"addr":    cfg.ServerAddr,
			"workers": cfg.WorkerCount,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server failed", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop accepting requests, then let running
	// downloads reach their next safe point.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn(ctx, "shutdown did not finish cleanly", map[string]interface{}{"error": err.Error()})
	}

	manager.Shutdown()
	manager.Wait()
	log.Info(ctx, "server stopped")
}

// trackQueueMetrics keeps the queue gauges in sync with the job manager
func trackQueueMetrics(manager *jobs.Manager, m *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		var queued, running int64
		for _, job := range manager.List(true) {
			switch job.Status {
			case jobs.StatusQueued:
				queued++
			case jobs.StatusRunning:
				running++
			}
		}
		m.SetDownloadQueueLength(queued)
		m.SetActiveDownloads(running)
	}
}
