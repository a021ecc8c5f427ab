// Package pipeline wires resolution, the job manager, the download
// engine and the vault into the operations the API exposes.
package pipeline

import (
	"context"
	"fmt"

	"github.com/iiifstudio/backend/internal/catalog"
	"github.com/iiifstudio/backend/internal/downloader"
	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/jobs"
	"github.com/iiifstudio/backend/internal/logger"
	"github.com/iiifstudio/backend/internal/ocr"
	"github.com/iiifstudio/backend/internal/resolver"
	"github.com/iiifstudio/backend/internal/storage"
	"github.com/iiifstudio/backend/internal/util"
	"github.com/iiifstudio/backend/internal/vault"
)

// Service orchestrates download and OCR jobs end to end
type Service struct {
	registry     *resolver.Registry
	engine       *downloader.Engine
	manager      *jobs.Manager
	jobsRepo     *vault.JobRepository
	manuscripts  *vault.ManuscriptRepository
	transcripts  *vault.TranscriptionRepository
	archiver     storage.Archiver
	downloadsDir string
	ocrProcessor ocr.ProcessPageFunc
	log          *logger.Logger
}

// Config collects the service collaborators. Archiver and OCRProcessor
// may be nil, disabling the respective features.
type Config struct {
	Registry     *resolver.Registry
	Engine       *downloader.Engine
	Manager      *jobs.Manager
	JobsRepo     *vault.JobRepository
	Manuscripts  *vault.ManuscriptRepository
	Transcripts  *vault.TranscriptionRepository
	Archiver     storage.Archiver
	DownloadsDir string
	OCRProcessor ocr.ProcessPageFunc
}

// NewService creates the pipeline service
func NewService(cfg Config) *Service {
	return &Service{
		registry:     cfg.Registry,
		engine:       cfg.Engine,
		manager:      cfg.Manager,
		jobsRepo:     cfg.JobsRepo,
		manuscripts:  cfg.Manuscripts,
		transcripts:  cfg.Transcripts,
		archiver:     cfg.Archiver,
		downloadsDir: cfg.DownloadsDir,
		ocrProcessor: cfg.OCRProcessor,
		log:          logger.Default().WithComponent("pipeline"),
	}
}

// Resolve maps a free-form identifier to its canonical manifest URL,
// distinguishing "no library recognized this" from "recognized but
// malformed".
func (s *Service) Resolve(library, input string) (resolver.Resolution, error) {
	res := s.registry.Resolve(library, input)
	if res.Valid {
		return res, nil
	}
	if res.Error != "" {
		return res, apperrors.InvalidIdentifier(res.Error)
	}
	return res, apperrors.UnresolvedIdentifier(input)
}

// SubmitDownload resolves the identifier and enqueues a download job.
// The job ID is deterministic from (library, manifest URL), so
// re-submitting the same document reuses the tracked job instead of
// duplicating it.
func (s *Service) SubmitDownload(ctx context.Context, library, input string) (string, resolver.Resolution, error) {
	res, err := s.Resolve(library, input)
	if err != nil {
		return "", res, err
	}

	jobID := util.JobID(string(res.Library), res.ManifestURL)
	task := s.downloadTask(res)

	id, err := s.manager.Submit(jobs.SubmitSpec{
		JobID:       jobID,
		Type:        jobs.TypeDownload,
		DocID:       res.DocID,
		Library:     string(res.Library),
		ManifestURL: res.ManifestURL,
		Task:        task,
	})
	if err != nil {
		return "", res, err
	}

	s.log.Info(ctx, "download submitted", map[string]interface{}{
		"job_id":  id,
		"doc_id":  res.DocID,
		"library": res.Library,
	})
	return id, res, nil
}

// downloadTask builds the closure the job manager runs: engine run,
// then manuscript registration and optional archive on success.
func (s *Service) downloadTask(res resolver.Resolution) jobs.Task {
	return func(progress func(current, total int), shouldStop func() bool) error {
		ctx := context.Background()

		result, err := s.engine.Run(ctx, downloader.RunSpec{
			ManifestURL: res.ManifestURL,
			Library:     string(res.Library),
			DocID:       res.DocID,
			OutputDir:   s.downloadsDir,
			Progress:    progress,
			ShouldStop:  shouldStop,
		})
		if err != nil {
			return err
		}
		if result.Stopped {
			// Cancelled or paused at a safe point; the manager settles
			// the final state from its control flags.
			return nil
		}

		s.registerManuscript(ctx, res, result)
		s.archive(ctx, res, result)
		return nil
	}
}

// registerManuscript mirrors a completed download into the manuscripts
// table. Vault failures are logged, never fatal to the job.
func (s *Service) registerManuscript(ctx context.Context, res resolver.Resolution, result *downloader.Result) {
	if s.manuscripts == nil {
		return
	}
	inference := catalog.InferItemType(result.Title, "", nil)
	err := s.manuscripts.UpsertManuscript(ctx,
		res.DocID, string(res.Library), result.Title, result.DocDir,
		string(inference.Type), result.PageCount)
	if err != nil {
		s.log.Warn(ctx, "failed to register manuscript", map[string]interface{}{
			"doc_id": res.DocID,
			"error":  err.Error(),
		})
	}
}

// archive pushes the completed document to object storage when an
// archiver is configured
func (s *Service) archive(ctx context.Context, res resolver.Resolution, result *downloader.Result) {
	if s.archiver == nil {
		return
	}
	archived, err := s.archiver.Archive(ctx, result.DocDir, storage.DocumentMetadata{
		DocID:   res.DocID,
		Library: string(res.Library),
	})
	if err != nil {
		s.log.Warn(ctx, "archive upload failed", map[string]interface{}{
			"doc_id": res.DocID,
			"error":  err.Error(),
		})
		return
	}
	s.log.Info(ctx, "document archived", map[string]interface{}{
		"doc_id": res.DocID,
		"key":    archived.StorageKey,
		"is_new": archived.IsNew,
	})
}

// SubmitOCR enqueues a transcription batch over an already downloaded
// document. Results land in the transcriptions table page by page.
func (s *Service) SubmitOCR(ctx context.Context, docID, library, engine, model string, pages []int) (string, error) {
	if s.ocrProcessor == nil {
		return "", apperrors.OCRError("no OCR engine configured")
	}

	ms, err := s.manuscripts.GetManuscript(ctx, docID, library)
	if err != nil {
		return "", apperrors.ManuscriptNotFound().WithCause(err)
	}
	if !ms.LocalPath.Valid || ms.LocalPath.String == "" {
		return "", apperrors.OCRError("manuscript has no local files")
	}
	docDir := ms.LocalPath.String

	jobID := util.JobID(library, fmt.Sprintf("ocr:%s:%s", docID, engine))
	task := func(progress func(current, total int), shouldStop func() bool) error {
		return ocr.RunBatch(context.Background(), ocr.BatchSpec{
			DocDir:  docDir,
			Engine:  engine,
			Model:   model,
			Pages:   pages,
			Process: s.ocrProcessor,
			OnPage:  s.storeTranscription(docID, library, model),
		}, progress, shouldStop)
	}

	return s.manager.Submit(jobs.SubmitSpec{
		JobID:   jobID,
		Type:    jobs.TypeOCR,
		DocID:   docID,
		Library: library,
		Task:    task,
	})
}

func (s *Service) storeTranscription(docID, library, model string) func(page int, result *ocr.PageResult) {
	return func(page int, result *ocr.PageResult) {
		if s.transcripts == nil || result == nil || result.Error != "" {
			return
		}
		t := vault.Transcription{
			DocID:      docID,
			Library:    library,
			Page:       page,
			Engine:     result.Engine,
			Confidence: result.AverageConfidence,
		}
		if model != "" {
			t.Model.String, t.Model.Valid = model, true
		}
		if result.FullText != "" {
			t.FullText.String, t.FullText.Valid = result.FullText, true
		}
		if err := s.transcripts.UpsertTranscription(context.Background(), t); err != nil {
			s.log.Warn(context.Background(), "failed to store transcription", map[string]interface{}{
				"doc_id": docID,
				"page":   page,
				"error":  err.Error(),
			})
		}
	}
}

// JobStatus is the polling view of one job
type JobStatus struct {
	JobID   string  `json:"job_id"`
	Status  string  `json:"status"`
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Error   string  `json:"error,omitempty"`
}

// Status reports a job's progress. Jobs unknown to the in-memory
// manager (e.g. from a previous process) fall back to the vault row.
func (s *Service) Status(ctx context.Context, jobID string) (JobStatus, error) {
	if job, err := s.manager.Get(jobID); err == nil {
		return JobStatus{
			JobID:   job.ID,
			Status:  job.Status,
			Current: job.Current,
			Total:   job.Total,
			Percent: job.Percent(),
			Error:   job.Error,
		}, nil
	}

	row, err := s.jobsRepo.GetDownloadJob(ctx, jobID)
	if err != nil {
		return JobStatus{}, apperrors.JobNotFound()
	}
	status := JobStatus{
		JobID:   row.JobID,
		Status:  row.Status,
		Current: row.Current,
		Total:   row.Total,
		Error:   row.Error.String,
	}
	if row.Total > 0 {
		status.Percent = float64(row.Current) / float64(row.Total) * 100
	}
	return status, nil
}

// VaultPersister adapts the job repository to the manager's Persister
// interface
type VaultPersister struct {
	repo *vault.JobRepository
}

// NewVaultPersister wraps a job repository
func NewVaultPersister(repo *vault.JobRepository) *VaultPersister {
	return &VaultPersister{repo: repo}
}

func (p *VaultPersister) CreateJob(ctx context.Context, job jobs.Job) error {
	return p.repo.CreateDownloadJob(ctx, job.ID, job.Type, job.DocID, job.Library, job.ManifestURL)
}

func (p *VaultPersister) UpdateJob(ctx context.Context, job jobs.Job) error {
	return p.repo.UpdateDownloadJob(ctx, job.ID, job.Current, job.Total, job.Status, job.Error)
}

func (p *VaultPersister) DeleteJob(ctx context.Context, jobID string) error {
	return p.repo.DeleteDownloadJob(ctx, jobID)
}
