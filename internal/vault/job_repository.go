package vault

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("download job not found")

// DownloadJob is the persisted row for one job. JobType separates
// downloads from OCR batches sharing the table.
type DownloadJob struct {
	JobID       string
	JobType     string
	DocID       string
	Library     string
	ManifestURL string
	Current     int
	Total       int
	Status      string
	Error       sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type JobRepository struct {
	vault *Vault
}

func NewJobRepository(vault *Vault) *JobRepository {
	return &JobRepository{vault: vault}
}

// CreateDownloadJob registers a job row. Idempotent on job_id: a
// re-submitted job leaves the existing row untouched. An empty
// jobType defaults to download.
func (r *JobRepository) CreateDownloadJob(ctx context.Context, jobID, jobType, docID, library, manifestURL string) error {
	if jobType == "" {
		jobType = "download"
	}
	query := `
		INSERT INTO download_jobs (job_id, job_type, doc_id, library, manifest_url, current, total, status)
		VALUES (?, ?, ?, ?, ?, 0, 0, 'queued')
		ON CONFLICT (job_id) DO NOTHING
	`
	_, err := r.vault.ExecContext(ctx, query, jobID, jobType, docID, library, manifestURL)
	return err
}

// UpdateDownloadJob upserts progress and status by job_id. errMsg is
// stored as NULL when empty.
func (r *JobRepository) UpdateDownloadJob(ctx context.Context, jobID string, current, total int, status, errMsg string) error {
	var errVal sql.NullString
	if errMsg != "" {
		errVal = sql.NullString{String: errMsg, Valid: true}
	}

	query := `
		UPDATE download_jobs
		SET current = ?, total = ?, status = ?, error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE job_id = ?
	`
	res, err := r.vault.ExecContext(ctx, query, current, total, status, errVal, jobID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetDownloadJob fetches one job row
func (r *JobRepository) GetDownloadJob(ctx context.Context, jobID string) (*DownloadJob, error) {
	query := `
		SELECT job_id, job_type, doc_id, library, manifest_url, current, total, status, error, created_at, updated_at
		FROM download_jobs
		WHERE job_id = ?
	`
	var job DownloadJob
	err := r.vault.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID, &job.JobType, &job.DocID, &job.Library, &job.ManifestURL,
		&job.Current, &job.Total, &job.Status, &job.Error,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListDownloadJobs returns all job rows, newest first
func (r *JobRepository) ListDownloadJobs(ctx context.Context) ([]DownloadJob, error) {
	query := `
		SELECT job_id, job_type, doc_id, library, manifest_url, current, total, status, error, created_at, updated_at
		FROM download_jobs
		ORDER BY created_at DESC
	`
	rows, err := r.vault.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []DownloadJob
	for rows.Next() {
		var job DownloadJob
		if err := rows.Scan(
			&job.JobID, &job.JobType, &job.DocID, &job.Library, &job.ManifestURL,
			&job.Current, &job.Total, &job.Status, &job.Error,
			&job.CreatedAt, &job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteDownloadJob removes a job row
func (r *JobRepository) DeleteDownloadJob(ctx context.Context, jobID string) error {
	_, err := r.vault.ExecContext(ctx, `DELETE FROM download_jobs WHERE job_id = ?`, jobID)
	return err
}

// ResetInterruptedJobs marks jobs left in a non-terminal state by a
// previous process as errored so the UI does not show phantom activity.
func (r *JobRepository) ResetInterruptedJobs(ctx context.Context) (int64, error) {
	query := `
		UPDATE download_jobs
		SET status = 'error', error = 'interrupted by shutdown', updated_at = CURRENT_TIMESTAMP
		WHERE status IN ('queued', 'running', 'cancelling', 'paused')
	`
	res, err := r.vault.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
