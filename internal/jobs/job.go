package jobs

import (
	"time"
)

// Job status constants representing the job lifecycle
const (
	StatusQueued     = "queued"
	StatusRunning    = "running"
	StatusPaused     = "paused"
	StatusCancelling = "cancelling"
	StatusCancelled  = "cancelled"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Job type constants
const (
	TypeDownload = "download"
	TypeOCR      = "ocr"
)

// Job is the public snapshot of one tracked job
type Job struct {
	ID            string     `json:"job_id"`
	Type          string     `json:"type"`
	DocID         string     `json:"doc_id,omitempty"`
	Library       string     `json:"library,omitempty"`
	ManifestURL   string     `json:"manifest_url,omitempty"`
	Status        string     `json:"status"`
	Current       int        `json:"current"`
	Total         int        `json:"total"`
	Error         string     `json:"error,omitempty"`
	QueuePosition int        `json:"queue_position,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal returns true when the job will make no further progress
func (j *Job) IsTerminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusError || j.Status == StatusCancelled
}

// IsActive returns true for jobs that are queued, running or winding down
func (j *Job) IsActive() bool {
	return j.Status == StatusQueued || j.Status == StatusRunning || j.Status == StatusCancelling
}

// Percent returns completion as 0-100, 0 when the total is unknown
func (j *Job) Percent() float64 {
	if j.Total <= 0 {
		return 0
	}
	return float64(j.Current) / float64(j.Total) * 100
}

// Task is the unit of work a job runs. progress reports completed units
// out of a total; shouldStop is polled between units and returns true
// when a cancel or pause was requested, after which the task should
// return promptly with a nil error.
type Task func(progress func(current, total int), shouldStop func() bool) error
