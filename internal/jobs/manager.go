package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/logger"
)

// DefaultMaxConcurrent bounds simultaneously running jobs per job type
const DefaultMaxConcurrent = 4

// Persister mirrors job state into the durable vault. Implementations
// must be safe for concurrent use. A nil Persister disables mirroring.
type Persister interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, jobID string) error
}

// Notifier receives push notifications on job changes (progress and
// status transitions). A nil Notifier disables push.
type Notifier interface {
	JobUpdated(job Job)
}

// jobEntry is the manager-internal state for one job. All fields are
// guarded by the manager mutex.
type jobEntry struct {
	job             Job
	task            Task
	cancelRequested bool
	pauseRequested  bool
}

// Manager owns the in-memory job table: it accepts submissions,
// enforces bounded per-type concurrency with a FIFO queue, runs tasks
// on goroutines and serializes every state mutation behind one mutex.
// Control operations never block on worker execution.
type Manager struct {
	mu            sync.Mutex
	jobs          map[string]*jobEntry
	queues        map[string][]string
	running       map[string]int
	maxConcurrent int

	persister Persister
	notifier  Notifier
	log       *logger.Logger
	wg        sync.WaitGroup

	shuttingDown bool
}

// NewManager creates a job manager. maxConcurrent <= 0 selects the
// default bound.
func NewManager(maxConcurrent int, persister Persister, notifier Notifier) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Manager{
		jobs:          make(map[string]*jobEntry),
		queues:        make(map[string][]string),
		running:       make(map[string]int),
		maxConcurrent: maxConcurrent,
		persister:     persister,
		notifier:      notifier,
		log:           logger.Default().WithComponent("jobs"),
	}
}

// SubmitSpec describes a job submission
type SubmitSpec struct {
	JobID       string
	Type        string
	DocID       string
	Library     string
	ManifestURL string
	Task        Task
}

// Submit registers and enqueues a job. Submitting a job ID that is
// already queued or running returns the existing ID without spawning a
// second worker. A terminal job with the same ID is replaced by a fresh
// attempt.
func (m *Manager) Submit(spec SubmitSpec) (string, error) {
	if spec.JobID == "" {
		return "", apperrors.BadRequest("job id is required")
	}
	if spec.Task == nil {
		return "", apperrors.BadRequest("job task is required")
	}
	if spec.Type == "" {
		spec.Type = TypeDownload
	}

	m.mu.Lock()

	if existing, ok := m.jobs[spec.JobID]; ok && !existing.job.IsTerminal() {
		status := existing.job.Status
		m.mu.Unlock()
		m.log.Info(context.Background(), "job already tracked, reusing", map[string]interface{}{
			"job_id": spec.JobID,
			"status": status,
		})
		return spec.JobID, nil
	}

	now := time.Now().UTC()
	entry := &jobEntry{
		job: Job{
			ID:          spec.JobID,
			Type:        spec.Type,
			DocID:       spec.DocID,
			Library:     spec.Library,
			ManifestURL: spec.ManifestURL,
			Status:      StatusQueued,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		task: spec.Task,
	}
	m.jobs[spec.JobID] = entry
	m.queues[spec.Type] = append(m.queues[spec.Type], spec.JobID)
	snapshot := entry.job
	m.mu.Unlock()

	m.persistCreate(snapshot)
	m.notify(snapshot)
	m.dispatch(spec.Type)
	return spec.JobID, nil
}

// dispatch starts queued jobs of the given type while capacity remains
func (m *Manager) dispatch(jobType string) {
	for {
		m.mu.Lock()
		if m.shuttingDown || m.running[jobType] >= m.maxConcurrent || len(m.queues[jobType]) == 0 {
			m.mu.Unlock()
			return
		}

		jobID := m.queues[jobType][0]
		m.queues[jobType] = m.queues[jobType][1:]

		entry, ok := m.jobs[jobID]
		if !ok || entry.job.Status != StatusQueued {
			// Cancelled or removed while waiting in the queue
			m.mu.Unlock()
			continue
		}

		m.running[jobType]++
		now := time.Now().UTC()
		entry.job.Status = StatusRunning
		entry.job.StartedAt = &now
		entry.job.UpdatedAt = now
		snapshot := entry.job
		m.mu.Unlock()

		m.persistUpdate(snapshot)
		m.notify(snapshot)

		m.wg.Add(1)
		go m.run(jobID, jobType, entry.task)
	}
}

// run executes one job's task, converting panics and errors into the
// job's error status so one misbehaving task never takes down the
// manager or its siblings.
func (m *Manager) run(jobID, jobType string, task Task) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(context.Background(), "job task panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"job_id": jobID,
			})
			m.finish(jobID, jobType, fmt.Errorf("internal error: %v", r))
		}
	}()

	progress := func(current, total int) {
		m.reportProgress(jobID, current, total)
	}
	shouldStop := func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		entry, ok := m.jobs[jobID]
		if !ok {
			return true
		}
		return entry.cancelRequested || entry.pauseRequested
	}

	err := task(progress, shouldStop)
	m.finish(jobID, jobType, err)
}

// reportProgress applies a progress update. current is monotonically
// non-decreasing per attempt; stale reports are dropped. The vault is
// written only when (current, total) actually change.
func (m *Manager) reportProgress(jobID string, current, total int) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok || entry.job.Status != StatusRunning && entry.job.Status != StatusCancelling {
		m.mu.Unlock()
		return
	}
	if current < entry.job.Current && total == entry.job.Total {
		m.mu.Unlock()
		return
	}
	if current == entry.job.Current && total == entry.job.Total {
		m.mu.Unlock()
		return
	}
	entry.job.Current = current
	entry.job.Total = total
	entry.job.UpdatedAt = time.Now().UTC()
	snapshot := entry.job
	m.mu.Unlock()

	m.persistUpdate(snapshot)
	m.notify(snapshot)
}

// finish settles a job after its task returned, deciding the final
// state from the task error and any pending control flags, then frees
// the worker slot and dispatches the next queued job.
func (m *Manager) finish(jobID, jobType string, taskErr error) {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.running[jobType]--
		m.mu.Unlock()
		m.dispatch(jobType)
		return
	}

	now := time.Now().UTC()
	switch {
	case entry.cancelRequested:
		entry.job.Status = StatusCancelled
		entry.job.CompletedAt = &now
	case taskErr != nil:
		// A fatal task failure outranks a pending pause: settling as
		// paused would discard the error and silently re-run on resume.
		entry.job.Status = StatusError
		entry.job.Error = taskErr.Error()
		entry.job.CompletedAt = &now
	case entry.pauseRequested:
		entry.job.Status = StatusPaused
	default:
		entry.job.Status = StatusCompleted
		if entry.job.Total > 0 {
			entry.job.Current = entry.job.Total
		}
		entry.job.CompletedAt = &now
	}
	entry.cancelRequested = false
	entry.pauseRequested = false
	entry.job.UpdatedAt = now
	m.running[jobType]--
	snapshot := entry.job
	m.mu.Unlock()

	m.log.Info(context.Background(), "job finished", map[string]interface{}{
		"job_id": jobID,
		"status": snapshot.Status,
	})
	m.persistUpdate(snapshot)
	m.notify(snapshot)
	m.dispatch(jobType)
}

// Cancel requests cancellation. A queued job is cancelled immediately;
// a running job transitions to cancelling and settles at the task's
// next poll. Repeating the call on an already cancelled or cancelling
// job is a no-op.
func (m *Manager) Cancel(jobID string) error {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return apperrors.JobNotFound()
	}

	switch entry.job.Status {
	case StatusCancelled, StatusCancelling:
		m.mu.Unlock()
		return nil
	case StatusQueued, StatusPaused:
		now := time.Now().UTC()
		entry.job.Status = StatusCancelled
		entry.job.CompletedAt = &now
		entry.job.UpdatedAt = now
		m.removeFromQueue(entry.job.Type, jobID)
		snapshot := entry.job
		m.mu.Unlock()
		m.persistUpdate(snapshot)
		m.notify(snapshot)
		return nil
	case StatusRunning:
		entry.cancelRequested = true
		entry.job.Status = StatusCancelling
		entry.job.UpdatedAt = time.Now().UTC()
		snapshot := entry.job
		m.mu.Unlock()
		m.persistUpdate(snapshot)
		m.notify(snapshot)
		return nil
	default:
		status := entry.job.Status
		m.mu.Unlock()
		return apperrors.InvalidTransition(fmt.Sprintf("cannot cancel a %s job", status))
	}
}

// Pause requests a pause. The task keeps running until its next poll,
// then settles as paused with progress intact. Pausing a job that is
// already paused is a no-op.
func (m *Manager) Pause(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.jobs[jobID]
	if !ok {
		return apperrors.JobNotFound()
	}

	switch entry.job.Status {
	case StatusPaused:
		return nil
	case StatusRunning:
		entry.pauseRequested = true
		return nil
	default:
		return apperrors.InvalidTransition(fmt.Sprintf("cannot pause a %s job", entry.job.Status))
	}
}

// Resume re-queues a paused job. Progress is retained; the task's own
// resume mechanics (skipping already-written pages) continue from the
// last checkpoint. Resuming a queued or running job is a no-op.
func (m *Manager) Resume(jobID string) error {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return apperrors.JobNotFound()
	}

	switch entry.job.Status {
	case StatusQueued, StatusRunning:
		m.mu.Unlock()
		return nil
	case StatusPaused:
		jobType := entry.job.Type
		entry.job.Status = StatusQueued
		entry.job.UpdatedAt = time.Now().UTC()
		entry.pauseRequested = false
		m.queues[jobType] = append(m.queues[jobType], jobID)
		snapshot := entry.job
		m.mu.Unlock()
		m.persistUpdate(snapshot)
		m.notify(snapshot)
		m.dispatch(jobType)
		return nil
	default:
		status := entry.job.Status
		m.mu.Unlock()
		return apperrors.InvalidTransition(fmt.Sprintf("cannot resume a %s job", status))
	}
}

// Retry re-queues an errored or cancelled job as a new attempt under
// the same ID. Progress starts from the last known current; the error
// message is cleared. Retrying an already queued or running job is a
// no-op.
func (m *Manager) Retry(jobID string) error {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return apperrors.JobNotFound()
	}

	switch entry.job.Status {
	case StatusQueued, StatusRunning:
		m.mu.Unlock()
		return nil
	case StatusError, StatusCancelled:
		jobType := entry.job.Type
		entry.job.Status = StatusQueued
		entry.job.Error = ""
		entry.job.CompletedAt = nil
		entry.job.UpdatedAt = time.Now().UTC()
		entry.cancelRequested = false
		entry.pauseRequested = false
		m.queues[jobType] = append(m.queues[jobType], jobID)
		snapshot := entry.job
		m.mu.Unlock()
		m.persistUpdate(snapshot)
		m.notify(snapshot)
		m.dispatch(jobType)
		return nil
	default:
		status := entry.job.Status
		m.mu.Unlock()
		return apperrors.InvalidTransition(fmt.Sprintf("cannot retry a %s job", status))
	}
}

// Prioritize moves a queued job to the front of its queue. Jobs that
// are not queued are left alone.
func (m *Manager) Prioritize(jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.jobs[jobID]
	if !ok {
		return apperrors.JobNotFound()
	}
	if entry.job.Status != StatusQueued {
		return nil
	}

	jobType := entry.job.Type
	queue := m.queues[jobType]
	for i, id := range queue {
		if id == jobID {
			if i == 0 {
				return nil
			}
			copy(queue[1:i+1], queue[:i])
			queue[0] = jobID
			return nil
		}
	}
	return nil
}

// Remove deletes a settled (terminal or paused) job from tracking and
// from the vault. Removing an unknown job is a no-op so repeated calls
// succeed.
func (m *Manager) Remove(jobID string) error {
	m.mu.Lock()
	entry, ok := m.jobs[jobID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if !entry.job.IsTerminal() && entry.job.Status != StatusPaused {
		status := entry.job.Status
		m.mu.Unlock()
		return apperrors.InvalidTransition(fmt.Sprintf("cannot remove a %s job", status))
	}
	m.removeFromQueue(entry.job.Type, jobID)
	delete(m.jobs, jobID)
	m.mu.Unlock()

	if m.persister != nil {
		if err := m.persister.DeleteJob(context.Background(), jobID); err != nil {
			m.log.Warn(context.Background(), "failed to delete job from vault", map[string]interface{}{
				"job_id": jobID,
				"error":  err.Error(),
			})
		}
	}
	return nil
}

// Get returns a snapshot of one job
func (m *Manager) Get(jobID string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.jobs[jobID]
	if !ok {
		return Job{}, apperrors.JobNotFound()
	}
	job := entry.job
	job.QueuePosition = m.queuePositionLocked(entry)
	return job, nil
}

// List returns a snapshot of all tracked jobs keyed by ID. It never
// blocks on worker execution; the view may be briefly stale.
func (m *Manager) List(activeOnly bool) map[string]Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Job, len(m.jobs))
	for id, entry := range m.jobs {
		if activeOnly && entry.job.IsTerminal() {
			continue
		}
		job := entry.job
		job.QueuePosition = m.queuePositionLocked(entry)
		out[id] = job
	}
	return out
}

// Shutdown stops dispatching queued work and asks running tasks to
// stop at their next safe point. Running jobs settle as paused with
// progress intact; queued jobs stay queued in the vault. Call Wait
// afterwards to block until the workers have returned.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.shuttingDown = true
	for _, entry := range m.jobs {
		if entry.job.Status == StatusRunning {
			entry.pauseRequested = true
		}
	}
	m.mu.Unlock()
}

// Wait blocks until every started worker goroutine has returned.
// Intended for shutdown and tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// queuePositionLocked returns the 1-based queue position for queued
// jobs, 0 otherwise. Caller must hold the mutex.
func (m *Manager) queuePositionLocked(entry *jobEntry) int {
	if entry.job.Status != StatusQueued {
		return 0
	}
	for i, id := range m.queues[entry.job.Type] {
		if id == entry.job.ID {
			return i + 1
		}
	}
	return 0
}

// removeFromQueue drops a job from its type queue. Caller must hold
// the mutex.
func (m *Manager) removeFromQueue(jobType, jobID string) {
	queue := m.queues[jobType]
	for i, id := range queue {
		if id == jobID {
			m.queues[jobType] = append(queue[:i], queue[i+1:]...)
			return
		}
	}
}

// persistCreate registers the job row. Vault failures are logged, not
// fatal: the in-memory table remains authoritative.
func (m *Manager) persistCreate(job Job) {
	if m.persister == nil {
		return
	}
	if err := m.persister.CreateJob(context.Background(), job); err != nil {
		m.log.Warn(context.Background(), "failed to create job in vault", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

func (m *Manager) persistUpdate(job Job) {
	if m.persister == nil {
		return
	}
	if err := m.persister.UpdateJob(context.Background(), job); err != nil {
		m.log.Warn(context.Background(), "failed to update job in vault", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
	}
}

func (m *Manager) notify(job Job) {
	if m.notifier != nil {
		m.notifier.JobUpdated(job)
	}
}
