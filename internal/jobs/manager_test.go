package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// blockingTask runs until release is closed, polling shouldStop
// between short sleeps the way a page loop would.
func blockingTask(started chan<- string, release <-chan struct{}, id string) Task {
	return func(progress func(int, int), shouldStop func() bool) error {
		started <- id
		for {
			select {
			case <-release:
				return nil
			case <-time.After(5 * time.Millisecond):
				if shouldStop() {
					return nil
				}
			}
		}
	}
}

func waitForStatus(t *testing.T, m *Manager, jobID, want string) Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := m.Get(jobID)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, err := m.Get(jobID)
	t.Fatalf("job %s never reached %q (last: %+v, err: %v)", jobID, want, job, err)
	return Job{}
}

func TestSubmitRunsJob(t *testing.T) {
	m := NewManager(2, nil, nil)

	done := make(chan struct{})
	id, err := m.Submit(SubmitSpec{
		JobID:   "Gallica_abc",
		Type:    TypeDownload,
		Library: "Gallica",
		Task: func(progress func(int, int), shouldStop func() bool) error {
			for i := 1; i <= 3; i++ {
				progress(i, 3)
			}
			close(done)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "Gallica_abc" {
		t.Errorf("id = %q", id)
	}

	<-done
	job := waitForStatus(t, m, id, StatusCompleted)
	if job.Current != 3 || job.Total != 3 {
		t.Errorf("progress = %d/%d", job.Current, job.Total)
	}
	if job.Percent() != 100 {
		t.Errorf("percent = %v", job.Percent())
	}
}

func TestConcurrencyBound(t *testing.T) {
	const bound = 2
	m := NewManager(bound, nil, nil)

	started := make(chan string, 10)
	release := make(chan struct{})

	for i := 0; i < bound+2; i++ {
		id := fmt.Sprintf("job-%d", i)
		if _, err := m.Submit(SubmitSpec{JobID: id, Task: blockingTask(started, release, id)}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}

	// Exactly `bound` tasks may start
	for i := 0; i < bound; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("workers did not start")
		}
	}
	select {
	case id := <-started:
		t.Fatalf("job %s started beyond the concurrency bound", id)
	case <-time.After(50 * time.Millisecond):
	}

	// FIFO: the two waiting jobs are 2 and 3 in that order
	job2, _ := m.Get("job-2")
	job3, _ := m.Get("job-3")
	if job2.Status != StatusQueued || job3.Status != StatusQueued {
		t.Fatalf("expected queued, got %q / %q", job2.Status, job3.Status)
	}
	if job2.QueuePosition != 1 || job3.QueuePosition != 2 {
		t.Errorf("queue positions = %d, %d", job2.QueuePosition, job3.QueuePosition)
	}

	close(release)
	for i := 0; i < bound+2; i++ {
		waitForStatus(t, m, fmt.Sprintf("job-%d", i), StatusCompleted)
	}
	m.Wait()
}

func TestDuplicateSubmitReuses(t *testing.T) {
	m := NewManager(1, nil, nil)

	started := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)

	var spawned atomic.Int32
	task := func(progress func(int, int), shouldStop func() bool) error {
		spawned.Add(1)
		started <- "x"
		<-release
		return nil
	}

	if _, err := m.Submit(SubmitSpec{JobID: "dup", Task: task}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	if _, err := m.Submit(SubmitSpec{JobID: "dup", Task: task}); err != nil {
		t.Fatalf("re-submit: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if got := spawned.Load(); got != 1 {
		t.Errorf("task spawned %d times, want 1", got)
	}
	if len(m.List(false)) != 1 {
		t.Errorf("job table has %d entries, want 1", len(m.List(false)))
	}
}

func TestCancelQueuedIsImmediate(t *testing.T) {
	m := NewManager(1, nil, nil)

	started := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)

	if _, err := m.Submit(SubmitSpec{JobID: "runner", Task: blockingTask(started, release, "runner")}); err != nil {
		t.Fatalf("submit runner: %v", err)
	}
	<-started

	var ran atomic.Bool
	if _, err := m.Submit(SubmitSpec{JobID: "waiter", Task: func(progress func(int, int), shouldStop func() bool) error {
		ran.Store(true)
		return nil
	}}); err != nil {
		t.Fatalf("submit waiter: %v", err)
	}

	if err := m.Cancel("waiter"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	job, _ := m.Get("waiter")
	if job.Status != StatusCancelled {
		t.Fatalf("queued cancel must be immediate, got %q", job.Status)
	}

	// Idempotent repeat
	if err := m.Cancel("waiter"); err != nil {
		t.Errorf("repeated cancel: %v", err)
	}

	if ran.Load() {
		t.Error("cancelled queued job must never run")
	}
}

func TestCancelRunningIsCooperative(t *testing.T) {
	m := NewManager(1, nil, nil)

	started := make(chan string, 1)
	release := make(chan struct{})
	defer close(release)

	if _, err := m.Submit(SubmitSpec{JobID: "j", Task: blockingTask(started, release, "j")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	if err := m.Cancel("j"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	job, _ := m.Get("j")
	if job.Status != StatusCancelling && job.Status != StatusCancelled {
		t.Fatalf("status after cancel = %q", job.Status)
	}

	waitForStatus(t, m, "j", StatusCancelled)
}

func TestPauseResume(t *testing.T) {
	m := NewManager(1, nil, nil)

	started := make(chan string, 2)
	release := make(chan struct{})
	defer close(release)

	if _, err := m.Submit(SubmitSpec{JobID: "p", Task: blockingTask(started, release, "p")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	if err := m.Pause("p"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	waitForStatus(t, m, "p", StatusPaused)

	// Repeating is a no-op
	if err := m.Pause("p"); err != nil {
		t.Errorf("repeated pause: %v", err)
	}

	if err := m.Resume("p"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	<-started
	waitForStatus(t, m, "p", StatusRunning)

	// Resuming a running job is a no-op
	if err := m.Resume("p"); err != nil {
		t.Errorf("resume while running: %v", err)
	}
}

func TestRetryAfterError(t *testing.T) {
	m := NewManager(1, nil, nil)

	var attempts atomic.Int32
	task := func(progress func(int, int), shouldStop func() bool) error {
		if attempts.Add(1) == 1 {
			progress(4, 10)
			return errors.New("manifest unreachable")
		}
		progress(10, 10)
		return nil
	}

	if _, err := m.Submit(SubmitSpec{JobID: "r", Task: task}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitForStatus(t, m, "r", StatusError)
	if job.Error != "manifest unreachable" {
		t.Errorf("error = %q", job.Error)
	}
	if job.Current != 4 {
		t.Errorf("current = %d, want last known 4", job.Current)
	}

	if err := m.Retry("r"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	job = waitForStatus(t, m, "r", StatusCompleted)
	if job.Error != "" {
		t.Errorf("error not cleared: %q", job.Error)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d", got)
	}
}

func TestErrorOutranksPendingPause(t *testing.T) {
	m := NewManager(1, nil, nil)

	started := make(chan struct{})
	if _, err := m.Submit(SubmitSpec{JobID: "ep", Task: func(progress func(int, int), shouldStop func() bool) error {
		close(started)
		for !shouldStop() {
			time.Sleep(5 * time.Millisecond)
		}
		return errors.New("page directory vanished")
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	if err := m.Pause("ep"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// The task fails fatally while the pause is pending; the failure
	// must win, or a resume would silently re-run a broken job.
	job := waitForStatus(t, m, "ep", StatusError)
	if job.Error != "page directory vanished" {
		t.Errorf("error = %q", job.Error)
	}
}

func TestPrioritize(t *testing.T) {
	m := NewManager(1, nil, nil)

	started := make(chan string, 5)
	release := make(chan struct{})

	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := m.Submit(SubmitSpec{JobID: id, Task: blockingTask(started, release, id)}); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
	}
	<-started // "a" is running; queue is b, c, d

	if err := m.Prioritize("d"); err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	job, _ := m.Get("d")
	if job.QueuePosition != 1 {
		t.Errorf("queue position = %d, want 1", job.QueuePosition)
	}

	// Prioritizing the running job is a no-op
	if err := m.Prioritize("a"); err != nil {
		t.Errorf("prioritize running: %v", err)
	}

	close(release)
	var order []string
	for i := 0; i < 3; i++ {
		order = append(order, <-started)
	}
	if order[0] != "d" {
		t.Errorf("start order = %v, want d first", order)
	}
	m.Wait()
}

func TestRemove(t *testing.T) {
	m := NewManager(1, nil, nil)

	started := make(chan string, 1)
	release := make(chan struct{})

	if _, err := m.Submit(SubmitSpec{JobID: "x", Task: blockingTask(started, release, "x")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-started

	if err := m.Remove("x"); err == nil {
		t.Error("removing a running job must fail")
	}

	close(release)
	waitForStatus(t, m, "x", StatusCompleted)

	if err := m.Remove("x"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := m.Get("x"); err == nil {
		t.Error("removed job still tracked")
	}
	// Repeating is a no-op
	if err := m.Remove("x"); err != nil {
		t.Errorf("repeated remove: %v", err)
	}
}

func TestPanicIsolation(t *testing.T) {
	m := NewManager(2, nil, nil)

	if _, err := m.Submit(SubmitSpec{JobID: "boom", Task: func(progress func(int, int), shouldStop func() bool) error {
		panic("page decode blew up")
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	job := waitForStatus(t, m, "boom", StatusError)
	if job.Error == "" {
		t.Error("panic must surface as the job error message")
	}

	// The manager keeps scheduling other jobs afterwards
	if _, err := m.Submit(SubmitSpec{JobID: "after", Task: func(progress func(int, int), shouldStop func() bool) error {
		return nil
	}}); err != nil {
		t.Fatalf("submit after panic: %v", err)
	}
	waitForStatus(t, m, "after", StatusCompleted)
}

func TestProgressMonotonic(t *testing.T) {
	m := NewManager(1, nil, nil)

	done := make(chan struct{})
	if _, err := m.Submit(SubmitSpec{JobID: "mono", Task: func(progress func(int, int), shouldStop func() bool) error {
		progress(5, 10)
		progress(3, 10) // stale report must be dropped
		progress(6, 10)
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-done
	job := waitForStatus(t, m, "mono", StatusCompleted)
	if job.Current != 10 {
		t.Errorf("completed current = %d, want total", job.Current)
	}
}

// recordingPersister counts writes to verify the change-only policy
type recordingPersister struct {
	mu      sync.Mutex
	updates []Job
}

func (p *recordingPersister) CreateJob(_ context.Context, job Job) error { return nil }
func (p *recordingPersister) DeleteJob(_ context.Context, id string) error {
	return nil
}
func (p *recordingPersister) UpdateJob(_ context.Context, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, job)
	return nil
}

func TestPersistOnlyOnChange(t *testing.T) {
	p := &recordingPersister{}
	m := NewManager(1, p, nil)

	done := make(chan struct{})
	if _, err := m.Submit(SubmitSpec{JobID: "w", Task: func(progress func(int, int), shouldStop func() bool) error {
		progress(1, 2)
		progress(1, 2) // identical: no vault write
		progress(2, 2)
		close(done)
		return nil
	}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-done
	waitForStatus(t, m, "w", StatusCompleted)
	m.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	// running + (1,2) + (2,2) + completed
	if len(p.updates) != 4 {
		var seq []string
		for _, u := range p.updates {
			seq = append(seq, fmt.Sprintf("%s:%d/%d", u.Status, u.Current, u.Total))
		}
		t.Errorf("vault writes = %d (%v), want 4", len(p.updates), seq)
	}
	last := p.updates[len(p.updates)-1]
	if last.Status != StatusCompleted {
		t.Errorf("last write status = %q, want terminal", last.Status)
	}
}
