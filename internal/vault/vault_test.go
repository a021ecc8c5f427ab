package vault

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(filepath.Join(t.TempDir(), "vault.db"))
	if err != nil {
		t.Fatalf("failed to open vault: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	if err := v.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return v
}

func TestCreateDownloadJobIdempotent(t *testing.T) {
	v := newTestVault(t)
	repo := NewJobRepository(v)
	ctx := context.Background()

	if err := repo.CreateDownloadJob(ctx, "job1", "download", "MSS_Urb.lat.123", "Vaticana", "https://digi.vatlib.it/iiif/MSS_Urb.lat.123/manifest.json"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.UpdateDownloadJob(ctx, "job1", 5, 10, "running", ""); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Re-creating must not reset progress
	if err := repo.CreateDownloadJob(ctx, "job1", "download", "MSS_Urb.lat.123", "Vaticana", "https://digi.vatlib.it/iiif/MSS_Urb.lat.123/manifest.json"); err != nil {
		t.Fatalf("re-create: %v", err)
	}

	job, err := repo.GetDownloadJob(ctx, "job1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Current != 5 || job.Total != 10 || job.Status != "running" {
		t.Errorf("got current=%d total=%d status=%q", job.Current, job.Total, job.Status)
	}
}

func TestJobTypeIsPersisted(t *testing.T) {
	v := newTestVault(t)
	repo := NewJobRepository(v)
	ctx := context.Background()

	// OCR batches share the table but must stay distinguishable from
	// downloads, and may have no manifest URL.
	if err := repo.CreateDownloadJob(ctx, "Vaticana_ocr1", "ocr", "MSS_Urb.lat.123", "Vaticana", ""); err != nil {
		t.Fatalf("create ocr job: %v", err)
	}
	if err := repo.CreateDownloadJob(ctx, "Vaticana_dl1", "", "MSS_Urb.lat.123", "Vaticana", "https://digi.vatlib.it/iiif/MSS_Urb.lat.123/manifest.json"); err != nil {
		t.Fatalf("create download job: %v", err)
	}

	ocrJob, err := repo.GetDownloadJob(ctx, "Vaticana_ocr1")
	if err != nil {
		t.Fatalf("get ocr job: %v", err)
	}
	if ocrJob.JobType != "ocr" {
		t.Errorf("ocr job type = %q", ocrJob.JobType)
	}

	dlJob, err := repo.GetDownloadJob(ctx, "Vaticana_dl1")
	if err != nil {
		t.Fatalf("get download job: %v", err)
	}
	if dlJob.JobType != "download" {
		t.Errorf("empty type must default to download, got %q", dlJob.JobType)
	}
}

func TestUpdateDownloadJobStoresError(t *testing.T) {
	v := newTestVault(t)
	repo := NewJobRepository(v)
	ctx := context.Background()

	if err := repo.CreateDownloadJob(ctx, "job1", "download", "doc", "Gallica", "https://example.org/m.json"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.UpdateDownloadJob(ctx, "job1", 2, 10, "error", "manifest unreachable"); err != nil {
		t.Fatalf("update: %v", err)
	}

	job, err := repo.GetDownloadJob(ctx, "job1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !job.Error.Valid || job.Error.String != "manifest unreachable" {
		t.Errorf("error = %+v", job.Error)
	}

	if err := repo.UpdateDownloadJob(ctx, "missing", 0, 0, "queued", ""); err != ErrJobNotFound {
		t.Errorf("update of missing job: err = %v, want ErrJobNotFound", err)
	}
}

func TestResetInterruptedJobs(t *testing.T) {
	v := newTestVault(t)
	repo := NewJobRepository(v)
	ctx := context.Background()

	for _, j := range []struct{ id, status string }{
		{"j1", "running"}, {"j2", "queued"}, {"j3", "completed"},
	} {
		if err := repo.CreateDownloadJob(ctx, j.id, "download", "doc", "Gallica", "https://example.org/m.json"); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := repo.UpdateDownloadJob(ctx, j.id, 0, 0, j.status, ""); err != nil {
			t.Fatalf("update: %v", err)
		}
	}

	n, err := repo.ResetInterruptedJobs(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 2 {
		t.Errorf("reset %d jobs, want 2", n)
	}

	job, _ := repo.GetDownloadJob(ctx, "j3")
	if job.Status != "completed" {
		t.Errorf("terminal job must be untouched, got %q", job.Status)
	}
}

func TestUpsertManuscriptNoDuplicates(t *testing.T) {
	v := newTestVault(t)
	repo := NewManuscriptRepository(v)
	ctx := context.Background()

	if err := repo.UpsertManuscript(ctx, "btv1b84260335", "Gallica", "Chroniques", "/data/x", "manuscript", 120); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.UpsertManuscript(ctx, "btv1b84260335", "Gallica", "Grandes Chroniques", "/data/y", "manuscript", 240); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	list, err := repo.ListManuscripts(ctx, "Gallica")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d rows, want 1", len(list))
	}
	if list[0].Title.String != "Grandes Chroniques" || list[0].PageCount != 240 {
		t.Errorf("row not updated: %+v", list[0])
	}

	// Same id under a different library is a distinct document
	if err := repo.UpsertManuscript(ctx, "btv1b84260335", "Bodleian", "Other", "/data/z", "", 1); err != nil {
		t.Fatalf("cross-library upsert: %v", err)
	}
	all, err := repo.ListManuscripts(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d rows, want 2", len(all))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	v := newTestVault(t)
	repo := NewSettingsRepository(v)
	ctx := context.Background()

	got, err := repo.GetSetting(ctx, "defaults.default_library", "Vaticana")
	if err != nil || got != "Vaticana" {
		t.Fatalf("default: got %q, %v", got, err)
	}

	if err := repo.SetSetting(ctx, "defaults.default_library", "Gallica"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := repo.SetSetting(ctx, "defaults.default_library", "Bodleian"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err = repo.GetSetting(ctx, "defaults.default_library", "Vaticana")
	if err != nil || got != "Bodleian" {
		t.Fatalf("after set: got %q, %v", got, err)
	}
}

func TestTranscriptionUpsert(t *testing.T) {
	v := newTestVault(t)
	repo := NewTranscriptionRepository(v)
	ctx := context.Background()

	tr := Transcription{
		DocID:      "MSS_Urb.lat.123",
		Library:    "Vaticana",
		Page:       0,
		Engine:     "kraken",
		Confidence: 0.81,
	}
	tr.FullText.String, tr.FullText.Valid = "in principio", true

	if err := repo.UpsertTranscription(ctx, tr); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	tr.Confidence = 0.93
	if err := repo.UpsertTranscription(ctx, tr); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	list, err := repo.ListTranscriptions(ctx, "MSS_Urb.lat.123", "Vaticana")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d rows, want 1", len(list))
	}
	if list[0].Confidence != 0.93 {
		t.Errorf("confidence = %v", list[0].Confidence)
	}
}
