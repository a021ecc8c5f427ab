package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iiifstudio/backend/internal/discovery"
	"github.com/iiifstudio/backend/internal/downloader"
	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/health"
	"github.com/iiifstudio/backend/internal/jobs"
	"github.com/iiifstudio/backend/internal/manifest"
	"github.com/iiifstudio/backend/internal/pipeline"
	"github.com/iiifstudio/backend/internal/resolver"
	"github.com/iiifstudio/backend/internal/vault"
)

// stubResolver treats MSS_ inputs as valid shelfmarks pointing at a
// test manifest server
type stubResolver struct {
	manifestURL string
}

func (r stubResolver) Library() resolver.Library { return resolver.LibraryVatican }

func (r stubResolver) CanResolve(input string) bool {
	return strings.HasPrefix(input, "MSS_")
}

func (r stubResolver) Resolve(input string) resolver.Resolution {
	if !strings.HasPrefix(input, "MSS_") {
		return resolver.Resolution{
			Library: resolver.LibraryVatican,
			Input:   input,
			Error:   "not a shelfmark",
		}
	}
	return resolver.Resolution{
		Valid:       true,
		Library:     resolver.LibraryVatican,
		DocID:       input,
		ManifestURL: r.manifestURL,
		Input:       input,
	}
}

func manifestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"@id": "%s/manifest.json",
			"label": "Test Codex",
			"sequences": [{"canvases": [
				{"label": "1r", "images": [{"resource": {"@id": "%s/image/0"}}]},
				{"label": "1v", "images": [{"resource": {"@id": "%s/image/1"}}]}
			]}]
		}`, srv.URL, srv.URL, srv.URL)
	})
	mux.HandleFunc("/image/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("jpeg-bytes"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	manifests := manifestServer(t)

	v, err := vault.Open(filepath.Join(t.TempDir(), "vault.db"))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	if err := v.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	jobsRepo := vault.NewJobRepository(v)
	manuscripts := vault.NewManuscriptRepository(v)
	transcripts := vault.NewTranscriptionRepository(v)
	settings := vault.NewSettingsRepository(v)

	registry := resolver.NewRegistry(stubResolver{manifestURL: manifests.URL + "/manifest.json"})
	client := manifest.NewClient(5*time.Second, nil)
	manager := jobs.NewManager(2, pipeline.NewVaultPersister(jobsRepo), nil)

	svc := pipeline.NewService(pipeline.Config{
		Registry:     registry,
		Engine:       downloader.NewEngine(client, "full"),
		Manager:      manager,
		JobsRepo:     jobsRepo,
		Manuscripts:  manuscripts,
		Transcripts:  transcripts,
		DownloadsDir: t.TempDir(),
	})

	router := NewRouter(RouterConfig{
		Pipeline:    svc,
		Manager:     manager,
		Discovery:   discovery.NewService(client, registry),
		Registry:    registry,
		Manuscripts: manuscripts,
		Transcripts: transcripts,
		Settings:    settings,
		Health:      health.NewHandler(health.NewChecker(&health.CheckerConfig{Vault: v.DB})),
	})

	srv := httptest.NewServer(apperrors.RequestIDMiddleware(router))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]interface{}
	if len(raw) > 0 {
		json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

func pollStatus(t *testing.T, base, jobID, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, body := doJSON(t, http.MethodGet, base+"/api/download_status/"+jobID, nil)
		if resp.StatusCode == http.StatusOK && body["status"] == want {
			return body
		}
		last = body
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %q, last status %v", jobID, want, last)
	return nil
}

func TestSubmitAndPollDownload(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/downloads", SubmitDownloadRequest{Input: "MSS_Test.1"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d, body %v", resp.StatusCode, body)
	}
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("no job_id in %v", body)
	}
	if body["library"] != "Vaticana" || body["doc_id"] != "MSS_Test.1" {
		t.Errorf("submit body = %v", body)
	}

	final := pollStatus(t, srv.URL, jobID, "completed")
	if final["current"].(float64) != 2 || final["total"].(float64) != 2 {
		t.Errorf("final status = %v", final)
	}
	if final["percent"].(float64) != 100 {
		t.Errorf("percent = %v", final["percent"])
	}
}

func TestSubmitValidation(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/downloads", SubmitDownloadRequest{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	errBody, _ := body["error"].(map[string]interface{})
	if errBody["code"] != "VALIDATION_ERROR" {
		t.Errorf("error = %v", body)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing request id header")
	}
}

func TestSubmitUnresolvedIdentifier(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/downloads", SubmitDownloadRequest{Input: "garbage"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	errBody, _ := body["error"].(map[string]interface{})
	if errBody["code"] != "UNRESOLVED_IDENTIFIER" {
		t.Errorf("error = %v", body)
	}
}

func TestStatusUnknownJob(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/download_status/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	errBody, _ := body["error"].(map[string]interface{})
	if errBody["code"] != "JOB_NOT_FOUND" {
		t.Errorf("error = %v", body)
	}
}

func TestControlUnknownJob(t *testing.T) {
	srv := newTestServer(t)

	for _, op := range []string{"cancel", "pause", "resume", "retry"} {
		resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/downloads/nope/"+op, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", op, resp.StatusCode)
		}
	}
}

func TestCancelCompletedJobConflicts(t *testing.T) {
	srv := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/downloads", SubmitDownloadRequest{Input: "MSS_Test.1"})
	jobID := body["job_id"].(string)
	pollStatus(t, srv.URL, jobID, "completed")

	resp, errResp := doJSON(t, http.MethodPost, srv.URL+"/api/downloads/"+jobID+"/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, body %v", resp.StatusCode, errResp)
	}
}

func TestRemoveCompletedJob(t *testing.T) {
	srv := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/downloads", SubmitDownloadRequest{Input: "MSS_Test.1"})
	jobID := body["job_id"].(string)
	pollStatus(t, srv.URL, jobID, "completed")

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/downloads/"+jobID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove status = %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/download_status/"+jobID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("removed job still reachable, status %d", resp.StatusCode)
	}
}

func TestListDownloads(t *testing.T) {
	srv := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/downloads", SubmitDownloadRequest{Input: "MSS_Test.1"})
	jobID := body["job_id"].(string)
	pollStatus(t, srv.URL, jobID, "completed")

	resp, list := doJSON(t, http.MethodGet, srv.URL+"/api/downloads", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	jobsList, _ := list["jobs"].([]interface{})
	if len(jobsList) != 1 {
		t.Fatalf("jobs = %v", list)
	}

	// Completed jobs drop out of the active view
	_, active := doJSON(t, http.MethodGet, srv.URL+"/api/downloads?active=true", nil)
	if activeJobs, _ := active["jobs"].([]interface{}); len(activeJobs) != 0 {
		t.Errorf("active jobs = %v", active)
	}
}

func TestResolveEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/resolve?input=MSS_Test.1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["valid"] != true || body["doc_id"] != "MSS_Test.1" {
		t.Errorf("resolution = %v", body)
	}

	// Unrecognized input still answers 200 with valid=false
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/resolve?input=garbage", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["valid"] != false {
		t.Errorf("resolution = %v", body)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/preview?input=MSS_Test.1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["title"] != "Test Codex" {
		t.Errorf("preview = %v", body)
	}
	if body["page_count"].(float64) != 2 {
		t.Errorf("page_count = %v", body["page_count"])
	}
}

func TestManuscriptEndpoints(t *testing.T) {
	srv := newTestServer(t)

	_, body := doJSON(t, http.MethodPost, srv.URL+"/api/downloads", SubmitDownloadRequest{Input: "MSS_Test.1"})
	pollStatus(t, srv.URL, body["job_id"].(string), "completed")

	// Manuscript registration runs right after the final progress
	// report; give it a moment
	deadline := time.Now().Add(2 * time.Second)
	var list map[string]interface{}
	for time.Now().Before(deadline) {
		_, list = doJSON(t, http.MethodGet, srv.URL+"/api/manuscripts", nil)
		if ms, _ := list["manuscripts"].([]interface{}); len(ms) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	ms, _ := list["manuscripts"].([]interface{})
	if len(ms) != 1 {
		t.Fatalf("manuscripts = %v", list)
	}
	entry := ms[0].(map[string]interface{})
	if entry["title"] != "Test Codex" || entry["page_count"].(float64) != 2 {
		t.Errorf("manuscript = %v", entry)
	}

	resp, got := doJSON(t, http.MethodGet, srv.URL+"/api/manuscripts/Vaticana/MSS_Test.1", nil)
	if resp.StatusCode != http.StatusOK || got["id"] != "MSS_Test.1" {
		t.Errorf("get manuscript: status %d body %v", resp.StatusCode, got)
	}

	resp, _ = doJSON(t, http.MethodDelete, srv.URL+"/api/manuscripts/Vaticana/MSS_Test.1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/manuscripts/Vaticana/MSS_Test.1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("deleted manuscript still present, status %d", resp.StatusCode)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/api/settings", map[string]string{
		"image_quality": "full",
		"worker_count":  "4",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put status = %d", resp.StatusCode)
	}
	if body["image_quality"] != "full" {
		t.Errorf("settings = %v", body)
	}

	_, got := doJSON(t, http.MethodGet, srv.URL+"/api/settings", nil)
	if got["worker_count"] != "4" {
		t.Errorf("settings = %v", got)
	}
}

func TestLibrariesEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/libraries", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	libs, _ := body["libraries"].([]interface{})
	if len(libs) != 1 || libs[0] != "Vaticana" {
		t.Errorf("libraries = %v", body)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["status"] != "healthy" {
		t.Errorf("health = %v", body)
	}
}
