package api

import (
	"encoding/json"
	"net/http"
	"sort"

	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/jobs"
	"github.com/iiifstudio/backend/internal/pipeline"
)

type DownloadHandlers struct {
	pipeline *pipeline.Service
	manager  *jobs.Manager
}

func NewDownloadHandlers(p *pipeline.Service, m *jobs.Manager) *DownloadHandlers {
	return &DownloadHandlers{pipeline: p, manager: m}
}

// SubmitDownloadRequest is the body for POST /api/downloads
type SubmitDownloadRequest struct {
	Input   string `json:"input"`
	Library string `json:"library,omitempty"`
}

// SubmitDownloadResponse acknowledges an accepted download job
type SubmitDownloadResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	DocID       string `json:"doc_id"`
	Library     string `json:"library"`
	ManifestURL string `json:"manifest_url"`
}

// Submit handles POST /api/downloads
func (h *DownloadHandlers) Submit(w http.ResponseWriter, r *http.Request) error {
	var req SubmitDownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	if req.Input == "" {
		return apperrors.ValidationError("input is required")
	}

	jobID, res, err := h.pipeline.SubmitDownload(r.Context(), req.Library, req.Input)
	if err != nil {
		return err
	}

	job, err := h.manager.Get(jobID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, requestID(r), http.StatusAccepted, SubmitDownloadResponse{
		JobID:       jobID,
		Status:      job.Status,
		DocID:       res.DocID,
		Library:     string(res.Library),
		ManifestURL: res.ManifestURL,
	})
	return nil
}

// List handles GET /api/downloads. ?active=true filters to jobs that
// are still queued or running.
func (h *DownloadHandlers) List(w http.ResponseWriter, r *http.Request) error {
	activeOnly := r.URL.Query().Get("active") == "true"

	byID := h.manager.List(activeOnly)
	list := make([]jobs.Job, 0, len(byID))
	for _, job := range byID {
		list = append(list, job)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})

	apperrors.WriteJSON(w, requestID(r), http.StatusOK, map[string]interface{}{
		"jobs": list,
	})
	return nil
}

// Status handles GET /api/download_status/{job_id}
func (h *DownloadHandlers) Status(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")
	if jobID == "" {
		return apperrors.ValidationError("job_id is required")
	}

	status, err := h.pipeline.Status(r.Context(), jobID)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, requestID(r), http.StatusOK, status)
	return nil
}

// control runs one manager control operation and echoes the job state
func (h *DownloadHandlers) control(w http.ResponseWriter, r *http.Request, op func(jobID string) error) error {
	jobID := r.PathValue("job_id")
	if jobID == "" {
		return apperrors.ValidationError("job_id is required")
	}

	if err := op(jobID); err != nil {
		return err
	}

	job, err := h.manager.Get(jobID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, requestID(r), http.StatusOK, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
	})
	return nil
}

// Cancel handles POST /api/downloads/{job_id}/cancel
func (h *DownloadHandlers) Cancel(w http.ResponseWriter, r *http.Request) error {
	return h.control(w, r, h.manager.Cancel)
}

// Pause handles POST /api/downloads/{job_id}/pause
func (h *DownloadHandlers) Pause(w http.ResponseWriter, r *http.Request) error {
	return h.control(w, r, h.manager.Pause)
}

// Resume handles POST /api/downloads/{job_id}/resume
func (h *DownloadHandlers) Resume(w http.ResponseWriter, r *http.Request) error {
	return h.control(w, r, h.manager.Resume)
}

// Retry handles POST /api/downloads/{job_id}/retry
func (h *DownloadHandlers) Retry(w http.ResponseWriter, r *http.Request) error {
	return h.control(w, r, h.manager.Retry)
}

// Prioritize handles POST /api/downloads/{job_id}/prioritize
func (h *DownloadHandlers) Prioritize(w http.ResponseWriter, r *http.Request) error {
	return h.control(w, r, h.manager.Prioritize)
}

// Remove handles DELETE /api/downloads/{job_id}
func (h *DownloadHandlers) Remove(w http.ResponseWriter, r *http.Request) error {
	jobID := r.PathValue("job_id")
	if jobID == "" {
		return apperrors.ValidationError("job_id is required")
	}

	if err := h.manager.Remove(jobID); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// SubmitOCRRequest is the body for POST /api/ocr
type SubmitOCRRequest struct {
	DocID   string `json:"doc_id"`
	Library string `json:"library"`
	Engine  string `json:"engine"`
	Model   string `json:"model,omitempty"`
	Pages   []int  `json:"pages,omitempty"`
}

// SubmitOCR handles POST /api/ocr
func (h *DownloadHandlers) SubmitOCR(w http.ResponseWriter, r *http.Request) error {
	var req SubmitOCRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	if req.DocID == "" || req.Library == "" {
		return apperrors.ValidationError("doc_id and library are required")
	}
	if req.Engine == "" {
		req.Engine = "kraken"
	}

	jobID, err := h.pipeline.SubmitOCR(r.Context(), req.DocID, req.Library, req.Engine, req.Model, req.Pages)
	if err != nil {
		return err
	}

	job, err := h.manager.Get(jobID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, requestID(r), http.StatusAccepted, map[string]interface{}{
		"job_id": jobID,
		"status": job.Status,
	})
	return nil
}

func requestID(r *http.Request) string {
	return apperrors.GetRequestID(r.Context())
}
