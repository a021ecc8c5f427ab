package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/vault"
)

type LibraryHandlers struct {
	manuscripts *vault.ManuscriptRepository
	transcripts *vault.TranscriptionRepository
	settings    *vault.SettingsRepository
}

func NewLibraryHandlers(m *vault.ManuscriptRepository, t *vault.TranscriptionRepository, s *vault.SettingsRepository) *LibraryHandlers {
	return &LibraryHandlers{manuscripts: m, transcripts: t, settings: s}
}

// ManuscriptView is the JSON shape of one downloaded manuscript
type ManuscriptView struct {
	ID        string `json:"id"`
	Library   string `json:"library"`
	Title     string `json:"title,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
	ItemType  string `json:"item_type"`
	PageCount int    `json:"page_count"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func manuscriptView(m vault.Manuscript) ManuscriptView {
	return ManuscriptView{
		ID:        m.ID,
		Library:   m.Library,
		Title:     m.Title.String,
		LocalPath: m.LocalPath.String,
		ItemType:  m.ItemType,
		PageCount: m.PageCount,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: m.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// ListManuscripts handles GET /api/manuscripts?library=...
func (h *LibraryHandlers) ListManuscripts(w http.ResponseWriter, r *http.Request) error {
	library := r.URL.Query().Get("library")

	list, err := h.manuscripts.ListManuscripts(r.Context(), library)
	if err != nil {
		return apperrors.VaultError("failed to list manuscripts").WithCause(err)
	}

	views := make([]ManuscriptView, 0, len(list))
	for _, m := range list {
		views = append(views, manuscriptView(m))
	}
	apperrors.WriteJSON(w, requestID(r), http.StatusOK, map[string]interface{}{
		"manuscripts": views,
	})
	return nil
}

// GetManuscript handles GET /api/manuscripts/{library}/{id}
func (h *LibraryHandlers) GetManuscript(w http.ResponseWriter, r *http.Request) error {
	library, id := r.PathValue("library"), r.PathValue("id")

	m, err := h.manuscripts.GetManuscript(r.Context(), id, library)
	if err != nil {
		if errors.Is(err, vault.ErrManuscriptNotFound) {
			return apperrors.ManuscriptNotFound()
		}
		return apperrors.VaultError("failed to load manuscript").WithCause(err)
	}
	apperrors.WriteJSON(w, requestID(r), http.StatusOK, manuscriptView(*m))
	return nil
}

// DeleteManuscript handles DELETE /api/manuscripts/{library}/{id}.
// Only the catalog row is removed; files on disk stay.
func (h *LibraryHandlers) DeleteManuscript(w http.ResponseWriter, r *http.Request) error {
	library, id := r.PathValue("library"), r.PathValue("id")

	if err := h.manuscripts.DeleteManuscript(r.Context(), id, library); err != nil {
		return apperrors.VaultError("failed to delete manuscript").WithCause(err)
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// TranscriptionView is the JSON shape of one transcribed page
type TranscriptionView struct {
	Page       int     `json:"page"`
	Engine     string  `json:"engine"`
	Model      string  `json:"model,omitempty"`
	FullText   string  `json:"full_text,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ListTranscriptions handles GET /api/manuscripts/{library}/{id}/transcriptions
func (h *LibraryHandlers) ListTranscriptions(w http.ResponseWriter, r *http.Request) error {
	library, id := r.PathValue("library"), r.PathValue("id")

	list, err := h.transcripts.ListTranscriptions(r.Context(), id, library)
	if err != nil {
		return apperrors.VaultError("failed to list transcriptions").WithCause(err)
	}

	views := make([]TranscriptionView, 0, len(list))
	for _, t := range list {
		views = append(views, TranscriptionView{
			Page:       t.Page,
			Engine:     t.Engine,
			Model:      t.Model.String,
			FullText:   t.FullText.String,
			Confidence: t.Confidence,
		})
	}
	apperrors.WriteJSON(w, requestID(r), http.StatusOK, map[string]interface{}{
		"doc_id":         id,
		"library":        library,
		"transcriptions": views,
	})
	return nil
}

// GetSettings handles GET /api/settings
func (h *LibraryHandlers) GetSettings(w http.ResponseWriter, r *http.Request) error {
	settings, err := h.settings.AllSettings(r.Context())
	if err != nil {
		return apperrors.VaultError("failed to load settings").WithCause(err)
	}
	apperrors.WriteJSON(w, requestID(r), http.StatusOK, settings)
	return nil
}

// PutSettings handles PUT /api/settings with a flat key/value object
func (h *LibraryHandlers) PutSettings(w http.ResponseWriter, r *http.Request) error {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		return apperrors.BadRequest("invalid request body")
	}
	if len(updates) == 0 {
		return apperrors.ValidationError("no settings provided")
	}

	for key, value := range updates {
		if err := h.settings.SetSetting(r.Context(), key, value); err != nil {
			return apperrors.VaultError("failed to store setting " + key).WithCause(err)
		}
	}

	settings, err := h.settings.AllSettings(r.Context())
	if err != nil {
		return apperrors.VaultError("failed to load settings").WithCause(err)
	}
	apperrors.WriteJSON(w, requestID(r), http.StatusOK, settings)
	return nil
}
