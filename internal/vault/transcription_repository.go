package vault

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Transcription is the OCR output for one page of a document
type Transcription struct {
	DocID      string
	Library    string
	Page       int
	Engine     string
	Model      sql.NullString
	FullText   sql.NullString
	Confidence float64
	UpdatedAt  time.Time
}

type TranscriptionRepository struct {
	vault *Vault
}

func NewTranscriptionRepository(vault *Vault) *TranscriptionRepository {
	return &TranscriptionRepository{vault: vault}
}

// UpsertTranscription stores OCR output for a page, replacing any
// previous run
func (r *TranscriptionRepository) UpsertTranscription(ctx context.Context, t Transcription) error {
	query := `
		INSERT INTO transcriptions (doc_id, library, page, engine, model, full_text, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doc_id, library, page) DO UPDATE SET
			engine     = excluded.engine,
			model      = excluded.model,
			full_text  = excluded.full_text,
			confidence = excluded.confidence,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.vault.ExecContext(ctx, query,
		t.DocID, t.Library, t.Page, t.Engine, t.Model, t.FullText, t.Confidence)
	return err
}

// GetTranscription fetches the OCR output for one page
func (r *TranscriptionRepository) GetTranscription(ctx context.Context, docID, library string, page int) (*Transcription, error) {
	query := `
		SELECT doc_id, library, page, engine, model, full_text, confidence, updated_at
		FROM transcriptions
		WHERE doc_id = ? AND library = ? AND page = ?
	`
	var t Transcription
	err := r.vault.QueryRowContext(ctx, query, docID, library, page).Scan(
		&t.DocID, &t.Library, &t.Page, &t.Engine, &t.Model, &t.FullText, &t.Confidence, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTranscriptions returns all transcribed pages of a document in
// page order
func (r *TranscriptionRepository) ListTranscriptions(ctx context.Context, docID, library string) ([]Transcription, error) {
	query := `
		SELECT doc_id, library, page, engine, model, full_text, confidence, updated_at
		FROM transcriptions
		WHERE doc_id = ? AND library = ?
		ORDER BY page ASC
	`
	rows, err := r.vault.QueryContext(ctx, query, docID, library)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcription
	for rows.Next() {
		var t Transcription
		if err := rows.Scan(
			&t.DocID, &t.Library, &t.Page, &t.Engine, &t.Model, &t.FullText, &t.Confidence, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
