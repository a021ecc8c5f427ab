package vault

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrManuscriptNotFound = errors.New("manuscript not found")

// Manuscript is one locally downloaded document
type Manuscript struct {
	ID        string
	Library   string
	Title     sql.NullString
	LocalPath sql.NullString
	ItemType  string
	PageCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ManuscriptRepository struct {
	vault *Vault
}

func NewManuscriptRepository(vault *Vault) *ManuscriptRepository {
	return &ManuscriptRepository{vault: vault}
}

// UpsertManuscript inserts or updates a manuscript keyed by (id,
// library). Repeated downloads of the same document never create
// duplicate rows.
func (r *ManuscriptRepository) UpsertManuscript(ctx context.Context, id, library, title, localPath, itemType string, pageCount int) error {
	if itemType == "" {
		itemType = "unclassified"
	}
	query := `
		INSERT INTO manuscripts (id, library, title, local_path, item_type, page_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, library) DO UPDATE SET
			title      = excluded.title,
			local_path = excluded.local_path,
			item_type  = excluded.item_type,
			page_count = excluded.page_count,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := r.vault.ExecContext(ctx, query, id, library, title, localPath, itemType, pageCount)
	return err
}

// GetManuscript fetches one manuscript by its composite key
func (r *ManuscriptRepository) GetManuscript(ctx context.Context, id, library string) (*Manuscript, error) {
	query := `
		SELECT id, library, title, local_path, item_type, page_count, created_at, updated_at
		FROM manuscripts
		WHERE id = ? AND library = ?
	`
	var m Manuscript
	err := r.vault.QueryRowContext(ctx, query, id, library).Scan(
		&m.ID, &m.Library, &m.Title, &m.LocalPath, &m.ItemType, &m.PageCount,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrManuscriptNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListManuscripts returns manuscripts, optionally filtered by library,
// newest first
func (r *ManuscriptRepository) ListManuscripts(ctx context.Context, library string) ([]Manuscript, error) {
	query := `
		SELECT id, library, title, local_path, item_type, page_count, created_at, updated_at
		FROM manuscripts
	`
	var args []any
	if library != "" {
		query += ` WHERE library = ?`
		args = append(args, library)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.vault.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Manuscript
	for rows.Next() {
		var m Manuscript
		if err := rows.Scan(
			&m.ID, &m.Library, &m.Title, &m.LocalPath, &m.ItemType, &m.PageCount,
			&m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteManuscript removes a manuscript row (the files on disk are the
// caller's responsibility)
func (r *ManuscriptRepository) DeleteManuscript(ctx context.Context, id, library string) error {
	_, err := r.vault.ExecContext(ctx, `DELETE FROM manuscripts WHERE id = ? AND library = ?`, id, library)
	return err
}
