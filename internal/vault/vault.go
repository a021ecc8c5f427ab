// Package vault is the durable mirror of job and manuscript state. It
// is written synchronously so a crash mid-download leaves the store
// consistent with the last reported progress.
package vault

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type Vault struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the vault database at path. WAL mode
// keeps readers unblocked during worker writes; synchronous=FULL makes
// every committed write durable before the call returns.
func Open(path string) (*Vault, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create vault directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(FULL)",
			"foreign_keys(ON)",
		},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping vault: %w", err)
	}

	return &Vault{DB: db, path: path}, nil
}

// Path returns the filesystem location of the vault database
func (v *Vault) Path() string {
	return v.path
}

// Migrate creates the schema if it does not exist
func (v *Vault) Migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS download_jobs (
		job_id       TEXT PRIMARY KEY,
		job_type     TEXT NOT NULL DEFAULT 'download',
		doc_id       TEXT NOT NULL,
		library      TEXT NOT NULL,
		manifest_url TEXT NOT NULL,
		current      INTEGER NOT NULL DEFAULT 0,
		total        INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'queued',
		error        TEXT,
		created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_download_jobs_status ON download_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_download_jobs_library ON download_jobs(library);

	CREATE TABLE IF NOT EXISTS manuscripts (
		id         TEXT NOT NULL,
		library    TEXT NOT NULL,
		title      TEXT,
		local_path TEXT,
		item_type  TEXT NOT NULL DEFAULT 'unclassified',
		page_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, library)
	);

	CREATE TABLE IF NOT EXISTS transcriptions (
		doc_id     TEXT NOT NULL,
		library    TEXT NOT NULL,
		page       INTEGER NOT NULL,
		engine     TEXT NOT NULL,
		model      TEXT,
		full_text  TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (doc_id, library, page)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := v.Exec(schema); err != nil {
		return fmt.Errorf("failed to run vault migrations: %w", err)
	}
	return nil
}
