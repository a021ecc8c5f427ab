package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/logger"
	"github.com/iiifstudio/backend/internal/manifest"
	"github.com/iiifstudio/backend/internal/util"
)

// Engine fetches every page image of a manifest into a per-document
// directory. Pages already on disk are skipped, which is what makes
// paused and retried jobs resume instead of starting over.
type Engine struct {
	client  *manifest.Client
	pages   *manifest.Client
	quality string
	log     *logger.Logger
}

// NewEngine creates a download engine. quality is the IIIF Image API
// size parameter ("full", "2000,", ...). Page images retry on their
// own schedule: a failed page is skipped rather than failing the run,
// so it gets fewer attempts than the manifest itself.
func NewEngine(client *manifest.Client, quality string) *Engine {
	if quality == "" {
		quality = "full"
	}
	return &Engine{
		client:  client,
		pages:   client.WithRetryConfig(apperrors.PageRetryConfig()),
		quality: quality,
		log:     logger.Default().WithComponent("downloader"),
	}
}

// RunSpec describes one download run
type RunSpec struct {
	ManifestURL string
	Library     string
	DocID       string
	OutputDir   string
	FolderName  string
	Progress    func(current, total int)
	ShouldStop  func() bool
}

// Result reports what a run produced
type Result struct {
	Title     string
	DocDir    string
	PageCount int
	Fetched   int
	Skipped   int
	Stopped   bool
}

// Run downloads all pages of a document. Page-level failures are
// logged and skipped; only systemic failures (unreachable manifest,
// unwritable output directory) return an error. When ShouldStop
// reports true between pages, the run stops and leaves partial files
// in place.
func (e *Engine) Run(ctx context.Context, spec RunSpec) (*Result, error) {
	if spec.Progress == nil {
		spec.Progress = func(int, int) {}
	}
	if spec.ShouldStop == nil {
		spec.ShouldStop = func() bool { return false }
	}

	doc, err := e.client.FetchJSON(ctx, spec.ManifestURL)
	if err != nil {
		return nil, apperrors.DownloadError("manifest unreachable: " + spec.ManifestURL).WithCause(err)
	}

	rec := manifest.ParseManifest(doc, spec.ManifestURL, spec.Library, spec.DocID)
	canvases := manifest.Canvases(doc)
	total := len(canvases)
	if total == 0 {
		return nil, apperrors.DownloadError("manifest has no pages: " + spec.ManifestURL)
	}

	folder := spec.FolderName
	if folder == "" {
		folder = util.FolderName(spec.Library, spec.DocID, rec.Title)
	}
	docDir := filepath.Join(spec.OutputDir, folder)
	pagesDir := filepath.Join(docDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return nil, apperrors.DownloadError("cannot create output directory").WithCause(err)
	}

	if err := e.writeSidecars(docDir, doc, rec); err != nil {
		return nil, err
	}

	result := &Result{Title: rec.Title, DocDir: docDir, PageCount: total}
	current := 0
	for _, canvas := range canvases {
		if spec.ShouldStop() {
			result.Stopped = true
			e.log.Info(ctx, "download stopped at safe point", map[string]interface{}{
				"doc_id":  spec.DocID,
				"current": current,
				"total":   total,
			})
			return result, nil
		}

		pagePath := filepath.Join(pagesDir, fmt.Sprintf("pag_%04d.jpg", canvas.Index))
		if fileExists(pagePath) {
			result.Skipped++
			current++
			spec.Progress(current, total)
			continue
		}

		if canvas.ImageURL == "" {
			e.log.Warn(ctx, "canvas has no image, skipping page", map[string]interface{}{
				"doc_id": spec.DocID,
				"page":   canvas.Index,
			})
			continue
		}

		imageURL := manifest.ImageURLAt(canvas.ImageURL, e.quality)
		if err := e.fetchPage(ctx, imageURL, pagePath); err != nil {
			e.log.Warn(ctx, "page download failed, skipping", map[string]interface{}{
				"doc_id": spec.DocID,
				"page":   canvas.Index,
				"error":  err.Error(),
			})
			continue
		}

		result.Fetched++
		current++
		spec.Progress(current, total)
	}

	return result, nil
}

// fetchPage downloads one image to a temp file and renames it into
// place, so an interrupted write never leaves a truncated page that a
// later resume would skip.
func (e *Engine) fetchPage(ctx context.Context, url, dest string) error {
	body, err := e.pages.FetchBytes(ctx, url)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return fmt.Errorf("empty image body from %s", url)
	}

	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}

// writeSidecars stores the raw manifest and the parsed metadata next
// to the pages for offline use.
func (e *Engine) writeSidecars(docDir string, doc map[string]interface{}, rec *manifest.Record) error {
	if err := writeJSON(filepath.Join(docDir, "manifest.json"), doc); err != nil {
		return apperrors.DownloadError("cannot write manifest sidecar").WithCause(err)
	}
	meta := map[string]interface{}{
		"id":         rec.ID,
		"title":      rec.Title,
		"author":     rec.Author,
		"library":    rec.Library,
		"manifest":   rec.ManifestURL,
		"date":       rec.Date,
		"language":   rec.Language,
		"page_count": rec.PageCount,
	}
	if err := writeJSON(filepath.Join(docDir, "metadata.json"), meta); err != nil {
		return apperrors.DownloadError("cannot write metadata sidecar").WithCause(err)
	}
	return nil
}

// writeJSON writes atomically: temp file then rename
func writeJSON(path string, data interface{}) error {
	body, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
