// Package ocr runs page transcription batches over downloaded
// documents. The recognition engine itself is an external
// collaborator supplied as a function.
package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// PageResult is the output of recognizing one page image
type PageResult struct {
	FullText          string  `json:"full_text"`
	AverageConfidence float64 `json:"average_confidence"`
	Engine            string  `json:"engine"`
	Error             string  `json:"error,omitempty"`
}

// ProcessPageFunc recognizes a single page image. image is the path of
// the page file on disk.
type ProcessPageFunc func(ctx context.Context, image string, engine, model string) (*PageResult, error)

// BatchSpec describes an OCR batch over a downloaded document
type BatchSpec struct {
	DocDir  string
	Engine  string
	Model   string
	Pages   []int // empty means every page
	Process ProcessPageFunc

	// OnPage receives each page's result as it completes
	OnPage func(page int, result *PageResult)
}

// PageFiles lists the page images of a document directory in page
// order, keyed by page index parsed from the pag_NNNN.jpg name.
func PageFiles(docDir string) (map[int]string, error) {
	pagesDir := filepath.Join(docDir, "pages")
	entries, err := os.ReadDir(pagesDir)
	if err != nil {
		return nil, fmt.Errorf("cannot read pages directory: %w", err)
	}

	out := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var idx int
		if _, err := fmt.Sscanf(entry.Name(), "pag_%04d.jpg", &idx); err != nil {
			continue
		}
		out[idx] = filepath.Join(pagesDir, entry.Name())
	}
	return out, nil
}

// RunBatch recognizes the requested pages in order, reporting progress
// and honoring shouldStop between pages. Page-level recognition
// failures are recorded in the result, not fatal.
func RunBatch(ctx context.Context, spec BatchSpec, progress func(current, total int), shouldStop func() bool) error {
	if spec.Process == nil {
		return fmt.Errorf("ocr batch needs a page processor")
	}

	files, err := PageFiles(spec.DocDir)
	if err != nil {
		return err
	}

	pages := spec.Pages
	if len(pages) == 0 {
		for idx := range files {
			pages = append(pages, idx)
		}
		sort.Ints(pages)
	}
	total := len(pages)
	if total == 0 {
		return fmt.Errorf("no pages to recognize in %s", spec.DocDir)
	}

	for i, page := range pages {
		if shouldStop != nil && shouldStop() {
			return nil
		}

		path, ok := files[page]
		if !ok {
			if spec.OnPage != nil {
				spec.OnPage(page, &PageResult{
					Engine: spec.Engine,
					Error:  fmt.Sprintf("page %d not downloaded", page),
				})
			}
			continue
		}

		result, err := spec.Process(ctx, path, spec.Engine, spec.Model)
		if err != nil {
			result = &PageResult{Engine: spec.Engine, Error: err.Error()}
		}
		if spec.OnPage != nil {
			spec.OnPage(page, result)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
	return nil
}
