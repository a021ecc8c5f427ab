package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writePages(t *testing.T, pages ...int) string {
	t.Helper()
	docDir := t.TempDir()
	pagesDir := filepath.Join(docDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range pages {
		name := filepath.Join(pagesDir, fmt.Sprintf("pag_%04d.jpg", p))
		if err := os.WriteFile(name, []byte("jpeg"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return docDir
}

func TestPageFiles(t *testing.T) {
	docDir := writePages(t, 0, 1, 3)

	files, err := PageFiles(docDir)
	if err != nil {
		t.Fatalf("PageFiles: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("got %d files, want 3", len(files))
	}
	if _, ok := files[2]; ok {
		t.Error("page 2 was never written")
	}
}

func TestRunBatchRecognizesAllPages(t *testing.T) {
	docDir := writePages(t, 0, 1, 2)

	var recognized []int
	var progressCalls int
	spec := BatchSpec{
		DocDir: docDir,
		Engine: "kraken",
		Process: func(_ context.Context, image, engine, model string) (*PageResult, error) {
			return &PageResult{FullText: "text of " + image, AverageConfidence: 0.9, Engine: engine}, nil
		},
		OnPage: func(page int, result *PageResult) {
			if result.Error == "" {
				recognized = append(recognized, page)
			}
		},
	}

	err := RunBatch(context.Background(), spec, func(c, total int) { progressCalls++ }, nil)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(recognized) != 3 {
		t.Errorf("recognized %v", recognized)
	}
	if progressCalls != 3 {
		t.Errorf("progress called %d times", progressCalls)
	}
}

func TestRunBatchPageFailureIsNotFatal(t *testing.T) {
	docDir := writePages(t, 0, 1)

	var failed, ok int
	spec := BatchSpec{
		DocDir: docDir,
		Engine: "kraken",
		Process: func(_ context.Context, image, engine, model string) (*PageResult, error) {
			if filepath.Base(image) == "pag_0000.jpg" {
				return nil, errors.New("unreadable image")
			}
			return &PageResult{FullText: "x", Engine: engine}, nil
		},
		OnPage: func(page int, result *PageResult) {
			if result.Error != "" {
				failed++
			} else {
				ok++
			}
		},
	}

	if err := RunBatch(context.Background(), spec, nil, nil); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if failed != 1 || ok != 1 {
		t.Errorf("failed=%d ok=%d", failed, ok)
	}
}

func TestRunBatchStops(t *testing.T) {
	docDir := writePages(t, 0, 1, 2)

	var done int
	spec := BatchSpec{
		DocDir: docDir,
		Engine: "kraken",
		Process: func(_ context.Context, image, engine, model string) (*PageResult, error) {
			done++
			return &PageResult{Engine: engine}, nil
		},
	}

	err := RunBatch(context.Background(), spec, nil, func() bool { return done >= 1 })
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if done != 1 {
		t.Errorf("processed %d pages after stop, want 1", done)
	}
}
