package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// NewHTTPProcessor returns a ProcessPageFunc that posts page images to
// an external recognition service. The service takes a multipart form
// with the image and engine/model fields and answers with a PageResult
// JSON body.
func NewHTTPProcessor(baseURL string, timeout time.Duration) ProcessPageFunc {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context, image, engine, model string) (*PageResult, error) {
		file, err := os.Open(image)
		if err != nil {
			return nil, fmt.Errorf("cannot open page image: %w", err)
		}
		defer file.Close()

		var body bytes.Buffer
		form := multipart.NewWriter(&body)
		part, err := form.CreateFormFile("image", filepath.Base(image))
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(part, file); err != nil {
			return nil, err
		}
		form.WriteField("engine", engine)
		if model != "" {
			form.WriteField("model", model)
		}
		if err := form.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/recognize", &body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", form.FormDataContentType())

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("recognition request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("recognition service returned %d: %s", resp.StatusCode, raw)
		}

		var result PageResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, fmt.Errorf("cannot decode recognition result: %w", err)
		}
		if result.Engine == "" {
			result.Engine = engine
		}
		return &result, nil
	}
}
