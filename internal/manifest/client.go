package manifest

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/logger"
)

// browserHeaders mimic a desktop Firefox. Several IIIF servers throttle
// or refuse requests with default Go client headers.
var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:122.0) Gecko/20100101 Firefox/122.0",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.5",
	"Accept-Encoding":           "gzip, deflate",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
	"DNT":                       "1",
}

// Cache is an optional read-through cache for fetched manifest bodies.
// A nil Cache disables caching.
type Cache interface {
	Get(ctx context.Context, url string) ([]byte, bool)
	Set(ctx context.Context, url string, body []byte)
}

// Client fetches IIIF manifests and search responses over HTTP with
// browser-like headers, bounded retries and tolerant body decoding.
type Client struct {
	httpClient *http.Client
	cache      Cache
	log        *logger.Logger
	retryCfg   *apperrors.RetryConfig
}

// NewClient creates a manifest client with the given request timeout.
// cache may be nil.
func NewClient(timeout time.Duration, cache Cache) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		log:        logger.Default().WithComponent("manifest"),
		retryCfg:   apperrors.ManifestRetryConfig(),
	}
}

// WithRetryConfig returns a copy of the client that uses cfg for its
// retry schedule. The HTTP client and cache are shared, so page and
// search fetches can fail faster without a second connection pool.
func (c *Client) WithRetryConfig(cfg *apperrors.RetryConfig) *Client {
	clone := *c
	clone.retryCfg = cfg
	return &clone
}

// FetchJSON fetches and decodes a JSON document. It retries transient
// failures with exponential backoff (0.5s, 1s, 2s) and backs off harder
// on HTTP 429. On exhausted retries it returns nil and an error; it
// never panics past this boundary.
func (c *Client) FetchJSON(ctx context.Context, url string) (map[string]interface{}, error) {
	body, err := c.FetchBytes(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, apperrors.ManifestError("empty response from " + url)
	}

	doc, err := decodeJSONBody(body)
	if err != nil {
		return nil, apperrors.ManifestError(fmt.Sprintf("invalid JSON from %s: %v", url, err))
	}
	return doc, nil
}

// FetchBytes fetches a raw body with the same header/retry policy as
// FetchJSON. Used for SRU XML search responses.
func (c *Client) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	if c.cache != nil {
		if body, ok := c.cache.Get(ctx, url); ok {
			c.log.Debug(ctx, "cache hit", map[string]interface{}{"url": url})
			return body, nil
		}
	}

	attempt := 0
	body, err := apperrors.RetryWithResult(ctx, c.retryCfg, func(ctx context.Context) ([]byte, error) {
		attempt++

		body, status, err := c.doRequest(ctx, url)
		if err != nil {
			c.log.Debug(ctx, "fetch attempt failed", map[string]interface{}{
				"url":     url,
				"attempt": attempt,
				"error":   err.Error(),
			})
			return nil, apperrors.ManifestError("request to " + url + " failed").WithCause(err)
		}

		switch {
		case status == http.StatusTooManyRequests:
			// Rate limited: back off much harder than the normal schedule
			wait := time.Duration(attempt) * 10 * time.Second
			c.log.Warn(ctx, "rate limited, backing off", map[string]interface{}{
				"url":  url,
				"wait": wait.String(),
			})
			return nil, apperrors.RetryAfter(wait, apperrors.ManifestError("rate limited by "+url))
		case apperrors.HTTPRetryableStatus(status):
			return nil, apperrors.ManifestError(fmt.Sprintf("HTTP %d from %s", status, url))
		case status >= 400:
			// Other 4xx are terminal: retrying will not help
			return nil, apperrors.Permanent(apperrors.ManifestError(fmt.Sprintf("HTTP %d from %s", status, url)))
		}

		return body, nil
	})
	if err != nil {
		if err == context.Canceled || err == context.DeadlineExceeded {
			return nil, apperrors.ExternalTimeout("manifest fetch")
		}
		c.log.Error(ctx, "manifest fetch failed", err, map[string]interface{}{"url": url})
		return nil, err
	}

	if c.cache != nil && len(body) > 0 {
		c.cache.Set(ctx, url, body)
	}
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	// When we set Accept-Encoding ourselves, the transport no longer
	// decompresses automatically.
	body, err = maybeDecompress(body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return body, resp.StatusCode, nil
}

// decodeJSONBody parses JSON with fallbacks for BOM-prefixed and
// whitespace-padded bodies some library servers emit.
func decodeJSONBody(body []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err == nil {
		return doc, nil
	}

	cleaned := strings.TrimSpace(string(body))
	cleaned = strings.TrimPrefix(cleaned, "\uFEFF")
	var fallback map[string]interface{}
	if err := json.Unmarshal([]byte(cleaned), &fallback); err != nil {
		return nil, err
	}
	return fallback, nil
}

func maybeDecompress(body []byte, encoding string) ([]byte, error) {
	// Bodies that already look like JSON/XML were decompressed in
	// transit regardless of what the header claims.
	if len(body) > 0 && (body[0] == '{' || body[0] == '[' || body[0] == '<') {
		return body, nil
	}

	switch {
	case strings.Contains(encoding, "gzip"):
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body, nil
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case strings.Contains(encoding, "deflate"):
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		return io.ReadAll(fr)
	}
	return body, nil
}
