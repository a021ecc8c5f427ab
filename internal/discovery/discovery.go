// Package discovery searches the supported library catalogs and
// previews manifests before a download is submitted.
package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/logger"
	"github.com/iiifstudio/backend/internal/manifest"
	"github.com/iiifstudio/backend/internal/resolver"
)

const (
	defaultGallicaSRUURL     = "https://gallica.bnf.fr/SRU"
	defaultBodleianSearchURL = "https://digital.bodleian.ox.ac.uk/api/search/catalog/"

	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// Service fans search queries out to the library catalogs
type Service struct {
	client   *manifest.Client
	search   *manifest.Client
	registry *resolver.Registry
	log      *logger.Logger

	// Overridable in tests
	gallicaSRUURL     string
	bodleianSearchURL string
}

// NewService creates a discovery service. Catalog searches are
// interactive, so they retry on a fail-fast schedule while manifest
// previews keep the patient one.
func NewService(client *manifest.Client, registry *resolver.Registry) *Service {
	return &Service{
		client:            client,
		search:            client.WithRetryConfig(apperrors.SearchRetryConfig()),
		registry:          registry,
		log:               logger.Default().WithComponent("discovery"),
		gallicaSRUURL:     defaultGallicaSRUURL,
		bodleianSearchURL: defaultBodleianSearchURL,
	}
}

// Search queries the given libraries concurrently and merges the
// results. An empty library list means all searchable libraries.
// Per-library failures are logged and tolerated; the call errors only
// when every library fails.
func (s *Service) Search(ctx context.Context, query string, libraries []string, limit int) ([]manifest.Record, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperrors.BadRequest("search query is required")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	if len(libraries) == 0 {
		libraries = []string{string(resolver.LibraryGallica), string(resolver.LibraryBodleian)}
	}

	var (
		mu      sync.Mutex
		merged  []manifest.Record
		failed  int
		lastErr error
	)
	g, gctx := errgroup.WithContext(ctx)

	for _, library := range libraries {
		g.Go(func() error {
			var (
				records []manifest.Record
				err     error
			)
			switch {
			case strings.EqualFold(library, string(resolver.LibraryGallica)):
				records, err = s.searchGallica(gctx, query, limit)
			case strings.EqualFold(library, string(resolver.LibraryBodleian)):
				records, err = s.searchBodleian(gctx, query, limit)
			default:
				// Vatican has no public search API; identifiers only
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				lastErr = err
				s.log.Warn(gctx, "library search failed", map[string]interface{}{
					"library": library,
					"error":   err.Error(),
				})
				return nil
			}
			merged = append(merged, records...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(merged) == 0 && failed > 0 {
		return nil, apperrors.SearchError("all library searches failed").WithCause(lastErr)
	}
	if merged == nil {
		merged = []manifest.Record{}
	}
	return merged, nil
}

// searchGallica queries the BnF SRU endpoint and parses the Dublin
// Core response
func (s *Service) searchGallica(ctx context.Context, query string, limit int) ([]manifest.Record, error) {
	params := url.Values{
		"operation":      {"searchRetrieve"},
		"version":        {"1.2"},
		"query":          {fmt.Sprintf(`(dc.title all "%s") and (dc.type all "manuscrit")`, query)},
		"maximumRecords": {fmt.Sprintf("%d", limit)},
		"startRecord":    {"1"},
	}

	body, err := s.search.FetchBytes(ctx, s.gallicaSRUURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	gallica := s.registry.Get(string(resolver.LibraryGallica))
	if gallica == nil {
		return nil, apperrors.InternalError("gallica resolver not registered")
	}
	return manifest.ParseSRU(body, gallica)
}

// searchBodleian queries the Digital Bodleian JSON catalog API
func (s *Service) searchBodleian(ctx context.Context, query string, limit int) ([]manifest.Record, error) {
	params := url.Values{
		"q":      {query},
		"format": {"json"},
		"rows":   {fmt.Sprintf("%d", limit)},
	}

	doc, err := s.search.FetchJSON(ctx, s.bodleianSearchURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	response, _ := doc["response"].(map[string]interface{})
	docs, _ := response["docs"].([]interface{})

	var records []manifest.Record
	for _, d := range docs {
		entry, ok := d.(map[string]interface{})
		if !ok {
			continue
		}
		uuid, _ := entry["uuid"].(string)
		if uuid == "" {
			continue
		}
		title := "Untitled"
		if titles, ok := entry["title_ssm"].([]interface{}); ok && len(titles) > 0 {
			if t, ok := titles[0].(string); ok && t != "" {
				title = t
			}
		}
		records = append(records, manifest.Record{
			ID:          uuid,
			Title:       title,
			Author:      "Unknown author",
			ManifestURL: fmt.Sprintf("https://iiif.bodleian.ox.ac.uk/iiif/manifest/%s.json", uuid),
			Thumbnail:   fmt.Sprintf("https://iiif.bodleian.ox.ac.uk/iiif/image/%s/full/256,/0/default.jpg", uuid),
			Library:     string(resolver.LibraryBodleian),
		})
	}
	return records, nil
}

// Preview fetches and parses a manifest for display before download:
// title, description, page count, thumbnail.
func (s *Service) Preview(ctx context.Context, manifestURL, library, docID string) (*manifest.Record, error) {
	doc, err := s.client.FetchJSON(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	rec := manifest.ParseManifest(doc, manifestURL, library, docID)
	if rec == nil {
		return nil, apperrors.ManifestError("manifest is empty: " + manifestURL)
	}
	return rec, nil
}
