package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/iiifstudio/backend/internal/discovery"
	apperrors "github.com/iiifstudio/backend/internal/errors"
	"github.com/iiifstudio/backend/internal/pipeline"
	"github.com/iiifstudio/backend/internal/resolver"
)

type DiscoveryHandlers struct {
	discovery *discovery.Service
	pipeline  *pipeline.Service
	registry  *resolver.Registry
}

func NewDiscoveryHandlers(d *discovery.Service, p *pipeline.Service, reg *resolver.Registry) *DiscoveryHandlers {
	return &DiscoveryHandlers{discovery: d, pipeline: p, registry: reg}
}

// Resolve handles GET /api/resolve?input=...&library=...
//
// The resolution outcome is always a 200: the valid flag and error
// message let the UI tell "unrecognized" apart from "malformed" while
// the user is still typing.
func (h *DiscoveryHandlers) Resolve(w http.ResponseWriter, r *http.Request) error {
	input := r.URL.Query().Get("input")
	if strings.TrimSpace(input) == "" {
		return apperrors.ValidationError("input is required")
	}
	library := r.URL.Query().Get("library")

	res := h.registry.Resolve(library, input)
	apperrors.WriteJSON(w, requestID(r), http.StatusOK, res)
	return nil
}

// Search handles GET /api/search?q=...&libraries=Gallica,Bodleian&limit=N
func (h *DiscoveryHandlers) Search(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query().Get("q")

	var libraries []string
	if raw := r.URL.Query().Get("libraries"); raw != "" {
		for _, lib := range strings.Split(raw, ",") {
			if lib = strings.TrimSpace(lib); lib != "" {
				libraries = append(libraries, lib)
			}
		}
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return apperrors.ValidationError("limit must be a positive integer")
		}
		limit = n
	}

	records, err := h.discovery.Search(r.Context(), query, libraries, limit)
	if err != nil {
		return err
	}

	apperrors.WriteJSON(w, requestID(r), http.StatusOK, map[string]interface{}{
		"query":   query,
		"count":   len(records),
		"results": records,
	})
	return nil
}

// Preview handles GET /api/preview?input=...&library=... It resolves
// the identifier and fetches the manifest so the UI can show title,
// page count and thumbnail before a download is queued.
func (h *DiscoveryHandlers) Preview(w http.ResponseWriter, r *http.Request) error {
	input := r.URL.Query().Get("input")
	if strings.TrimSpace(input) == "" {
		return apperrors.ValidationError("input is required")
	}
	library := r.URL.Query().Get("library")

	res, err := h.pipeline.Resolve(library, input)
	if err != nil {
		return err
	}

	rec, err := h.discovery.Preview(r.Context(), res.ManifestURL, string(res.Library), res.DocID)
	if err != nil {
		return err
	}
	apperrors.WriteJSON(w, requestID(r), http.StatusOK, rec)
	return nil
}

// Libraries handles GET /api/libraries
func (h *DiscoveryHandlers) Libraries(w http.ResponseWriter, r *http.Request) error {
	apperrors.WriteJSON(w, requestID(r), http.StatusOK, map[string]interface{}{
		"libraries": h.registry.Libraries(),
	})
	return nil
}
