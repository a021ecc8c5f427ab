package api

import (
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/iiifstudio/backend/internal/logger"
	"github.com/iiifstudio/backend/internal/storage"
)

// PagesHandler serves downloaded page images and sidecars from the
// local downloads tree. When a file is missing locally and an archive
// store is configured, it streams the archived copy instead, so a
// document evicted from disk stays viewable.
type PagesHandler struct {
	dir   string
	store *storage.Client
	log   *logger.Logger
}

// NewPagesHandler creates a pages handler. store may be nil, which
// disables the archive fallback.
func NewPagesHandler(dir string, store *storage.Client) *PagesHandler {
	return &PagesHandler{
		dir:   dir,
		store: store,
		log:   logger.Default().WithComponent("pages"),
	}
}

func (h *PagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// r.URL.Path is already stripped of the /pages/ prefix
	rel := path.Clean("/" + r.URL.Path)[1:]
	if rel == "" || rel == "." {
		http.NotFound(w, r)
		return
	}

	local := filepath.Join(h.dir, filepath.FromSlash(rel))
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		http.ServeFile(w, r, local)
		return
	}

	if h.store == nil {
		http.NotFound(w, r)
		return
	}
	h.serveArchived(w, r, rel)
}

// serveArchived streams a file from the archive bucket. The object key
// is derived from the document folder name, which carries the library
// and doc id the archiver hashed.
func (h *PagesHandler) serveArchived(w http.ResponseWriter, r *http.Request, rel string) {
	key, ok := archiveKeyFor(rel)
	if !ok {
		http.NotFound(w, r)
		return
	}

	ctx := r.Context()
	exists, err := h.store.ObjectExists(ctx, key)
	if err != nil {
		h.log.Warn(ctx, "archive lookup failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		http.Error(w, "archive unavailable", http.StatusBadGateway)
		return
	}
	if !exists {
		http.NotFound(w, r)
		return
	}

	obj, info, err := h.store.GetObject(ctx, key)
	if err != nil {
		h.log.Warn(ctx, "archive read failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		http.Error(w, "archive unavailable", http.StatusBadGateway)
		return
	}
	defer obj.Close()

	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	io.Copy(w, obj)
}

// archiveKeyFor maps a request path like
// "VATICANA - MSS_Urb.lat.123 - Title/pages/pag_0000.jpg" to the
// archive object key for that file.
func archiveKeyFor(rel string) (string, bool) {
	folder, rest, ok := strings.Cut(rel, "/")
	if !ok || rest == "" {
		return "", false
	}
	parts := strings.SplitN(folder, " - ", 3)
	if len(parts) < 2 {
		return "", false
	}
	meta := storage.DocumentMetadata{Library: parts[0], DocID: parts[1]}
	return storage.ArchiveKey(meta, rest), true
}
