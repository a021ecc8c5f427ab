package manifest

import (
	"fmt"
	"strings"
)

// Record is the flat, library-agnostic view of a manuscript extracted
// from an IIIF manifest or a search result.
type Record struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Author      string                 `json:"author"`
	ManifestURL string                 `json:"manifest"`
	Thumbnail   string                 `json:"thumbnail"`
	Library     string                 `json:"library"`
	Date        string                 `json:"date,omitempty"`
	Description string                 `json:"description,omitempty"`
	Publisher   string                 `json:"publisher,omitempty"`
	Language    string                 `json:"language,omitempty"`
	PageCount   int                    `json:"page_count,omitempty"`
	Raw         map[string]interface{} `json:"-"`
}

const (
	defaultTitle  = "Untitled"
	defaultAuthor = "Unknown author"
)

// ParseManifest normalizes IIIF Presentation v2 or v3 manifest JSON
// into a Record. Returns nil only for nil input.
func ParseManifest(doc map[string]interface{}, manifestURL, library, docID string) *Record {
	if doc == nil {
		return nil
	}

	title := extractLabel(doc, docID)
	meta := MetadataMap(doc["metadata"])

	rec := &Record{
		ID:          docID,
		Title:       truncate(title, 200),
		Author:      truncate(firstOf(meta, "creator", "author"), 100),
		ManifestURL: manifestURL,
		Thumbnail:   extractThumbnail(doc, manifestURL, docID),
		Library:     library,
		Date:        meta["date"],
		Description: truncate(meta["description"], 1000),
		Publisher:   firstOf(meta, "publisher", "source"),
		Language:    meta["language"],
		PageCount:   CanvasCount(doc),
		Raw:         doc,
	}
	if rec.ID == "" {
		if id, ok := doc["id"].(string); ok {
			rec.ID = id
		} else {
			rec.ID = manifestURL
		}
	}
	if rec.Author == "" {
		rec.Author = defaultAuthor
	}
	return rec
}

// extractLabel handles the three IIIF label shapes: plain string (v2),
// array, and language map (v3). The first available value wins.
func extractLabel(doc map[string]interface{}, fallback string) string {
	label := doc["label"]
	if label == nil {
		label = doc["title"]
	}

	switch v := label.(type) {
	case string:
		if v != "" {
			return v
		}
	case []interface{}:
		if len(v) > 0 {
			return fmt.Sprintf("%v", v[0])
		}
	case map[string]interface{}:
		for _, val := range v {
			if list, ok := val.([]interface{}); ok && len(list) > 0 {
				return fmt.Sprintf("%v", list[0])
			}
			if s, ok := val.(string); ok && s != "" {
				return s
			}
		}
	}

	if fallback != "" {
		return fallback
	}
	return defaultTitle
}

// MetadataMap flattens an IIIF metadata array into a lower-cased
// key -> value map. Label and value may each be a string, a language
// map, or a list; the first value wins per key.
func MetadataMap(metadata interface{}) map[string]string {
	out := make(map[string]string)
	entries, ok := metadata.([]interface{})
	if !ok {
		return out
	}

	for _, e := range entries {
		entry, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		k := flattenMetaValue(coalesce(entry["label"], entry["name"]))
		v := flattenMetaValue(coalesce(entry["value"], entry["val"]))
		if k != "" && v != "" {
			key := strings.ToLower(k)
			if _, seen := out[key]; !seen {
				out[key] = v
			}
		}
	}
	return out
}

func flattenMetaValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		for _, inner := range t {
			if s := flattenMetaValue(inner); s != "" {
				return s
			}
		}
	case []interface{}:
		if len(t) > 0 {
			return flattenMetaValue(t[0])
		}
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
	return ""
}

// extractThumbnail walks the fixed fallback chain: manifest thumbnail,
// first v3 item thumbnail, nested v3 annotation body, v2 first canvas
// image resource, then library-specific URL heuristics.
func extractThumbnail(doc map[string]interface{}, manifestURL, docID string) string {
	if th := thumbnailID(doc["thumbnail"]); th != "" {
		return th
	}

	if items, ok := doc["items"].([]interface{}); ok && len(items) > 0 {
		if first, ok := items[0].(map[string]interface{}); ok {
			if th := thumbnailID(first["thumbnail"]); th != "" {
				return th
			}
			if body := annotationBody(first); body != "" {
				return body
			}
		}
	}

	if res := firstCanvasResource(doc); res != "" {
		return res
	}

	if docID != "" {
		if strings.Contains(manifestURL, "bodleian") || strings.Contains(manifestURL, "ox.ac.uk") {
			return fmt.Sprintf("https://iiif.bodleian.ox.ac.uk/iiif/thumbnail/%s.jpg", docID)
		}
		if strings.Contains(manifestURL, "vatlib") {
			return strings.Replace(manifestURL, "/manifest.json", "/full/!200,200/0/default.jpg", 1)
		}
	}
	return ""
}

func thumbnailID(v interface{}) string {
	if list, ok := v.([]interface{}); ok {
		if len(list) == 0 {
			return ""
		}
		v = list[0]
	}
	switch t := v.(type) {
	case string:
		return t
	case map[string]interface{}:
		return stringField(t, "id", "@id", "source")
	}
	return ""
}

// annotationBody digs items[0].items[0].items[0].body.id out of a v3 canvas
func annotationBody(canvas map[string]interface{}) string {
	annPages, ok := canvas["items"].([]interface{})
	if !ok || len(annPages) == 0 {
		return ""
	}
	page, ok := annPages[0].(map[string]interface{})
	if !ok {
		return ""
	}
	anns, ok := page["items"].([]interface{})
	if !ok || len(anns) == 0 {
		return ""
	}
	ann, ok := anns[0].(map[string]interface{})
	if !ok {
		return ""
	}
	body, ok := ann["body"].(map[string]interface{})
	if !ok {
		return ""
	}
	return stringField(body, "id", "@id")
}

func firstCanvasResource(doc map[string]interface{}) string {
	canvases := v2Canvases(doc)
	if len(canvases) == 0 {
		return ""
	}
	return canvasImageV2(canvases[0])
}

// CanvasCount returns the number of pages: len(items) for v3,
// len(sequences[0].canvases) for v2.
func CanvasCount(doc map[string]interface{}) int {
	if items, ok := doc["items"].([]interface{}); ok {
		return len(items)
	}
	return len(v2Canvases(doc))
}

// Canvas is one page of a manifest with enough information to fetch
// its image.
type Canvas struct {
	Index    int
	Label    string
	ImageURL string
}

// Canvases extracts every page of a v2 or v3 manifest in order. Pages
// whose image URL cannot be determined are included with an empty
// ImageURL so indices stay aligned with the manifest.
func Canvases(doc map[string]interface{}) []Canvas {
	if items, ok := doc["items"].([]interface{}); ok {
		out := make([]Canvas, 0, len(items))
		for i, it := range items {
			canvas, _ := it.(map[string]interface{})
			c := Canvas{Index: i}
			if canvas != nil {
				c.Label = flattenMetaValue(canvas["label"])
				c.ImageURL = annotationBody(canvas)
			}
			out = append(out, c)
		}
		return out
	}

	canvases := v2Canvases(doc)
	out := make([]Canvas, 0, len(canvases))
	for i, canvas := range canvases {
		out = append(out, Canvas{
			Index:    i,
			Label:    flattenMetaValue(canvas["label"]),
			ImageURL: canvasImageV2(canvas),
		})
	}
	return out
}

func v2Canvases(doc map[string]interface{}) []map[string]interface{} {
	seqs, ok := doc["sequences"].([]interface{})
	if !ok || len(seqs) == 0 {
		return nil
	}
	seq, ok := seqs[0].(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := seq["canvases"].([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(raw))
	for _, c := range raw {
		if canvas, ok := c.(map[string]interface{}); ok {
			out = append(out, canvas)
		}
	}
	return out
}

func canvasImageV2(canvas map[string]interface{}) string {
	images, ok := canvas["images"].([]interface{})
	if !ok || len(images) == 0 {
		return ""
	}
	img, ok := images[0].(map[string]interface{})
	if !ok {
		return ""
	}
	resource, ok := img["resource"].(map[string]interface{})
	if !ok {
		return ""
	}
	return stringField(resource, "@id", "id")
}

// ImageURLAt rewrites a IIIF Image API URL to request the given
// quality region size (e.g. "full", "2000,"). URLs that do not follow
// the Image API path shape are returned unchanged.
func ImageURLAt(imageURL, quality string) string {
	if quality == "" || quality == "full" {
		return imageURL
	}
	idx := strings.Index(imageURL, "/full/")
	if idx == -1 {
		return imageURL
	}
	rest := imageURL[idx+len("/full/"):]
	slash := strings.Index(rest, "/")
	if slash == -1 {
		return imageURL
	}
	return imageURL[:idx] + "/full/" + quality + rest[slash:]
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func coalesce(vals ...interface{}) interface{} {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstOf(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := m[k]; v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
