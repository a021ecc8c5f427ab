package resolver

import (
	"fmt"
	"regexp"
	"strings"
)

// vaticanCaseMap holds fond-grammar words that digi.vatlib.it serves
// lowercase when they follow the leading fond name ("Vat.Lat.123" is
// served as "MSS_Vat.lat.123"). "vat" in a non-leading position is the
// abbreviation for "vaticani" and is served as "vatic".
var vaticanCaseMap = map[string]string{
	"lat":   "lat",
	"gr":    "gr",
	"pal":   "pal",
	"vat":   "vatic",
	"vatic": "vatic",
}

// vaticanFonds are the shelfmark prefixes recognized for auto-detection
var vaticanFonds = map[string]bool{
	"urb": true, "vat": true, "vatic": true, "pal": true, "barb": true,
	"ott": true, "reg": true, "ross": true, "chig": true, "borg": true,
	"arch": true, "lat": true, "gr": true, "capp": true,
}

var vaticanTokenSplit = regexp.MustCompile(`[.\s]+`)

// VaticanResolver resolves Biblioteca Apostolica Vaticana shelfmarks
// (e.g. "Urb. lat. 123") and digi.vatlib.it URLs.
type VaticanResolver struct{}

// NewVaticanResolver creates a new Vatican shelfmark resolver
func NewVaticanResolver() *VaticanResolver {
	return &VaticanResolver{}
}

// Library returns the library for this resolver
func (v *VaticanResolver) Library() Library {
	return LibraryVatican
}

// CanResolve returns true for digi.vatlib.it URLs, MSS_ identifiers and
// shelfmarks starting with a known fond name.
func (v *VaticanResolver) CanResolve(input string) bool {
	s := strings.TrimSpace(input)
	if s == "" {
		return false
	}
	if strings.Contains(s, "digi.vatlib.it") {
		return true
	}
	if strings.HasPrefix(strings.ToUpper(s), "MSS_") {
		return true
	}
	tokens := vaticanTokenSplit.Split(s, -1)
	return len(tokens) > 1 && vaticanFonds[strings.ToLower(tokens[0])]
}

// Resolve normalizes the shelfmark and builds the canonical manifest URL
func (v *VaticanResolver) Resolve(input string) Resolution {
	s := strings.TrimSpace(input)
	if s == "" {
		return Resolution{Library: LibraryVatican, Input: input}
	}

	// Full URL pasted from the viewer or a manifest link: take the
	// trailing path segment as the document ID.
	if strings.Contains(s, "digi.vatlib.it") {
		id := strings.TrimSuffix(strings.TrimRight(s, "/"), "/manifest.json")
		id = strings.TrimRight(id, "/")
		if idx := strings.LastIndex(id, "/"); idx != -1 {
			id = id[idx+1:]
		}
		if id == "" {
			return Resolution{
				Library: LibraryVatican,
				Input:   input,
				Error:   "could not extract a document ID from the Vatican URL",
			}
		}
		return v.resolution(input, id)
	}

	id := normalizeVaticanShelfmark(s)
	if id == "" {
		return Resolution{
			Library: LibraryVatican,
			Input:   input,
			Error:   "Vatican shelfmarks must contain a fond and a number (e.g. Urb. lat. 123)",
		}
	}
	return v.resolution(input, id)
}

func (v *VaticanResolver) resolution(input, id string) Resolution {
	return Resolution{
		Valid:       true,
		Library:     LibraryVatican,
		DocID:       id,
		ManifestURL: fmt.Sprintf("https://digi.vatlib.it/iiif/%s/manifest.json", id),
		Input:       input,
	}
}

// normalizeVaticanShelfmark turns shelfmark variants with equivalent
// content ("Urb. lat. 123", "urb lat 123") into the single canonical
// dotted form the BAV image server expects ("MSS_Urb.lat.123").
func normalizeVaticanShelfmark(s string) string {
	if strings.HasPrefix(strings.ToUpper(s), "MSS_") {
		// Already an identifier; just strip stray spaces.
		return strings.ReplaceAll(s, " ", "")
	}

	tokens := vaticanTokenSplit.Split(s, -1)
	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		lower := strings.ToLower(tok)
		switch {
		case len(parts) == 0:
			// The leading fond name carries a capital (Urb, Vat, Barb...)
			parts = append(parts, strings.ToUpper(lower[:1])+lower[1:])
		case vaticanCaseMap[lower] != "":
			parts = append(parts, vaticanCaseMap[lower])
		default:
			parts = append(parts, tok)
		}
	}

	if len(parts) < 2 {
		return ""
	}
	return "MSS_" + strings.Join(parts, ".")
}
