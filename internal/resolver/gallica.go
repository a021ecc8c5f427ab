package resolver

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// gallicaARKPattern captures the BnF naming authority and the name
	// part of an ARK anywhere in the input (shelfmark, viewer URL,
	// manifest URL).
	gallicaARKPattern = regexp.MustCompile(`(?i)ark:/(12148)/([a-z0-9]+)`)

	// gallicaShortIDPattern matches a bare ARK name like "btv1b84260335".
	// It is deliberately loose, so the Gallica resolver is tried last.
	gallicaShortIDPattern = regexp.MustCompile(`^[a-z0-9]{6,}$`)
)

// GallicaResolver resolves BnF Gallica ARK identifiers and URLs
type GallicaResolver struct{}

// NewGallicaResolver creates a new Gallica ARK resolver
func NewGallicaResolver() *GallicaResolver {
	return &GallicaResolver{}
}

// Library returns the library for this resolver
func (g *GallicaResolver) Library() Library {
	return LibraryGallica
}

// CanResolve returns true for ARK identifiers, gallica.bnf.fr URLs and
// bare short IDs
func (g *GallicaResolver) CanResolve(input string) bool {
	s := strings.TrimSpace(input)
	if s == "" {
		return false
	}
	if gallicaARKPattern.MatchString(s) {
		return true
	}
	if strings.Contains(s, "gallica.bnf.fr") {
		return true
	}
	return gallicaShortIDPattern.MatchString(strings.ToLower(s))
}

// Resolve extracts the ARK name and builds the canonical manifest URL.
// Dotted view suffixes like ".planchecontact" or ".item" are stripped.
func (g *GallicaResolver) Resolve(input string) Resolution {
	s := strings.TrimSpace(input)
	if s == "" {
		return Resolution{Library: LibraryGallica, Input: input}
	}

	if m := gallicaARKPattern.FindStringSubmatch(s); m != nil {
		id := strings.ToLower(m[2])
		return g.resolution(input, id)
	}

	if strings.Contains(s, "gallica.bnf.fr") {
		return Resolution{
			Library: LibraryGallica,
			Input:   input,
			Error:   "Gallica URLs must contain an ARK identifier (ark:/12148/...)",
		}
	}

	// Bare short ID. Strip any dotted suffix before validating.
	id := strings.ToLower(s)
	if idx := strings.Index(id, "."); idx != -1 {
		id = id[:idx]
	}
	if !gallicaShortIDPattern.MatchString(id) {
		return Resolution{
			Library: LibraryGallica,
			Input:   input,
			Error:   "Gallica requires an ARK-formatted identifier",
		}
	}
	return g.resolution(input, id)
}

func (g *GallicaResolver) resolution(input, id string) Resolution {
	return Resolution{
		Valid:       true,
		Library:     LibraryGallica,
		DocID:       id,
		ManifestURL: fmt.Sprintf("https://gallica.bnf.fr/iiif/ark:/12148/%s/manifest.json", id),
		Input:       input,
	}
}
