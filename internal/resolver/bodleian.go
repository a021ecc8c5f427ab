package resolver

import (
	"fmt"
	"regexp"
	"strings"
)

// bodleianUUIDPattern finds a Digital Bodleian object UUID anywhere in
// the input: a bare UUID, an objects/ viewer URL, or a manifest URL.
var bodleianUUIDPattern = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// BodleianResolver resolves Digital Bodleian object UUIDs and URLs
type BodleianResolver struct{}

// NewBodleianResolver creates a new Bodleian UUID resolver
func NewBodleianResolver() *BodleianResolver {
	return &BodleianResolver{}
}

// Library returns the library for this resolver
func (b *BodleianResolver) Library() Library {
	return LibraryBodleian
}

// CanResolve returns true when the input contains a UUID or points at a
// Bodleian host
func (b *BodleianResolver) CanResolve(input string) bool {
	s := strings.TrimSpace(input)
	if s == "" {
		return false
	}
	if bodleianUUIDPattern.MatchString(s) {
		return true
	}
	return strings.Contains(s, "digital.bodleian.ox.ac.uk") ||
		strings.Contains(s, "iiif.bodleian.ox.ac.uk")
}

// Resolve extracts the object UUID (case-insensitive, normalized to
// lowercase) and builds the canonical manifest URL
func (b *BodleianResolver) Resolve(input string) Resolution {
	s := strings.TrimSpace(input)
	if s == "" {
		return Resolution{Library: LibraryBodleian, Input: input}
	}

	m := bodleianUUIDPattern.FindString(s)
	if m == "" {
		return Resolution{
			Library: LibraryBodleian,
			Input:   input,
			Error:   "Bodleian identifiers must contain an object UUID",
		}
	}

	id := strings.ToLower(m)
	return Resolution{
		Valid:       true,
		Library:     LibraryBodleian,
		DocID:       id,
		ManifestURL: fmt.Sprintf("https://iiif.bodleian.ox.ac.uk/iiif/manifest/%s.json", id),
		Input:       input,
	}
}
