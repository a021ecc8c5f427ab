package resolver

// Library identifies the institution an identifier belongs to
type Library string

const (
	LibraryVatican  Library = "Vaticana"
	LibraryGallica  Library = "Gallica"
	LibraryBodleian Library = "Bodleian"
	LibraryUnknown  Library = "unknown"
)

// Resolution contains the result of resolving a shelfmark, identifier or URL
// into a canonical IIIF manifest URL.
//
// Valid=false with an empty Error means the resolver could not parse the
// input at all; Valid=false with a non-empty Error means the library was
// recognized but the identifier is malformed for it. Callers surface these
// as two distinct messages.
type Resolution struct {
	Valid       bool    `json:"valid"`
	Library     Library `json:"library"`
	DocID       string  `json:"doc_id,omitempty"`
	ManifestURL string  `json:"manifest_url,omitempty"`
	Input       string  `json:"input"`
	Error       string  `json:"error,omitempty"`
}

// Resolver defines the interface for per-library identifier resolvers
type Resolver interface {
	// Library returns the library this resolver handles
	Library() Library

	// CanResolve returns true if this resolver recognizes the given input.
	// It is a pure predicate with no side effects.
	CanResolve(input string) bool

	// Resolve normalizes the input into a canonical manifest URL and doc ID
	Resolve(input string) Resolution
}
