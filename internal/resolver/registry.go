package resolver

import "strings"

// Registry holds the closed set of library resolvers in a fixed priority
// order. Dispatch is explicit try-in-order: the first resolver whose
// CanResolve returns true wins.
type Registry struct {
	resolvers []Resolver
}

// NewRegistry creates a registry with the given resolvers, tried in order
func NewRegistry(resolvers ...Resolver) *Registry {
	return &Registry{resolvers: resolvers}
}

// DefaultRegistry creates a registry with all built-in resolvers.
// Vatican is tried first because its shelfmark grammar is the most
// specific; the Gallica short-ID pattern is the loosest and goes last
// among URL-less inputs.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewVaticanResolver(),
		NewBodleianResolver(),
		NewGallicaResolver(),
	)
}

// Resolve picks the resolver for the input. When library is empty or
// "auto", resolvers are tried in priority order; otherwise the named
// library's resolver is used directly.
func (r *Registry) Resolve(library, input string) Resolution {
	input = strings.TrimSpace(input)

	if library != "" && !strings.EqualFold(library, "auto") {
		for _, res := range r.resolvers {
			if strings.EqualFold(string(res.Library()), library) {
				return res.Resolve(input)
			}
		}
		return Resolution{
			Library: LibraryUnknown,
			Input:   input,
			Error:   "unsupported library: " + library,
		}
	}

	for _, res := range r.resolvers {
		if res.CanResolve(input) {
			return res.Resolve(input)
		}
	}

	return Resolution{
		Library: LibraryUnknown,
		Input:   input,
	}
}

// Libraries returns the library names in resolver priority order
func (r *Registry) Libraries() []Library {
	libs := make([]Library, 0, len(r.resolvers))
	for _, res := range r.resolvers {
		libs = append(libs, res.Library())
	}
	return libs
}

// Get returns the resolver for a library name, or nil
func (r *Registry) Get(library string) Resolver {
	for _, res := range r.resolvers {
		if strings.EqualFold(string(res.Library()), library) {
			return res
		}
	}
	return nil
}
