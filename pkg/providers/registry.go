package providers

import "slices"

// Keys holds the credentials of the keyed providers.
type Keys struct {
	Unsplash string
	Pexels   string
	Pixabay  string
	SerpAPI  string
}

// Registry holds providers in a fixed order.
type Registry struct {
	providers []Provider
}

func NewRegistry(ps ...Provider) *Registry {
	return &Registry{providers: slices.Clone(ps)}
}

// Default builds every known provider. Keyless providers are always available.
func Default(keys Keys, opts ...Option) *Registry {
	return NewRegistry(
		NewUnsplash(keys.Unsplash, opts...),
		NewSerpAPI(keys.SerpAPI, opts...),
		NewPexels(keys.Pexels, opts...),
		NewPixabay(keys.Pixabay, opts...),
		NewOpenverse(opts...),
		NewWikimedia(opts...),
		NewDeviantArt(keys.SerpAPI, opts...),
	)
}

func (r *Registry) Get(name string) (Provider, bool) {
	for _, p := range r.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Names lists every registered provider.
func (r *Registry) Names() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Available lists the configured providers in registry order.
func (r *Registry) Available() []string {
	var names []string
	for _, p := range r.providers {
		if p.Available() {
			names = append(names, p.Name())
		}
	}
	return names
}
