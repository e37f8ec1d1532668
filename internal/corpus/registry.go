// Package corpus resolves configured bibliographic providers and fans a query
// out over them.
package corpus

import (
	"fmt"
	"sort"

	"PaperBlogBot/internal/ports"
)

// Provider is one named bibliographic search backend (PubMed, arXiv, etc.).
type Provider interface {
	ports.Searcher
	Name() string
}

// Registry keeps a mapping from provider names to their implementations.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Register adds or replaces a provider implementation.
func (r *Registry) Register(p Provider) {
	if r.providers == nil {
		r.providers = map[string]Provider{}
	}
	r.providers[p.Name()] = p
}

// Resolve returns a provider by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Provider, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("provider %s is not registered (known: %v)", name, r.Names())
}

// Names lists registered providers in lexical order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
