package sources

import (
	"net/http"
	"sort"
	"sync"

	"github.com/eleven-am/researchflow/internal/domain"
	"github.com/eleven-am/researchflow/internal/ports"
)

type Registry struct {
	mu      sync.RWMutex
	sources map[string]ports.Source
}

func NewRegistry(sources ...ports.Source) *Registry {
	r := &Registry{sources: make(map[string]ports.Source, len(sources))}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// DefaultRegistry wires the five built-in backends, pointing each at its
// configured base URL when one is set.
func DefaultRegistry(services map[string]domain.ServiceConfig, hc *http.Client) *Registry {
	return NewRegistry(
		NewWeb(services["web"].BaseURL, hc),
		NewGitHub(services["github"].BaseURL, hc),
		NewArxiv(services["arxiv"].BaseURL, hc),
		NewYouTube(services["youtube"].BaseURL, hc),
		NewCustom(services["custom"].BaseURL, hc),
	)
}

func (r *Registry) Register(s ports.Source) {
	r.mu.Lock()
	r.sources[s.Name()] = s
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (ports.Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
