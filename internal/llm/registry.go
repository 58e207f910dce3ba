package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aegisstack/aegis-agent/internal/models"
)

// Registry holds the configured generation backends and the current default.
// Requests snapshot the current provider once at the start of a run, so an
// operator switching models mid-flight never splits a single analysis across
// two backends.
type Registry struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	descriptions map[string]string
	current      string
}

// NewRegistry creates a registry with the given initial default. The default
// must name a registered provider.
func NewRegistry(defaultName string, providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers:    make(map[string]Provider, len(providers)),
		descriptions: make(map[string]string, len(providers)),
	}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	if _, ok := r.providers[defaultName]; !ok {
		return nil, fmt.Errorf("default model %q is not registered", defaultName)
	}
	r.current = defaultName
	return r, nil
}

// Describe attaches a human-readable description to a registered provider,
// surfaced by the models listing endpoint.
func (r *Registry) Describe(name, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		r.descriptions[name] = description
	}
}

// Snapshot returns the provider currently selected. Callers hold the returned
// value for the duration of one request.
func (r *Registry) Snapshot() Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[r.current]
}

// Current returns the name of the selected provider.
func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Switch changes the default provider. Unknown names are rejected and the
// previous selection stays in effect.
func (r *Registry) Switch(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("unknown model %q", name)
	}
	r.current = name
	return nil
}

// List returns all registered providers sorted by name, flagging the current
// selection.
func (r *Registry) List() []models.ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]models.ModelInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, models.ModelInfo{
			Name:        name,
			Description: r.descriptions[name],
			IsCurrent:   name == r.current,
		})
	}
	return infos
}
