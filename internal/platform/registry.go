package platform

import (
	"sort"
	"strings"
	"sync"
)

// Registry resolves destination identifiers to adapters. Lookups are
// case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	aliases  map[string]string
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		aliases:  map[string]string{"twitter": "x"},
	}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[normalize(a.Name())] = a
	r.mu.Unlock()
}

func (r *Registry) Alias(alias, name string) {
	r.mu.Lock()
	r.aliases[normalize(alias)] = normalize(name)
	r.mu.Unlock()
}

func (r *Registry) Resolve(name string) (Adapter, error) {
	key := normalize(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if target, ok := r.aliases[key]; ok {
		key = target
	}
	if a, ok := r.adapters[key]; ok {
		return a, nil
	}
	return nil, NotFound(name, "unsupported platform: %s", name)
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
