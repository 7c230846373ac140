package models

import (
	"sync"

	"github.com/pkg/errors"
)

// Registry holds the configured adapters in registration order. Order matters
// downstream: per-model progress tables and fan-out follow it.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) error {
	if r == nil {
		return errors.New("model registry is nil")
	}
	if a == nil {
		return errors.New("adapter is nil")
	}
	name := a.Name()
	if name == "" {
		return errors.New("adapter has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[name]; ok {
		return errors.Errorf("adapter %q already registered", name)
	}
	r.adapters[name] = a
	r.order = append(r.order, name)
	return nil
}

func (r *Registry) Get(name string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Enabled returns the adapters switched on by config, in registration order,
// skipping adapters that are not currently available. Unknown config keys are
// ignored. A nil config enables every registered model; an empty one enables
// none.
func (r *Registry) Enabled(config map[string]bool) []Adapter {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		if config != nil && !config[name] {
			continue
		}
		a := r.adapters[name]
		if a == nil || !a.Available() {
			continue
		}
		out = append(out, a)
	}
	return out
}
