package integrations

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the adapters wired in at startup. Lookups by capability
// return only enabled adapters, so callers never special-case disabled
// integrations.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Duplicate names are a wiring bug.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.adapters[a.Name()]; ok {
		return fmt.Errorf("adapter %q already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

// Adapter returns a registered adapter by name.
func (r *Registry) Adapter(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// All returns every registered adapter ordered by name, enabled or not.
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Tickets returns the enabled ticketing adapters.
func (r *Registry) Tickets() []TicketAdapter {
	var out []TicketAdapter
	for _, a := range r.All() {
		if t, ok := a.(TicketAdapter); ok && t.Enabled() {
			out = append(out, t)
		}
	}
	return out
}

// Pagers returns the enabled paging adapters.
func (r *Registry) Pagers() []PagingAdapter {
	var out []PagingAdapter
	for _, a := range r.All() {
		if p, ok := a.(PagingAdapter); ok && p.Enabled() {
			out = append(out, p)
		}
	}
	return out
}

// Docs returns the enabled document adapters.
func (r *Registry) Docs() []DocAdapter {
	var out []DocAdapter
	for _, a := range r.All() {
		if d, ok := a.(DocAdapter); ok && d.Enabled() {
			out = append(out, d)
		}
	}
	return out
}

// StatusPages returns the enabled status page adapters.
func (r *Registry) StatusPages() []StatusPageAdapter {
	var out []StatusPageAdapter
	for _, a := range r.All() {
		if s, ok := a.(StatusPageAdapter); ok && s.Enabled() {
			out = append(out, s)
		}
	}
	return out
}
