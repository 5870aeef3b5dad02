package strategy

import (
	"sort"
	"sync"
)

// Constructor builds a strategy. It must not fail; configuration problems
// surface from Validate.
type Constructor func(Context) Strategy

type Registry struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// DefaultRegistry has the built-in strategy types registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeMarketMaker, NewMarketMaker)
	r.Register(TypeMomentum, NewMomentum)
	return r
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors[name] = ctor
}

// Create returns false for an unknown type.
func (r *Registry) Create(name string, sc Context) (Strategy, bool) {
	r.mu.RLock()
	ctor, ok := r.ctors[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return ctor(sc), true
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ctors[name]
	return ok
}

// Types lists registered type names in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.ctors))
	for name := range r.ctors {
		out = append(out, name)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
