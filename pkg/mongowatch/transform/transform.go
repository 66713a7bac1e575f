// Package transform provides a registry of named, pure field-transform
// functions for the delivery pipeline. Transforms replace the original
// idea of running arbitrary code over records: each one is a plain
// function of a single value, referenced by name from configuration.
package transform

import (
	"fmt"
	"sync"
)

// Func transforms a single field value. Returning keep=false removes
// the field from the record instead of replacing it.
type Func func(v any) (out any, keep bool)

// Registry maps transform names to functions. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// NewRegistry creates a registry pre-populated with the built-in
// transforms.
func NewRegistry() *Registry {
	r := &Registry{funcs: make(map[string]Func)}
	for name, fn := range builtins() {
		r.funcs[name] = fn
	}
	return r
}

// Register adds or replaces a transform.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" {
		return fmt.Errorf("transform name is required")
	}
	if fn == nil {
		return fmt.Errorf("transform %q: function is required", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[name] = fn
	return nil
}

// Get returns the named transform and whether it exists.
func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	return fn, ok
}

// Names returns the registered transform names, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	return names
}
