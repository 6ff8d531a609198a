package module

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// UnknownModuleError reports a placement referencing a module type that was
// never registered. It is fatal to that placement only.
type UnknownModuleError struct {
	Name string
}

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("unknown module type %q", e.Name)
}

// Registry holds the definitions for a single application instance. It is
// populated at startup and read-only afterwards; registration of a duplicate
// name is a programmer error and panics, the same as a duplicate handler.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

// NewRegistry creates an empty definition registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register installs a module definition under its name.
func (r *Registry) Register(def *Definition) {
	if err := def.Validate(); err != nil {
		panic(err.Error())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		panic(fmt.Sprintf("module definition %q already registered", def.Name))
	}
	slog.Debug("Registering module definition.", "name", def.Name)
	r.defs[def.Name] = def
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns all registered definition names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
