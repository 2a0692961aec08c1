package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// Stage is one unit of pipeline work. Implementations mutate the run
// context and may write artifacts under its BundleDir.
type Stage interface {
	ID() string
	Run(ctx context.Context, pctx *Context) error
	OutputKeys() []string
}

// StageFactory builds a stage instance from its node declaration.
type StageFactory func(nodeID string, params map[string]any) (Stage, error)

// Registry maps node type names to stage factories.
type Registry struct {
	factories map[string]StageFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]StageFactory{}}
}

// Register binds a type name to a factory. Returns the registry for
// chaining.
func (r *Registry) Register(typeName string, factory StageFactory) *Registry {
	r.factories[typeName] = factory
	return r
}

// Create instantiates a stage for the given type name.
func (r *Registry) Create(typeName, nodeID string, params map[string]any) (Stage, error) {
	factory, ok := r.factories[typeName]
	if !ok {
		return nil, fmt.Errorf("stage type %q not registered (available: %v)", typeName, r.Types())
	}
	return factory(nodeID, params)
}

// Has reports whether a type name is registered.
func (r *Registry) Has(typeName string) bool {
	_, ok := r.factories[typeName]
	return ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}
