package diffusion

import (
	"fmt"
	"sort"
)

// Factory builds a model from named parameter values.
type Factory func(params map[string]float64) (*Model, error)

// Catalog maps model names to factories. It replaces an implicit
// package-level registry: callers construct a catalog, register the models
// they want available, and inject it where models are looked up by name.
// A Catalog is not safe for concurrent mutation.
type Catalog struct {
	factories map[string]Factory
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds a named factory. Registering a name twice is an error.
func (c *Catalog) Register(name string, f Factory) error {
	if _, ok := c.factories[name]; ok {
		return fmt.Errorf("diffusion: model %q already registered", name)
	}
	if f == nil {
		return fmt.Errorf("diffusion: nil factory for model %q", name)
	}
	c.factories[name] = f
	return nil
}

// Build constructs the named model with the given parameters.
func (c *Catalog) Build(name string, params map[string]float64) (*Model, error) {
	f, ok := c.factories[name]
	if !ok {
		return nil, fmt.Errorf("diffusion: unknown model %q", name)
	}
	return f(params)
}

// Names returns the registered model names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.factories))
	for name := range c.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
