package experiment

import (
	"fmt"
	"sort"

	"github.com/san-kum/agentsim/internal/models"
)

type Registry struct {
	models map[string]func() models.Model
}

func NewRegistry() *Registry {
	r := &Registry{
		models: make(map[string]func() models.Model),
	}

	r.models["walkers"] = func() models.Model { return models.NewWalkers() }
	r.models["cells"] = func() models.Model { return models.NewCells() }

	return r
}

// Register adds or replaces a model factory.
func (r *Registry) Register(name string, fn func() models.Model) {
	r.models[name] = fn
}

func (r *Registry) GetModel(name string) (models.Model, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("unknown model: %s", name)
	}
	return fn(), nil
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
