package worker

import (
	"fmt"
	"sync"

	"github.com/hupe1980/threadmesh/core"
)

// Registry is the typed capability registry of a graph. Each worker's
// declared input/output channel contract is validated against the schema at
// registration time, so dispatch never probes capabilities at run time.
// Safe for concurrent access, though registration is expected to complete
// before invocations start.
type Registry struct {
	schema  Schema
	mu      sync.RWMutex
	workers map[string]core.Worker
}

// Schema is the minimal schema surface the registry validates against.
type Schema interface {
	Spec(name string) (core.ChannelSpec, bool)
}

// NewRegistry creates a registry bound to a channel schema.
func NewRegistry(schema Schema) *Registry {
	return &Registry{schema: schema, workers: map[string]core.Worker{}}
}

// Register validates the worker's contract and adds it to the registry.
// Rejections:
//   - empty name or group, or a name collision
//   - the reserved router group
//   - a read or write channel absent from the schema
//   - a write channel owned by a different group
func (r *Registry) Register(w core.Worker) error {
	reg := w.Registration()
	if reg.Name == "" {
		return fmt.Errorf("worker name must not be empty")
	}
	if reg.Group == "" {
		return fmt.Errorf("worker %s: group must not be empty", reg.Name)
	}
	if reg.Group == core.GroupRouter {
		return fmt.Errorf("worker %s: group %q is reserved", reg.Name, core.GroupRouter)
	}

	for _, name := range reg.Reads {
		if _, ok := r.schema.Spec(name); !ok {
			return fmt.Errorf("worker %s: %w", reg.Name, &core.UnknownChannelError{Channel: name})
		}
	}
	for _, name := range reg.Writes {
		spec, ok := r.schema.Spec(name)
		if !ok {
			return fmt.Errorf("worker %s: %w", reg.Name, &core.UnknownChannelError{Channel: name})
		}
		if spec.Owner != reg.Group {
			return fmt.Errorf("worker %s: %w", reg.Name, &core.OwnershipError{Writer: reg.Name, Channel: name})
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[reg.Name]; ok {
		return fmt.Errorf("worker %s already registered", reg.Name)
	}
	r.workers[reg.Name] = w
	return nil
}

// Get returns a registered worker by name.
func (r *Registry) Get(name string) (core.Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[name]
	return w, ok
}

// Names returns the registered worker names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, name)
	}
	return names
}
