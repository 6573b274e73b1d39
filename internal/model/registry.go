package model

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/VENIZIA-AI/ignis-sub007/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Registry holds the entity descriptors of one data source.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewRegistry creates a registry and registers the given entities.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity)}
	for _, e := range entities {
		if err := r.Register(e); err != nil {
			return nil, err
		}
	}
	if err := r.Check(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register validates and adds an entity. Relation targets are checked by
// Check once all entities are known.
func (r *Registry) Register(e *Entity) error {
	if e == nil {
		return fmt.Errorf("entity is nil")
	}
	if err := e.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entities[e.Name]; exists {
		return fmt.Errorf("entity %s already registered", e.Name)
	}
	r.entities[e.Name] = e
	return nil
}

// Get returns the entity with the given name.
func (r *Registry) Get(name string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[name]
	if !ok {
		return nil, errors.Newf(errors.UnknownEntity, "unknown entity %q", name)
	}
	return e, nil
}

// Names lists registered entity names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check verifies that every relation points at registered entities and
// existing key columns.
func (r *Registry) Check() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entities {
		for name, rel := range e.Relations {
			target, ok := r.entities[rel.Target]
			if !ok {
				return fmt.Errorf("entity %s: relation %s targets unknown entity %s", e.Name, name, rel.Target)
			}
			switch rel.Kind {
			case HasMany, HasOne:
				if !target.HasColumn(rel.ForeignKey) {
					return fmt.Errorf("entity %s: relation %s: %s has no column %s", e.Name, name, target.Name, rel.ForeignKey)
				}
			case BelongsTo:
				if !e.HasColumn(rel.ForeignKey) {
					return fmt.Errorf("entity %s: relation %s: missing column %s", e.Name, name, rel.ForeignKey)
				}
			case HasManyThrough:
				junction, ok := r.entities[rel.Through.Entity]
				if !ok {
					return fmt.Errorf("entity %s: relation %s: unknown junction %s", e.Name, name, rel.Through.Entity)
				}
				if !junction.HasColumn(rel.Through.SourceKey) || !junction.HasColumn(rel.Through.TargetKey) {
					return fmt.Errorf("entity %s: relation %s: junction %s lacks key columns", e.Name, name, junction.Name)
				}
			}
		}
	}
	return nil
}

// Definitions is the YAML layout of a model file.
type Definitions struct {
	Entities []*Entity `yaml:"entities"`
}

// LoadFile reads entity descriptors from a YAML model file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model file failed: %w", err)
	}
	return Load(data)
}

// Load parses entity descriptors from YAML.
func Load(data []byte) (*Registry, error) {
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse model file failed: %w", err)
	}
	return NewRegistry(defs.Entities...)
}
