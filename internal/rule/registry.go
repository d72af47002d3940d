// internal/rule/registry.go
package rule

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages the rules a pipeline may reference by name
type Registry struct {
	rules map[string]Rule
	mu    sync.RWMutex
}

// NewRegistry creates a new rule registry
func NewRegistry() *Registry {
	return &Registry{
		rules: make(map[string]Rule),
	}
}

// NewRegistryFromDefinitions parses and registers template rules
func NewRegistryFromDefinitions(defs []Definition) (*Registry, error) {
	registry := NewRegistry()
	for _, def := range defs {
		r, err := NewTemplate(def)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(r); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register adds a new rule to the registry
func (r *Registry) Register(rule Rule) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := rule.Name()
	if _, exists := r.rules[name]; exists {
		return fmt.Errorf("rule %s already registered", name)
	}

	r.rules[name] = rule
	return nil
}

// Get retrieves a rule from the registry
func (r *Registry) Get(name string) (Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, exists := r.rules[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRule, name)
	}

	return rule, nil
}

// Names returns the registered rule names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
