package chain

import (
	"fmt"
	"strings"
)

// Registry holds chains by name and remembers their configured order.
type Registry struct {
	order  []string
	chains map[string]Chain
}

// NewRegistry validates chains and indexes them by lower-cased name.
func NewRegistry(chains []Chain) (*Registry, error) {
	if len(chains) == 0 {
		return nil, fmt.Errorf("at least one chain is required")
	}
	r := &Registry{chains: make(map[string]Chain, len(chains))}
	prefixes := make(map[string]string, len(chains))
	for _, c := range chains {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		key := strings.ToLower(c.Name)
		if _, dup := r.chains[key]; dup {
			return nil, fmt.Errorf("chain %s configured twice", c.Name)
		}
		if other, dup := prefixes[c.Prefix]; dup {
			return nil, fmt.Errorf("chains %s and %s share prefix %q", other, c.Name, c.Prefix)
		}
		prefixes[c.Prefix] = c.Name
		r.chains[key] = c
		r.order = append(r.order, key)
	}
	return r, nil
}

// Get looks up a chain by name.
func (r *Registry) Get(name string) (Chain, bool) {
	c, ok := r.chains[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Ordered returns chains in configured order, or in the order of names when
// names is non-empty.
func (r *Registry) Ordered(names ...string) ([]Chain, error) {
	if len(names) == 0 {
		names = r.order
	}
	out := make([]Chain, 0, len(names))
	for _, name := range names {
		c, ok := r.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown chain %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}
