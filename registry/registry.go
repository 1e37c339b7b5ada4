// Package registry holds the configured alias-to-resource mapping.
// Built once at startup from validated configuration, read-only afterwards,
// so lookups need no locking.
package registry

import (
	"fmt"

	"opsbot/config"
	"opsbot/types"
)

type key struct {
	kind  types.Kind
	alias string
}

// Registry resolves operator-facing aliases to AWS resource identifiers.
type Registry struct {
	byKey map[key]types.ResourceAlias
	order map[types.Kind][]types.ResourceAlias
}

// New builds a registry from configuration. The config is assumed validated;
// duplicate aliases were already rejected at load time.
func New(cfg *config.Config) *Registry {
	r := &Registry{
		byKey: make(map[key]types.ResourceAlias),
		order: make(map[types.Kind][]types.ResourceAlias),
	}
	for _, kind := range []types.Kind{types.KindEC2, types.KindRDS} {
		for _, a := range cfg.Aliases(kind) {
			r.byKey[key{kind, a.Alias}] = a
			r.order[kind] = append(r.order[kind], a)
		}
	}
	return r
}

// Resolve looks up an alias within a kind. Unconfigured aliases always yield
// ErrNotFound; there is no default-metrics fallback.
func (r *Registry) Resolve(kind types.Kind, alias string) (types.ResourceAlias, error) {
	a, ok := r.byKey[key{kind, alias}]
	if !ok {
		return types.ResourceAlias{}, fmt.Errorf("%w: no %s alias %q configured", types.ErrNotFound, kind, alias)
	}
	return a, nil
}

// List returns the aliases of a kind in configuration declaration order.
func (r *Registry) List(kind types.Kind) []types.ResourceAlias {
	return r.order[kind]
}

// Len reports the total number of configured aliases.
func (r *Registry) Len() int {
	return len(r.byKey)
}
