package digest

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownAlg = errors.New("unknown digest algorithm")

// RegistryCtxKey is used to access the digest Registry from a context.Context
type RegistryCtxKey struct{}

// AlgorithmRegistry is implemented by types that resolve algorithm names to
// [Algorithm] values.
type AlgorithmRegistry interface {
	Get(id string) (Algorithm, error)
	GetAny(ids ...string) []Algorithm
}

// Registry is a concurrency-safe, mutable set of digest algorithms, keyed by
// algorithm ID.
type Registry struct {
	algs sync.Map
}

// NewRegistry returns a new registry with the built-in algorithms registered.
func NewRegistry() *Registry {
	reg := &Registry{}
	reg.Add(builtin()...)
	return reg
}

// Add registers one or more algorithms, replacing any existing algorithm
// with the same ID.
func (r *Registry) Add(algs ...Algorithm) {
	for _, alg := range algs {
		r.algs.Store(alg.ID(), alg)
	}
}

// Get returns the algorithm registered under id, or an error if none is
// registered.
func (r *Registry) Get(id string) (Algorithm, error) {
	v, ok := r.algs.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlg, id)
	}
	return v.(Algorithm), nil
}

// GetAny returns the registered algorithms matching ids, silently skipping
// any id that isn't registered.
func (r *Registry) GetAny(ids ...string) []Algorithm {
	algs := make([]Algorithm, 0, len(ids))
	for _, id := range ids {
		if alg, err := r.Get(id); err == nil {
			algs = append(algs, alg)
		}
	}
	return algs
}

// RegistryFromContext returns the Registry stored in ctx, or a new registry
// with the built-in algorithms if ctx has none.
func RegistryFromContext(ctx context.Context) *Registry {
	v := ctx.Value(RegistryCtxKey{})
	if v == nil {
		return NewRegistry()
	}
	return v.(*Registry)
}

// ContextWithRegistry returns a new context with r attached.
func ContextWithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, RegistryCtxKey{}, r)
}

// Get resolves id against the built-in algorithms.
func Get(id string) (Algorithm, error) {
	return NewRegistry().Get(id)
}
