package collector

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Factory builds a collector from its YAML configuration. node is nil when the
// collector is not configured explicitly, in which case defaults apply.
type Factory func(node *yaml.Node) (Collector, error)

// Registry maps collector keys to factories.
type Registry struct {
	factories map[string]Factory
	order     []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding every built-in collector in its
// default snapshot order.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(KeyProfiler, Typed(KeyProfiler, DefaultProfilerConfig(), func(c ProfilerConfig) Collector { return NewProfilerCollector(c) }))
	r.Register(KeyRequest, Typed(KeyRequest, DefaultRequestConfig(), func(c RequestConfig) Collector { return NewRequestCollector(c) }))
	r.Register(KeyResponse, Typed(KeyResponse, DefaultResponseConfig(), func(c ResponseConfig) Collector { return NewResponseCollector(c) }))
	r.Register(KeyQueries, Typed(KeyQueries, DefaultQueriesConfig(), func(c QueriesConfig) Collector { return NewQueriesCollector(c) }))
	r.Register(KeyModels, Typed(KeyModels, DefaultModelsConfig(), func(c ModelsConfig) Collector { return NewModelsCollector(c) }))
	r.Register(KeyRuntime, Typed(KeyRuntime, DefaultRuntimeConfig(), func(c RuntimeConfig) Collector { return NewRuntimeCollector(c) }))
	r.Register(KeyApp, Typed(KeyApp, DefaultAppConfig(), func(c AppConfig) Collector { return NewAppCollector(c) }))
	r.Register(KeyDependencies, Typed(KeyDependencies, DefaultDependenciesConfig(), func(c DependenciesConfig) Collector { return NewDependenciesCollector(c) }))
	return r
}

// Register adds or replaces the factory for key.
func (r *Registry) Register(key string, f Factory) {
	if _, ok := r.factories[key]; !ok {
		r.order = append(r.order, key)
	}
	r.factories[key] = f
}

// Keys returns the registered keys in registration order.
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}

// Build constructs collectors in order, or in registration order when order is
// empty. Every key of configs must name a registered collector.
func (r *Registry) Build(configs map[string]yaml.Node, order []string) ([]Collector, error) {
	for key := range configs {
		if _, ok := r.factories[key]; !ok {
			return nil, &ConfigError{Collector: key, Err: errors.New("unknown collector")}
		}
	}
	if len(order) == 0 {
		order = r.order
	}

	seen := make(map[string]bool, len(order))
	out := make([]Collector, 0, len(order))
	for _, key := range order {
		f, ok := r.factories[key]
		if !ok {
			return nil, &ConfigError{Collector: key, Err: errors.New("unknown collector")}
		}
		if seen[key] {
			return nil, &ConfigError{Collector: key, Err: errors.New("listed more than once")}
		}
		seen[key] = true

		var node *yaml.Node
		if n, ok := configs[key]; ok {
			node = &n
		}
		c, err := f(node)
		if err != nil {
			return nil, err
		}
		if c.Key() != key {
			return nil, &ConfigError{Collector: key, Err: fmt.Errorf("factory built collector %q", c.Key())}
		}
		out = append(out, c)
	}
	return out, nil
}

// Typed returns a Factory that strictly decodes node over defaults and hands the
// result to build.
func Typed[C Config](key string, defaults C, build func(C) Collector) Factory {
	return func(node *yaml.Node) (Collector, error) {
		cfg := defaults
		if err := decodeStrict(node, &cfg); err != nil {
			return nil, &ConfigError{Collector: key, Err: err}
		}
		return build(cfg), nil
	}
}

func decodeStrict(node *yaml.Node, out any) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
