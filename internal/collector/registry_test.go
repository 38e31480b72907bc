package collector

import (
	"errors"
	"slices"
	"testing"

	"gopkg.in/yaml.v3"
)

func parseConfigs(t *testing.T, src string) map[string]yaml.Node {
	t.Helper()
	var out map[string]yaml.Node
	if err := yaml.Unmarshal([]byte(src), &out); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	return out
}

func keysOf(cs []Collector) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Key()
	}
	return out
}

func TestDefaultRegistry_Order(t *testing.T) {
	cs, err := DefaultRegistry().Build(nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{KeyProfiler, KeyRequest, KeyResponse, KeyQueries, KeyModels, KeyRuntime, KeyApp, KeyDependencies}
	if got := keysOf(cs); !slices.Equal(got, want) {
		t.Errorf("keys = %v, want %v", got, want)
	}
	if len(Enabled(cs)) != len(want) {
		t.Error("every built-in collector should be enabled by default")
	}
}

func TestRegistry_ExplicitOrder(t *testing.T) {
	cs, err := DefaultRegistry().Build(nil, []string{KeyQueries, KeyProfiler})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := keysOf(cs); !slices.Equal(got, []string{KeyQueries, KeyProfiler}) {
		t.Errorf("keys = %v", got)
	}
}

func TestRegistry_UnknownCollector(t *testing.T) {
	_, err := DefaultRegistry().Build(parseConfigs(t, "mail:\n  enabled: true\n"), nil)
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if ce.Collector != "mail" {
		t.Errorf("collector = %q, want mail", ce.Collector)
	}

	if _, err := DefaultRegistry().Build(nil, []string{"mail"}); err == nil {
		t.Error("expected error for unknown key in order")
	}
}

func TestRegistry_DuplicateInOrder(t *testing.T) {
	if _, err := DefaultRegistry().Build(nil, []string{KeyApp, KeyApp}); err == nil {
		t.Error("expected error for repeated key")
	}
}

func TestRegistry_UnknownField(t *testing.T) {
	_, err := DefaultRegistry().Build(parseConfigs(t, "profiler:\n  enabled: true\n  colour: red\n"), nil)
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Collector != KeyProfiler {
		t.Fatalf("expected profiler ConfigError, got %v", err)
	}
}

func TestRegistry_DecodesOverDefaults(t *testing.T) {
	cfgs := parseConfigs(t, `
queries:
  show_session_queries: true
runtime:
  enabled: false
`)
	cs, err := DefaultRegistry().Build(cfgs, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var queries *QueriesCollector
	for _, c := range cs {
		if q, ok := c.(*QueriesCollector); ok {
			queries = q
		}
	}
	if queries == nil {
		t.Fatal("queries collector not built")
	}
	if !queries.cfg.Enabled || !queries.cfg.ShowSessionQueries {
		t.Errorf("queries config = %+v, want enabled with session queries", queries.cfg)
	}

	enabled := keysOf(Enabled(cs))
	if slices.Contains(enabled, KeyRuntime) {
		t.Errorf("runtime should be disabled, enabled = %v", enabled)
	}
	if len(enabled) != 7 {
		t.Errorf("enabled = %v, want 7 collectors", enabled)
	}
}

func TestRegistry_MismatchedKey(t *testing.T) {
	r := NewRegistry()
	r.Register("custom", func(*yaml.Node) (Collector, error) {
		return &stubCollector{key: "other", enabled: true}, nil
	})
	if _, err := r.Build(nil, nil); err == nil {
		t.Error("expected error when factory key differs")
	}
}
