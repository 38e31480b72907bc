package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration_YAML(t *testing.T) {
	var v struct {
		D Duration `yaml:"d"`
		E Duration `yaml:"e"`
	}
	if err := yaml.Unmarshal([]byte("d: 1m30s\ne: \"\"\n"), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if time.Duration(v.D) != 90*time.Second || v.E != 0 {
		t.Errorf("got %v %v", time.Duration(v.D), time.Duration(v.E))
	}
	if err := yaml.Unmarshal([]byte("d: soon\n"), &v); err == nil {
		t.Error("expected error for invalid duration")
	}

	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(2 * time.Second)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != "d: 2s\n" {
		t.Errorf("marshal got %q", out)
	}
}

func TestParseYAML_Defaults(t *testing.T) {
	y, err := ParseYAML([]byte("{}"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := y.ToConfig()
	want := DefaultConfig()

	if got.ListenAddr != want.ListenAddr || got.CacheTTL != want.CacheTTL || got.CacheCodec != want.CacheCodec ||
		got.CacheMaxEntries != want.CacheMaxEntries {
		t.Errorf("server/cache defaults differ: %+v", got)
	}
	if got.SlowQueryThreshold != want.SlowQueryThreshold || got.MaxStackDepth != want.MaxStackDepth {
		t.Errorf("query defaults differ: %+v", got)
	}
	if !got.TelemetryInsecure || got.TelemetryProtocol != "grpc" {
		t.Errorf("telemetry defaults differ: %+v", got)
	}
	if len(got.IgnorePaths) != len(want.IgnorePaths) {
		t.Errorf("ignore paths %v", got.IgnorePaths)
	}
}

func TestParseYAML_Sections(t *testing.T) {
	y, err := ParseYAML([]byte(`
log:
  level: debug
  environment: staging
toolbar:
  debug: true
  ignore_paths: ["/healthz"]
queries:
  production: true
  slow_threshold: 250ms
collectors:
  runtime:
    enabled: false
  queries:
    show_session_queries: true
collector_order: [profiler, queries]
cache:
  backend: minio
  minio:
    endpoint: localhost:9000
    bucket: toolbar
database:
  dsn: postgres://localhost/app
telemetry:
  insecure: false
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := y.ToConfig()
	if cfg.LogLevel != "debug" || cfg.Environment != "staging" || !cfg.Debug {
		t.Errorf("log/toolbar %+v", cfg)
	}
	if len(cfg.IgnorePaths) != 1 || cfg.IgnorePaths[0] != "/healthz" {
		t.Errorf("ignore paths %v", cfg.IgnorePaths)
	}
	if !cfg.Production || cfg.SlowQueryThreshold != 250*time.Millisecond {
		t.Errorf("queries %+v", cfg)
	}
	if cfg.CacheBackend != CacheBackendMinIO || cfg.MinIOEndpoint != "localhost:9000" || cfg.MinIOBucket != "toolbar" {
		t.Errorf("cache %+v", cfg)
	}
	if cfg.TelemetryInsecure {
		t.Error("explicit insecure: false ignored")
	}
	if cfg.DatabaseDSN == "" || cfg.DatabaseConnection != "default" {
		t.Errorf("database %q %q", cfg.DatabaseDSN, cfg.DatabaseConnection)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	collectors, err := cfg.BuildCollectors()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(collectors) != 2 || collectors[0].Key() != "profiler" || collectors[1].Key() != "queries" {
		t.Errorf("collector order %v", collectors)
	}
}
