// Package collector defines the pluggable units that contribute one slice of a
// request snapshot, the registry that builds them from configuration, and the
// Manager that runs them.
package collector

import (
	"context"
	"fmt"
)

// Built-in collector keys. A key is also the collector's top-level field in a snapshot.
const (
	KeyProfiler     = "profiler"
	KeyRequest      = "request"
	KeyResponse     = "response"
	KeyQueries      = "queries"
	KeyModels       = "models"
	KeyRuntime      = "runtime"
	KeyApp          = "app"
	KeyDependencies = "dependencies"
)

// Config is implemented by every collector configuration.
type Config interface {
	IsEnabled() bool
}

// Collector produces one named payload for a snapshot.
//
// Collect returns nil (not an error) when there is nothing to report. Any error
// aborts the whole collection pass.
type Collector interface {
	Key() string
	Config() Config
	Collect(ctx context.Context, m *Manager) (any, error)
}

// Toggle is embedded by configurations that only carry the enabled flag.
type Toggle struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// IsEnabled implements Config.
func (t Toggle) IsEnabled() bool { return t.Enabled }

// ConfigError reports a collector that could not be configured.
type ConfigError struct {
	Collector string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("collector %q: %v", e.Collector, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Enabled filters collectors whose configuration is enabled, keeping order.
func Enabled(collectors []Collector) []Collector {
	out := make([]Collector, 0, len(collectors))
	for _, c := range collectors {
		if cfg := c.Config(); cfg != nil && cfg.IsEnabled() {
			out = append(out, c)
		}
	}
	return out
}
