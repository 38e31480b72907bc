package collector

import (
	"context"
	"runtime/debug"
	"strings"
)

// DependenciesConfig configures the dependencies collector.
type DependenciesConfig struct {
	Toggle `yaml:",inline"`
	// Modules limits the report to module paths with one of these prefixes.
	// Empty reports every dependency.
	Modules []string `yaml:"modules"`
}

// DefaultDependenciesConfig enables the collector for all modules.
func DefaultDependenciesConfig() DependenciesConfig {
	return DependenciesConfig{Toggle: Toggle{Enabled: true}}
}

// Module is one entry of the build's module graph.
type Module struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Replace string `json:"replace,omitempty"`
}

// DependenciesData is the build information payload.
type DependenciesData struct {
	Main      Module   `json:"main"`
	GoVersion string   `json:"go_version"`
	Revision  string   `json:"vcs_revision,omitempty"`
	Modified  bool     `json:"vcs_modified,omitempty"`
	Modules   []Module `json:"modules"`
}

// DependenciesCollector reports module versions compiled into the binary.
type DependenciesCollector struct {
	cfg       DependenciesConfig
	buildInfo func() (*debug.BuildInfo, bool)
}

// NewDependenciesCollector returns a DependenciesCollector.
func NewDependenciesCollector(cfg DependenciesConfig) *DependenciesCollector {
	return &DependenciesCollector{cfg: cfg, buildInfo: debug.ReadBuildInfo}
}

func (c *DependenciesCollector) Key() string    { return KeyDependencies }
func (c *DependenciesCollector) Config() Config { return c.cfg }

// Collect returns nil when the binary carries no build information.
func (c *DependenciesCollector) Collect(context.Context, *Manager) (any, error) {
	bi, ok := c.buildInfo()
	if !ok || bi == nil {
		return nil, nil
	}

	data := &DependenciesData{
		Main:      Module{Path: bi.Main.Path, Version: bi.Main.Version},
		GoVersion: bi.GoVersion,
		Modules:   []Module{},
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			data.Revision = s.Value
		case "vcs.modified":
			data.Modified = s.Value == "true"
		}
	}
	for _, dep := range bi.Deps {
		if !c.wanted(dep.Path) {
			continue
		}
		m := Module{Path: dep.Path, Version: dep.Version}
		if dep.Replace != nil {
			m.Replace = dep.Replace.Path
			if dep.Replace.Version != "" {
				m.Replace += "@" + dep.Replace.Version
			}
		}
		data.Modules = append(data.Modules, m)
	}
	return data, nil
}

func (c *DependenciesCollector) wanted(path string) bool {
	if len(c.cfg.Modules) == 0 {
		return true
	}
	for _, p := range c.cfg.Modules {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
