package collector

import (
	"context"
	"os"
	"runtime/debug"
	"strings"
	"time"
)

// AppConfig configures the application collector.
type AppConfig struct {
	Toggle      `yaml:",inline"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
	ShowDebug   bool   `yaml:"show_debug"`
	Timezone    bool   `yaml:"timezone"`
	Locale      bool   `yaml:"locale"`
	Host        bool   `yaml:"host"`
}

// DefaultAppConfig enables every field.
func DefaultAppConfig() AppConfig {
	return AppConfig{
		Toggle:    Toggle{Enabled: true},
		ShowDebug: true,
		Timezone:  true,
		Locale:    true,
		Host:      true,
	}
}

// AppData is the application payload. Absent fields were disabled or unknown.
type AppData struct {
	Name        string  `json:"name,omitempty"`
	Version     *string `json:"version,omitempty"`
	Environment *string `json:"environment,omitempty"`
	Debug       *bool   `json:"debug,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Locale      *string `json:"locale,omitempty"`
	Host        *string `json:"host,omitempty"`
}

// AppCollector reports facts about the host application.
type AppCollector struct {
	cfg AppConfig
}

// NewAppCollector returns an AppCollector.
func NewAppCollector(cfg AppConfig) *AppCollector {
	return &AppCollector{cfg: cfg}
}

func (c *AppCollector) Key() string    { return KeyApp }
func (c *AppCollector) Config() Config { return c.cfg }

func (c *AppCollector) Collect(_ context.Context, m *Manager) (any, error) {
	data := &AppData{Name: c.cfg.Name}

	version := c.cfg.Version
	if version == "" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
			version = bi.Main.Version
		}
	}
	if version != "" {
		data.Version = &version
	}
	if c.cfg.Environment != "" {
		env := c.cfg.Environment
		data.Environment = &env
	}
	if c.cfg.ShowDebug {
		dbg := m.Debug
		data.Debug = &dbg
	}
	if c.cfg.Timezone {
		tz := time.Local.String()
		data.Timezone = &tz
	}
	if c.cfg.Locale {
		if loc := locale(); loc != "" {
			data.Locale = &loc
		}
	}
	if c.cfg.Host {
		if h, err := os.Hostname(); err == nil {
			data.Host = &h
		}
	}
	return data, nil
}

func locale() string {
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(k); v != "" {
			if i := strings.IndexByte(v, '.'); i > 0 {
				v = v[:i]
			}
			return v
		}
	}
	return ""
}
