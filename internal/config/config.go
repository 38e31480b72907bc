// Package config resolves the toolbar host's configuration from defaults, an
// optional YAML file and command line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szibis/request-toolbar/internal/cache"
	"github.com/szibis/request-toolbar/internal/collector"
	"github.com/szibis/request-toolbar/internal/logging"
	"github.com/szibis/request-toolbar/internal/observer"
	"github.com/szibis/request-toolbar/internal/telemetry"
)

// version is set at build time via ldflags
var version = "dev"

// GetVersion returns the build version.
func GetVersion() string { return version }

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendMinIO  = "minio"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	ListenAddr      string
	ShutdownTimeout time.Duration
	LogLevel        string
	ServiceName     string
	Environment     string

	// Toolbar settings
	Debug             bool
	RoutePrefix       string
	CorrelationHeader string
	IgnorePaths       []string

	// Query observer settings
	Production          bool
	SlowQueryThreshold  time.Duration
	MaxStackDepth       int
	IgnoreFramePrefixes []string
	EditorURL           string

	// Collector configuration, keyed by collector. Order empty means registry order.
	Collectors     map[string]yaml.Node
	CollectorOrder []string

	// Snapshot cache settings
	CacheBackend         string
	CacheTTL             time.Duration
	CacheCodec           string
	CacheCleanupInterval time.Duration
	CacheMaxEntries      int
	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIORegion          string
	MinIOBucket          string
	MinIOSecure          bool
	MinIOPrefix          string

	// Demo database (empty DSN disables it)
	DatabaseDSN        string
	DatabaseConnection string

	// Memory limit settings
	MemoryLimitRatio float64

	// Telemetry settings
	TelemetryEndpoint        string
	TelemetryProtocol        string
	TelemetryInsecure        bool
	TelemetryTimeout         time.Duration
	TelemetryPushInterval    time.Duration
	TelemetryCompression     string
	TelemetryShutdownTimeout time.Duration
	TelemetryHeaders         map[string]string

	// Meta
	ConfigFile     string
	ShowHelp       bool
	ShowVersion    bool
	ValidateConfig bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:               ":8080",
		ShutdownTimeout:          15 * time.Second,
		LogLevel:                 "info",
		ServiceName:              "request-toolbar",
		RoutePrefix:              "/_toolbar",
		CorrelationHeader:        "X-Toolbar-Correlation-Id",
		IgnorePaths:              []string{"/metrics", "/live", "/ready", "/grpc.health.v1.Health/"},
		SlowQueryThreshold:       observer.DefaultSlowThreshold,
		MaxStackDepth:            32,
		CacheBackend:             CacheBackendMemory,
		CacheTTL:                 cache.DefaultTTL,
		CacheCodec:               string(cache.CodecZstd),
		CacheCleanupInterval:     cache.DefaultCleanupInterval,
		CacheMaxEntries:          cache.DefaultMaxEntries,
		MinIOBucket:              "request-toolbar",
		DatabaseConnection:       "default",
		MemoryLimitRatio:         0.9,
		TelemetryProtocol:        "grpc",
		TelemetryInsecure:        true,
		TelemetryPushInterval:    30 * time.Second,
		TelemetryShutdownTimeout: 5 * time.Second,
	}
}

// ParseFlags parses os.Args with the global flag set and loads the config file
// named by -config. Flags set explicitly on the command line win over the file.
func ParseFlags() (*Config, error) {
	return Parse(flag.CommandLine, os.Args[1:])
}

// Parse is ParseFlags on an explicit flag set.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := DefaultConfig()
	var configFile string
	registerFlags(fs, cfg, &configFile)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if configFile == "" || cfg.ValidateConfig {
		cfg.ConfigFile = configFile
		return cfg, nil
	}

	y, err := LoadYAML(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configFile, err)
	}
	fileCfg := y.ToConfig()
	fileCfg.ShowHelp, fileCfg.ShowVersion, fileCfg.ValidateConfig = cfg.ShowHelp, cfg.ShowVersion, cfg.ValidateConfig
	fileCfg.ConfigFile = configFile
	applyFlagOverrides(fs, fileCfg)
	return fileCfg, nil
}

func registerFlags(fs *flag.FlagSet, cfg *Config, configFile *string) {
	fs.StringVar(configFile, "config", "", "Path to YAML configuration file")

	// Server flags
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP and gRPC listen address (h2c)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown timeout")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Minimum log level: debug, info, warn, error")
	fs.StringVar(&cfg.Environment, "environment", cfg.Environment, "Deployment environment reported in snapshots and telemetry")

	// Toolbar flags
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Add debug metadata to snapshots")
	fs.StringVar(&cfg.RoutePrefix, "route-prefix", cfg.RoutePrefix, "Path prefix of the snapshot endpoint")
	fs.StringVar(&cfg.CorrelationHeader, "correlation-header", cfg.CorrelationHeader, "Request header carrying a caller supplied snapshot id")

	// Query flags
	fs.BoolVar(&cfg.Production, "production", cfg.Production, "Disable caller resolution for queries")
	fs.DurationVar(&cfg.SlowQueryThreshold, "slow-query-threshold", cfg.SlowQueryThreshold, "Queries at or above this duration are flagged slow")
	fs.StringVar(&cfg.EditorURL, "editor-url", cfg.EditorURL, "Editor link template, e.g. vscode://file/{file}:{line}")

	// Cache flags
	fs.StringVar(&cfg.CacheBackend, "cache-backend", cfg.CacheBackend, "Snapshot cache backend: memory or minio")
	fs.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Snapshot retention")
	fs.StringVar(&cfg.CacheCodec, "cache-codec", cfg.CacheCodec, "Snapshot encoding: zstd, gzip or none")
	fs.IntVar(&cfg.CacheMaxEntries, "cache-max-entries", cfg.CacheMaxEntries, "Maximum snapshots held by the memory backend")
	fs.StringVar(&cfg.MinIOEndpoint, "minio-endpoint", cfg.MinIOEndpoint, "MinIO endpoint (host:port)")
	fs.StringVar(&cfg.MinIOAccessKey, "minio-access-key", cfg.MinIOAccessKey, "MinIO access key")
	fs.StringVar(&cfg.MinIOSecretKey, "minio-secret-key", cfg.MinIOSecretKey, "MinIO secret key")
	fs.StringVar(&cfg.MinIOBucket, "minio-bucket", cfg.MinIOBucket, "MinIO bucket")
	fs.BoolVar(&cfg.MinIOSecure, "minio-secure", cfg.MinIOSecure, "Use TLS for MinIO")

	// Database flags
	fs.StringVar(&cfg.DatabaseDSN, "database-dsn", cfg.DatabaseDSN, "PostgreSQL DSN of the demo database (empty disables it)")

	// Memory flags
	fs.Float64Var(&cfg.MemoryLimitRatio, "memory-limit-ratio", cfg.MemoryLimitRatio, "Ratio of container memory to use for GOMEMLIMIT (0 disables)")

	// Telemetry flags
	fs.StringVar(&cfg.TelemetryEndpoint, "telemetry-endpoint", cfg.TelemetryEndpoint, "OTLP endpoint for own logs and metrics (empty disables)")
	fs.StringVar(&cfg.TelemetryProtocol, "telemetry-protocol", cfg.TelemetryProtocol, "OTLP protocol: grpc or http")
	fs.BoolVar(&cfg.TelemetryInsecure, "telemetry-insecure", cfg.TelemetryInsecure, "Use insecure OTLP connection")

	// Help and version
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version")
	fs.BoolVar(&cfg.ValidateConfig, "validate", false, "Validate the -config file, print the result as JSON and exit")
}

// applyFlagOverrides applies CLI flag values that were explicitly set.
func applyFlagOverrides(fs *flag.FlagSet, cfg *Config) {
	fs.Visit(func(f *flag.Flag) {
		v := f.Value.String()
		switch f.Name {
		case "listen":
			cfg.ListenAddr = v
		case "shutdown-timeout":
			cfg.ShutdownTimeout, _ = time.ParseDuration(v)
		case "log-level":
			cfg.LogLevel = v
		case "environment":
			cfg.Environment = v
		case "debug":
			cfg.Debug = v == "true"
		case "route-prefix":
			cfg.RoutePrefix = v
		case "correlation-header":
			cfg.CorrelationHeader = v
		case "production":
			cfg.Production = v == "true"
		case "slow-query-threshold":
			cfg.SlowQueryThreshold, _ = time.ParseDuration(v)
		case "editor-url":
			cfg.EditorURL = v
		case "cache-backend":
			cfg.CacheBackend = v
		case "cache-ttl":
			cfg.CacheTTL, _ = time.ParseDuration(v)
		case "cache-codec":
			cfg.CacheCodec = v
		case "cache-max-entries":
			cfg.CacheMaxEntries, _ = strconv.Atoi(v)
		case "minio-endpoint":
			cfg.MinIOEndpoint = v
		case "minio-access-key":
			cfg.MinIOAccessKey = v
		case "minio-secret-key":
			cfg.MinIOSecretKey = v
		case "minio-bucket":
			cfg.MinIOBucket = v
		case "minio-secure":
			cfg.MinIOSecure = v == "true"
		case "database-dsn":
			cfg.DatabaseDSN = v
		case "memory-limit-ratio":
			cfg.MemoryLimitRatio, _ = strconv.ParseFloat(v, 64)
		case "telemetry-endpoint":
			cfg.TelemetryEndpoint = v
		case "telemetry-protocol":
			cfg.TelemetryProtocol = v
		case "telemetry-insecure":
			cfg.TelemetryInsecure = v == "true"
		}
	})
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.ListenAddr == "" {
		errs = append(errs, "listen must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Sprintf("log-level must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	if !strings.HasPrefix(c.RoutePrefix, "/") {
		errs = append(errs, fmt.Sprintf("route-prefix must start with /, got %q", c.RoutePrefix))
	}
	if c.CorrelationHeader == "" {
		errs = append(errs, "correlation-header must not be empty")
	}
	if c.SlowQueryThreshold < 0 {
		errs = append(errs, "slow-query-threshold must not be negative")
	}

	switch c.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendMinIO:
		if c.MinIOEndpoint == "" {
			errs = append(errs, "minio-endpoint must be set when cache-backend is minio")
		}
		if c.MinIOBucket == "" {
			errs = append(errs, "minio-bucket must be set when cache-backend is minio")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache-backend must be memory or minio, got %q", c.CacheBackend))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, "cache-ttl must be positive")
	}
	if c.CacheMaxEntries <= 0 {
		errs = append(errs, "cache-max-entries must be positive")
	}
	if _, err := cache.ParseCodec(c.CacheCodec); err != nil {
		errs = append(errs, fmt.Sprintf("cache-codec is invalid: %v", err))
	}

	if c.MemoryLimitRatio < 0 || c.MemoryLimitRatio > 1 {
		errs = append(errs, fmt.Sprintf("memory-limit-ratio must be between 0.0 and 1.0, got %v", c.MemoryLimitRatio))
	}
	if c.TelemetryEndpoint != "" && c.TelemetryProtocol != "grpc" && c.TelemetryProtocol != "http" {
		errs = append(errs, fmt.Sprintf("telemetry-protocol must be grpc or http, got %q", c.TelemetryProtocol))
	}

	if _, err := c.BuildCollectors(); err != nil {
		errs = append(errs, fmt.Sprintf("collectors is invalid: %v", err))
	}

	if len(errs) > 0 {
		return errors.New("configuration validation failed:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// BuildCollectors builds the configured collectors from the default registry.
func (c *Config) BuildCollectors() ([]collector.Collector, error) {
	return collector.DefaultRegistry().Build(c.Collectors, c.CollectorOrder)
}

// QueryConfig returns the query observer configuration.
func (c *Config) QueryConfig() observer.QueryConfig {
	return observer.QueryConfig{
		Production:     c.Production,
		SlowThreshold:  c.SlowQueryThreshold,
		MaxStackDepth:  c.MaxStackDepth,
		IgnorePrefixes: c.IgnoreFramePrefixes,
		EditorURL:      c.EditorURL,
	}
}

// MinIOConfig returns the MinIO store configuration. Objects are named after
// the snapshot key with a ".json" plus codec suffix.
func (c *Config) MinIOConfig() cache.MinIOConfig {
	codec, _ := cache.ParseCodec(c.CacheCodec)
	return cache.MinIOConfig{
		Endpoint:  c.MinIOEndpoint,
		AccessKey: c.MinIOAccessKey,
		SecretKey: c.MinIOSecretKey,
		Region:    c.MinIORegion,
		Bucket:    c.MinIOBucket,
		Secure:    c.MinIOSecure,
		Prefix:    c.MinIOPrefix,
		Suffix:    ".json" + codec.Extension(),
	}
}

// TelemetryConfig returns the OTLP export configuration.
func (c *Config) TelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Endpoint:        c.TelemetryEndpoint,
		Protocol:        c.TelemetryProtocol,
		Insecure:        c.TelemetryInsecure,
		Timeout:         c.TelemetryTimeout,
		PushInterval:    c.TelemetryPushInterval,
		Compression:     c.TelemetryCompression,
		Headers:         c.TelemetryHeaders,
		ShutdownTimeout: c.TelemetryShutdownTimeout,
		ServiceName:     c.ServiceName,
		ServiceVersion:  version,
		Environment:     c.Environment,
	}
}

// Level returns the configured minimum log level.
func (c *Config) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}

// PrintUsage writes flag help to w.
func PrintUsage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "request-toolbar %s\n\nUsage: request-toolbar [flags]\n\nFlags:\n", version)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// PrintVersion prints the version.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "request-toolbar version %s\n", version)
}
