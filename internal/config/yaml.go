package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/szibis/request-toolbar/internal/cache"
	"github.com/szibis/request-toolbar/internal/observer"
)

// YAMLConfig is the file representation of Config.
type YAMLConfig struct {
	Server         ServerYAMLConfig     `yaml:"server"`
	Log            LogYAMLConfig        `yaml:"log"`
	Toolbar        ToolbarYAMLConfig    `yaml:"toolbar"`
	Queries        QueriesYAMLConfig    `yaml:"queries"`
	Collectors     map[string]yaml.Node `yaml:"collectors"`
	CollectorOrder []string             `yaml:"collector_order"`
	Cache          CacheYAMLConfig      `yaml:"cache"`
	Database       DatabaseYAMLConfig   `yaml:"database"`
	Memory         MemoryYAMLConfig     `yaml:"memory"`
	Telemetry      TelemetryYAMLConfig  `yaml:"telemetry"`
}

// ServerYAMLConfig holds listener settings.
type ServerYAMLConfig struct {
	Address         string   `yaml:"address"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LogYAMLConfig holds logging settings.
type LogYAMLConfig struct {
	Level       string `yaml:"level"`
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`
}

// ToolbarYAMLConfig holds host integration settings.
type ToolbarYAMLConfig struct {
	Debug             bool     `yaml:"debug"`
	RoutePrefix       string   `yaml:"route_prefix"`
	CorrelationHeader string   `yaml:"correlation_header"`
	IgnorePaths       []string `yaml:"ignore_paths"`
}

// QueriesYAMLConfig holds query observer settings.
type QueriesYAMLConfig struct {
	Production          bool     `yaml:"production"`
	SlowThreshold       Duration `yaml:"slow_threshold"`
	MaxStackDepth       int      `yaml:"max_stack_depth"`
	IgnoreFramePrefixes []string `yaml:"ignore_frame_prefixes"`
	EditorURL           string   `yaml:"editor_url"`
}

// CacheYAMLConfig holds snapshot cache settings.
type CacheYAMLConfig struct {
	Backend         string          `yaml:"backend"`
	TTL             Duration        `yaml:"ttl"`
	Codec           string          `yaml:"codec"`
	CleanupInterval Duration        `yaml:"cleanup_interval"`
	MaxEntries      int             `yaml:"max_entries"`
	MinIO           MinIOYAMLConfig `yaml:"minio"`
}

// MinIOYAMLConfig holds object storage settings.
type MinIOYAMLConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
	Prefix    string `yaml:"prefix"`
}

// DatabaseYAMLConfig holds the demo database settings.
type DatabaseYAMLConfig struct {
	DSN        string `yaml:"dsn"`
	Connection string `yaml:"connection"`
}

// MemoryYAMLConfig holds memory limit settings.
type MemoryYAMLConfig struct {
	LimitRatio float64 `yaml:"limit_ratio"`
}

// TelemetryYAMLConfig holds OTLP export settings.
type TelemetryYAMLConfig struct {
	Endpoint        string            `yaml:"endpoint"`
	Protocol        string            `yaml:"protocol"`
	Insecure        *bool             `yaml:"insecure"`
	Timeout         Duration          `yaml:"timeout"`
	PushInterval    Duration          `yaml:"push_interval"`
	Compression     string            `yaml:"compression"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"`
	Headers         map[string]string `yaml:"headers"`
}

// Duration is a wrapper for time.Duration that supports YAML marshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// LoadYAML loads configuration from a YAML file.
func LoadYAML(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// ParseYAML parses YAML configuration from bytes.
func ParseYAML(data []byte) (*YAMLConfig, error) {
	cfg := &YAMLConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults sets default values for unspecified fields.
func (y *YAMLConfig) ApplyDefaults() {
	if y.Server.Address == "" {
		y.Server.Address = ":8080"
	}
	if y.Server.ShutdownTimeout == 0 {
		y.Server.ShutdownTimeout = Duration(15 * time.Second)
	}

	if y.Log.Level == "" {
		y.Log.Level = "info"
	}
	if y.Log.ServiceName == "" {
		y.Log.ServiceName = "request-toolbar"
	}

	if y.Toolbar.RoutePrefix == "" {
		y.Toolbar.RoutePrefix = "/_toolbar"
	}
	if y.Toolbar.CorrelationHeader == "" {
		y.Toolbar.CorrelationHeader = "X-Toolbar-Correlation-Id"
	}
	if y.Toolbar.IgnorePaths == nil {
		y.Toolbar.IgnorePaths = DefaultConfig().IgnorePaths
	}

	if y.Queries.SlowThreshold == 0 {
		y.Queries.SlowThreshold = Duration(observer.DefaultSlowThreshold)
	}
	if y.Queries.MaxStackDepth == 0 {
		y.Queries.MaxStackDepth = 32
	}

	if y.Cache.Backend == "" {
		y.Cache.Backend = CacheBackendMemory
	}
	if y.Cache.TTL == 0 {
		y.Cache.TTL = Duration(cache.DefaultTTL)
	}
	if y.Cache.Codec == "" {
		y.Cache.Codec = string(cache.CodecZstd)
	}
	if y.Cache.CleanupInterval == 0 {
		y.Cache.CleanupInterval = Duration(cache.DefaultCleanupInterval)
	}
	if y.Cache.MaxEntries == 0 {
		y.Cache.MaxEntries = cache.DefaultMaxEntries
	}
	if y.Cache.MinIO.Bucket == "" {
		y.Cache.MinIO.Bucket = "request-toolbar"
	}

	if y.Database.Connection == "" {
		y.Database.Connection = "default"
	}

	if y.Memory.LimitRatio == 0 {
		y.Memory.LimitRatio = 0.9
	}

	if y.Telemetry.Protocol == "" {
		y.Telemetry.Protocol = "grpc"
	}
	if y.Telemetry.Insecure == nil {
		insecure := true
		y.Telemetry.Insecure = &insecure
	}
	if y.Telemetry.PushInterval == 0 {
		y.Telemetry.PushInterval = Duration(30 * time.Second)
	}
	if y.Telemetry.ShutdownTimeout == 0 {
		y.Telemetry.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// ToConfig converts YAMLConfig to the flat Config.
func (y *YAMLConfig) ToConfig() *Config {
	insecure := y.Telemetry.Insecure == nil || *y.Telemetry.Insecure
	return &Config{
		ListenAddr:      y.Server.Address,
		ShutdownTimeout: time.Duration(y.Server.ShutdownTimeout),
		LogLevel:        y.Log.Level,
		ServiceName:     y.Log.ServiceName,
		Environment:     y.Log.Environment,

		Debug:             y.Toolbar.Debug,
		RoutePrefix:       y.Toolbar.RoutePrefix,
		CorrelationHeader: y.Toolbar.CorrelationHeader,
		IgnorePaths:       y.Toolbar.IgnorePaths,

		Production:          y.Queries.Production,
		SlowQueryThreshold:  time.Duration(y.Queries.SlowThreshold),
		MaxStackDepth:       y.Queries.MaxStackDepth,
		IgnoreFramePrefixes: y.Queries.IgnoreFramePrefixes,
		EditorURL:           y.Queries.EditorURL,

		Collectors:     y.Collectors,
		CollectorOrder: y.CollectorOrder,

		CacheBackend:         y.Cache.Backend,
		CacheTTL:             time.Duration(y.Cache.TTL),
		CacheCodec:           y.Cache.Codec,
		CacheCleanupInterval: time.Duration(y.Cache.CleanupInterval),
		CacheMaxEntries:      y.Cache.MaxEntries,
		MinIOEndpoint:        y.Cache.MinIO.Endpoint,
		MinIOAccessKey:       y.Cache.MinIO.AccessKey,
		MinIOSecretKey:       y.Cache.MinIO.SecretKey,
		MinIORegion:          y.Cache.MinIO.Region,
		MinIOBucket:          y.Cache.MinIO.Bucket,
		MinIOSecure:          y.Cache.MinIO.Secure,
		MinIOPrefix:          y.Cache.MinIO.Prefix,

		DatabaseDSN:        y.Database.DSN,
		DatabaseConnection: y.Database.Connection,

		MemoryLimitRatio: y.Memory.LimitRatio,

		TelemetryEndpoint:        y.Telemetry.Endpoint,
		TelemetryProtocol:        y.Telemetry.Protocol,
		TelemetryInsecure:        insecure,
		TelemetryTimeout:         time.Duration(y.Telemetry.Timeout),
		TelemetryPushInterval:    time.Duration(y.Telemetry.PushInterval),
		TelemetryCompression:     y.Telemetry.Compression,
		TelemetryShutdownTimeout: time.Duration(y.Telemetry.ShutdownTimeout),
		TelemetryHeaders:         y.Telemetry.Headers,
	}
}
