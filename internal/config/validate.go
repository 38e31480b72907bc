package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// ValidationSeverity indicates the severity of a validation issue.
type ValidationSeverity string

const (
	// SeverityError indicates a configuration error that prevents startup.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates a potential issue that won't prevent startup.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity `json:"severity"`
	Field    string             `json:"field"`
	Message  string             `json:"message"`
}

// ValidationResult holds the complete validation output.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	File   string            `json:"file"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// JSON returns the validation result as formatted JSON.
func (r *ValidationResult) JSON() string {
	data, _ := json.MarshalIndent(r, "", "  ")
	return string(data)
}

// ValidateFile loads a YAML config file and validates it, returning structured results.
func ValidateFile(path string) *ValidationResult {
	result := &ValidationResult{
		Valid: true,
		File:  path,
	}

	info, err := os.Stat(path)
	if err != nil {
		result.fail("file", fmt.Sprintf("cannot access file: %v", err))
		return result
	}
	if info.IsDir() {
		result.fail("file", "path is a directory, expected a file")
		return result
	}

	yamlCfg, err := LoadYAML(path)
	if err != nil {
		result.fail("yaml", fmt.Sprintf("YAML parse error: %v", err))
		return result
	}
	cfg := yamlCfg.ToConfig()
	cfg.ConfigFile = path

	if err := cfg.Validate(); err != nil {
		msg := err.Error()
		prefix := "configuration validation failed:\n  - "
		if strings.HasPrefix(msg, prefix) {
			for _, item := range strings.Split(strings.TrimPrefix(msg, prefix), "\n  - ") {
				result.fail(parseValidationError(item))
			}
		} else {
			result.fail("config", msg)
		}
	}

	addWarnings(cfg, result)
	return result
}

func (r *ValidationResult) fail(field, message string) {
	r.Valid = false
	r.Issues = append(r.Issues, ValidationIssue{Severity: SeverityError, Field: field, Message: message})
}

func (r *ValidationResult) warn(field, message string) {
	r.Issues = append(r.Issues, ValidationIssue{Severity: SeverityWarning, Field: field, Message: message})
}

// parseValidationError extracts field and message from a validation error string.
// e.g. "cache-ttl must be positive" gives field="cache-ttl".
func parseValidationError(s string) (string, string) {
	s = strings.TrimSpace(s)
	for _, sep := range []string{" must ", " is ", " should "} {
		if idx := strings.Index(s, sep); idx > 0 {
			field := s[:idx]
			if !strings.Contains(field, " ") {
				return field, s
			}
		}
	}
	return "config", s
}

// addWarnings checks for non-fatal issues that are worth flagging.
func addWarnings(cfg *Config, result *ValidationResult) {
	if cfg.Debug && !cfg.Production {
		result.warn("toolbar.debug", "debug metadata and caller resolution are both enabled, snapshots will expose source paths")
	}
	if cfg.CacheBackend == CacheBackendMinIO && !cfg.MinIOSecure && !isLocalhost(cfg.MinIOEndpoint) {
		result.warn("cache.minio.secure", fmt.Sprintf("plaintext connection to non-localhost endpoint %q", cfg.MinIOEndpoint))
	}
	if cfg.CacheTTL > 10*time.Minute {
		result.warn("cache.ttl", fmt.Sprintf("snapshots retained for %s, expect cache growth under load", cfg.CacheTTL))
	}
	if cfg.TelemetryEndpoint != "" && cfg.TelemetryInsecure && !isLocalhost(cfg.TelemetryEndpoint) {
		result.warn("telemetry.insecure", fmt.Sprintf("insecure connection to non-localhost endpoint %q", cfg.TelemetryEndpoint))
	}
}

func isLocalhost(endpoint string) bool {
	host := endpoint
	if h, _, err := net.SplitHostPort(endpoint); err == nil {
		host = h
	}
	switch host {
	case "", "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
