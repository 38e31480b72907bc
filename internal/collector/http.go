package collector

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/szibis/request-toolbar/internal/measure"
)

// Request is the read-only view of the profiled request handed to collectors.
type Request struct {
	Method     string
	URI        string
	Route      string
	Handler    string
	RemoteAddr string
	Protocol   string
	Middleware []string
	Header     http.Header
}

// Response is the read-only view of the produced response.
type Response struct {
	StatusCode int
	Header     http.Header
	Size       int64
}

// DefaultRedactedHeaders are never copied into snapshots.
var DefaultRedactedHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "Proxy-Authorization"}

// RequestConfig configures the request collector.
type RequestConfig struct {
	Toggle        `yaml:",inline"`
	Headers       bool     `yaml:"headers"`
	RedactHeaders []string `yaml:"redact_headers"`
}

// DefaultRequestConfig enables the collector without headers.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{Toggle: Toggle{Enabled: true}, RedactHeaders: DefaultRedactedHeaders}
}

// RequestData is the request payload.
type RequestData struct {
	Method        string              `json:"method"`
	URI           string              `json:"uri"`
	RouteName     string              `json:"route_name"`
	Handler       string              `json:"controller_action"`
	IPAddress     string              `json:"ip_address"`
	Protocol      string              `json:"protocol,omitempty"`
	Middleware    []string            `json:"middleware"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	Headers       map[string][]string `json:"headers,omitempty"`
}

// RequestCollector reports method, path, route and caller of the request.
type RequestCollector struct {
	cfg RequestConfig
}

// NewRequestCollector returns a RequestCollector.
func NewRequestCollector(cfg RequestConfig) *RequestCollector {
	return &RequestCollector{cfg: cfg}
}

func (c *RequestCollector) Key() string    { return KeyRequest }
func (c *RequestCollector) Config() Config { return c.cfg }

// Collect returns nil when the manager has no request.
func (c *RequestCollector) Collect(_ context.Context, m *Manager) (any, error) {
	r := m.Request
	if r == nil {
		return nil, nil
	}
	data := &RequestData{
		Method:        r.Method,
		URI:           r.URI,
		RouteName:     orDash(r.Route),
		Handler:       orDash(r.Handler),
		IPAddress:     r.RemoteAddr,
		Protocol:      r.Protocol,
		Middleware:    append([]string{}, r.Middleware...),
		CorrelationID: m.CorrelationID,
	}
	if c.cfg.Headers {
		data.Headers = redact(r.Header, c.cfg.RedactHeaders)
	}
	return data, nil
}

// ResponseConfig configures the response collector.
type ResponseConfig struct {
	Toggle        `yaml:",inline"`
	Headers       bool     `yaml:"headers"`
	RedactHeaders []string `yaml:"redact_headers"`
}

// DefaultResponseConfig enables the collector with headers.
func DefaultResponseConfig() ResponseConfig {
	return ResponseConfig{Toggle: Toggle{Enabled: true}, Headers: true, RedactHeaders: DefaultRedactedHeaders}
}

// ResponseData is the response payload.
type ResponseData struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Size       measure.Measurement `json:"size"`
}

// ResponseCollector reports status, headers and body size.
type ResponseCollector struct {
	cfg ResponseConfig
}

// NewResponseCollector returns a ResponseCollector.
func NewResponseCollector(cfg ResponseConfig) *ResponseCollector {
	return &ResponseCollector{cfg: cfg}
}

func (c *ResponseCollector) Key() string    { return KeyResponse }
func (c *ResponseCollector) Config() Config { return c.cfg }

// Collect returns nil when the manager has no response.
func (c *ResponseCollector) Collect(_ context.Context, m *Manager) (any, error) {
	r := m.Response
	if r == nil {
		return nil, nil
	}
	data := &ResponseData{
		StatusCode: r.StatusCode,
		Size:       measure.FromBytes(uint64(max(r.Size, 0))),
	}
	if c.cfg.Headers {
		data.Headers = redact(r.Header, c.cfg.RedactHeaders)
	}
	return data, nil
}

func redact(h http.Header, names []string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		if slices.ContainsFunc(names, func(n string) bool { return strings.EqualFold(n, k) }) {
			out[k] = []string{"[redacted]"}
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
