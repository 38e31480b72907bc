package telemetry

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	collogs "go.opentelemetry.io/proto/otlp/collector/logs/v1"
	colmetrics "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	logspb "go.opentelemetry.io/proto/otlp/logs/v1"
	metricspb "go.opentelemetry.io/proto/otlp/metrics/v1"
	"google.golang.org/grpc"

	"github.com/szibis/request-toolbar/internal/logging"
)

type mockLogs struct {
	collogs.UnimplementedLogsServiceServer
	mu       sync.Mutex
	received []*logspb.ResourceLogs
}

func (m *mockLogs) Export(_ context.Context, req *collogs.ExportLogsServiceRequest) (*collogs.ExportLogsServiceResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, req.ResourceLogs...)
	return &collogs.ExportLogsServiceResponse{}, nil
}

type mockMetrics struct {
	colmetrics.UnimplementedMetricsServiceServer
	mu       sync.Mutex
	received []*metricspb.ResourceMetrics
}

func (m *mockMetrics) Export(_ context.Context, req *colmetrics.ExportMetricsServiceRequest) (*colmetrics.ExportMetricsServiceResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, req.ResourceMetrics...)
	return &colmetrics.ExportMetricsServiceResponse{}, nil
}

func startMockCollector(t *testing.T) (*mockLogs, *mockMetrics, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	logs, metrics := &mockLogs{}, &mockMetrics{}
	srv := grpc.NewServer()
	collogs.RegisterLogsServiceServer(srv, logs)
	colmetrics.RegisterMetricsServiceServer(srv, metrics)
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(srv.Stop)
	return logs, metrics, l.Addr().String()
}

func TestExport_GRPC(t *testing.T) {
	logs, metrics, addr := startMockCollector(t)

	tel, err := Init(context.Background(), Config{
		Endpoint:       addr,
		Protocol:       "grpc",
		Insecure:       true,
		Timeout:        5 * time.Second,
		PushInterval:   time.Hour,
		ServiceName:    "toolbar-test",
		ServiceVersion: "test",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	tel.NewLogHook()(logging.LevelWarn, "snapshot cache write failed", map[string]interface{}{"snapshot_id": "abc"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	logs.mu.Lock()
	var found bool
	for _, rl := range logs.received {
		for _, sl := range rl.GetScopeLogs() {
			for _, rec := range sl.GetLogRecords() {
				if rec.GetBody().GetStringValue() == "snapshot cache write failed" {
					found = true
					if rec.GetSeverityText() != "WARN" {
						t.Errorf("severity text %q", rec.GetSeverityText())
					}
				}
			}
		}
	}
	logs.mu.Unlock()
	if !found {
		t.Error("log record not exported")
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.received) == 0 {
		t.Fatal("no metrics exported on shutdown")
	}
	var service string
	for _, attr := range metrics.received[0].GetResource().GetAttributes() {
		if attr.GetKey() == "service.name" {
			service = attr.GetValue().GetStringValue()
		}
	}
	if service != "toolbar-test" {
		t.Errorf("expected service.name toolbar-test, got %q", service)
	}
}
