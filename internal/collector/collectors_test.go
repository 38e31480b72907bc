package collector

import (
	"context"
	"math"
	"net/http"
	"runtime/debug"
	"testing"
	"time"

	"github.com/szibis/request-toolbar/internal/measure"
	"github.com/szibis/request-toolbar/internal/observer"
	"github.com/szibis/request-toolbar/internal/profiler"
)

type flatMemory uint64

func (f flatMemory) Current() uint64 { return uint64(f) }
func (f flatMemory) Peak() uint64    { return uint64(f) }

func newLedger() *profiler.Ledger {
	return profiler.NewLedger(profiler.WithMemorySampler(flatMemory(1024)))
}

func collectOne(t *testing.T, c Collector, m *Manager) any {
	t.Helper()
	out, err := c.Collect(context.Background(), m)
	if err != nil {
		t.Fatalf("%s: %v", c.Key(), err)
	}
	return out
}

func TestProfilerCollector_Timeline(t *testing.T) {
	l := newLedger()
	for i, id := range profiler.CheckpointIDs() {
		l.Record(id, profiler.Checkpoint{Time: measure.New(float64(i), measure.Milliseconds)})
	}
	l.Record(profiler.RequestStart, profiler.Checkpoint{Time: measure.New(99, measure.Milliseconds)})

	m := NewManager(nil, WithLedger(l))
	data := collectOne(t, NewProfilerCollector(ProfilerConfig{Toggle: Toggle{Enabled: true}}), m).(*ProfilerData)

	if len(data.Stages) != len(profiler.DefaultStages) {
		t.Fatalf("stages = %d, want %d", len(data.Stages), len(profiler.DefaultStages))
	}
	if math.Abs(data.TotalWallTime.Value-10) > 1e-9 {
		t.Errorf("total wall time = %v, want 10ms", data.TotalWallTime.Value)
	}
	if len(data.DuplicateCheckpoints) != 1 || data.DuplicateCheckpoints[0] != profiler.RequestStart {
		t.Errorf("duplicates = %v, want [request_start]", data.DuplicateCheckpoints)
	}
	if data.Substages != nil {
		t.Error("substages should be omitted when disabled")
	}
	if _, ok := l.Checkpoint(profiler.RequestStart); ok {
		t.Error("collecting should reset the ledger")
	}
}

func TestProfilerCollector_MissingBoundary(t *testing.T) {
	l := newLedger()
	l.Record(profiler.RequestStart, profiler.Checkpoint{Time: measure.New(0, measure.Milliseconds)})

	m := NewManager([]Collector{NewProfilerCollector(DefaultProfilerConfig())}, WithLedger(l))
	if _, err := m.Collect(context.Background()); err == nil {
		t.Error("expected a timeline error to abort collection")
	}
}

func TestQueriesCollector_Percentages(t *testing.T) {
	obs := observer.New(newLedger(), observer.QueryConfig{Production: true})
	obs.Queries.Record(observer.QueryEvent{SQL: "select 1", Duration: 10 * time.Millisecond, Connection: "main", Driver: "postgres"})
	obs.Queries.Record(observer.QueryEvent{
		SQL:        `select * from "sessions" where "id" = ?`,
		Bindings:   []any{"abc"},
		Duration:   60 * time.Millisecond,
		Connection: "main",
		Driver:     "postgres",
	})
	obs.Queries.Record(observer.QueryEvent{SQL: "select 1", Duration: 30 * time.Millisecond, Connection: "main", Driver: "postgres"})

	m := NewManager(nil, WithObservers(obs))
	data := collectOne(t, NewQueriesCollector(DefaultQueriesConfig()), m).(*QueriesData)

	if data.TotalTime != 100 || data.TotalTimeFilteredQueries != 40 {
		t.Errorf("total = %v, filtered = %v, want 100 and 40", data.TotalTime, data.TotalTimeFilteredQueries)
	}
	if len(data.Queries) != 2 {
		t.Fatalf("queries = %d, want session query filtered out", len(data.Queries))
	}

	wantPct := []float64{0.25, 0.75}
	wantOff := []float64{0, 0.25}
	var sum float64
	for i, q := range data.Queries {
		if q.Percentage != wantPct[i] || q.Offset != wantOff[i] {
			t.Errorf("query %d: percentage %v offset %v, want %v %v", i, q.Percentage, q.Offset, wantPct[i], wantOff[i])
		}
		sum += q.Percentage
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("percentages sum to %v", sum)
	}
	if data.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", data.Duplicates)
	}

	withSessions := collectOne(t, NewQueriesCollector(QueriesConfig{Toggle: Toggle{Enabled: true}, ShowSessionQueries: true}), m).(*QueriesData)
	if len(withSessions.Queries) != 3 || withSessions.TotalTimeFilteredQueries != 100 {
		t.Errorf("with sessions: %d queries, filtered total %v", len(withSessions.Queries), withSessions.TotalTimeFilteredQueries)
	}
}

func TestQueriesCollector_NoObservers(t *testing.T) {
	data := collectOne(t, NewQueriesCollector(DefaultQueriesConfig()), NewManager(nil)).(*QueriesData)
	if data.Queries == nil || len(data.Queries) != 0 || data.TotalTime != 0 {
		t.Errorf("expected empty payload, got %+v", data)
	}
}

func TestModelsCollector(t *testing.T) {
	empty := collectOne(t, NewModelsCollector(DefaultModelsConfig()), NewManager(nil)).([]observer.ModelEntry)
	if empty == nil || len(empty) != 0 {
		t.Errorf("expected empty slice, got %v", empty)
	}

	obs := observer.New(newLedger(), observer.QueryConfig{Production: true})
	obs.Models.Hydrated("User", 2)
	entries := collectOne(t, NewModelsCollector(DefaultModelsConfig()), NewManager(nil, WithObservers(obs))).([]observer.ModelEntry)
	if len(entries) != 1 || entries[0].Model != "User" || entries[0].Count != 2 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRequestCollector(t *testing.T) {
	c := NewRequestCollector(RequestConfig{Toggle: Toggle{Enabled: true}, Headers: true, RedactHeaders: DefaultRedactedHeaders})
	if out := collectOne(t, c, NewManager(nil)); out != nil {
		t.Errorf("expected nil without request, got %v", out)
	}

	req := &Request{
		Method:     http.MethodGet,
		URI:        "/users?page=2",
		RemoteAddr: "10.0.0.1",
		Header:     http.Header{"Authorization": {"Bearer x"}, "Accept": {"text/html"}},
	}
	data := collectOne(t, c, NewManager(nil, WithRequest(req), WithCorrelationID("corr"))).(*RequestData)
	if data.RouteName != "-" || data.Handler != "-" {
		t.Errorf("route %q handler %q, want dashes", data.RouteName, data.Handler)
	}
	if data.CorrelationID != "corr" {
		t.Errorf("correlation id = %q", data.CorrelationID)
	}
	if got := data.Headers["Authorization"]; len(got) != 1 || got[0] != "[redacted]" {
		t.Errorf("authorization = %v", got)
	}
	if got := data.Headers["Accept"]; len(got) != 1 || got[0] != "text/html" {
		t.Errorf("accept = %v", got)
	}
}

func TestResponseCollector(t *testing.T) {
	c := NewResponseCollector(DefaultResponseConfig())
	if out := collectOne(t, c, NewManager(nil)); out != nil {
		t.Errorf("expected nil without response, got %v", out)
	}

	resp := &Response{StatusCode: 201, Size: 2048, Header: http.Header{"Set-Cookie": {"s=1"}}}
	data := collectOne(t, c, NewManager(nil, WithResponse(resp))).(*ResponseData)
	if data.StatusCode != 201 || data.Size.Value != 2048 {
		t.Errorf("data = %+v", data)
	}
	if got := data.Headers["Set-Cookie"]; len(got) != 1 || got[0] != "[redacted]" {
		t.Errorf("set-cookie = %v", got)
	}
}

func TestAppCollector(t *testing.T) {
	c := NewAppCollector(AppConfig{Toggle: Toggle{Enabled: true}, Name: "shop", Version: "1.2.3", ShowDebug: true})
	data := collectOne(t, c, NewManager(nil, WithDebug(true))).(*AppData)

	if data.Name != "shop" || data.Version == nil || *data.Version != "1.2.3" {
		t.Errorf("data = %+v", data)
	}
	if data.Debug == nil || !*data.Debug {
		t.Error("expected debug=true")
	}
	if data.Timezone != nil || data.Host != nil || data.Environment != nil {
		t.Error("disabled fields should be absent")
	}
}

func TestRuntimeCollector(t *testing.T) {
	data := collectOne(t, NewRuntimeCollector(RuntimeConfig{Toggle: Toggle{Enabled: true}, MemStats: true}), NewManager(nil)).(*RuntimeData)
	if data.GoVersion == "" || data.NumCPU <= 0 || data.Goroutines <= 0 {
		t.Errorf("data = %+v", data)
	}
	if data.HeapAlloc == nil || data.NumGC == nil {
		t.Error("expected heap stats")
	}
}

func TestDependenciesCollector(t *testing.T) {
	c := NewDependenciesCollector(DependenciesConfig{Toggle: Toggle{Enabled: true}, Modules: []string{"gorm.io/"}})
	c.buildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			GoVersion: "go1.24.0",
			Main:      debug.Module{Path: "example.com/app", Version: "(devel)"},
			Deps: []*debug.Module{
				{Path: "gorm.io/gorm", Version: "v1.25.12"},
				{Path: "gorm.io/driver/postgres", Version: "v1.5.11", Replace: &debug.Module{Path: "../postgres"}},
				{Path: "github.com/google/uuid", Version: "v1.6.0"},
			},
			Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}, {Key: "vcs.modified", Value: "true"}},
		}, true
	}

	data := collectOne(t, c, NewManager(nil)).(*DependenciesData)
	if data.Main.Path != "example.com/app" || data.Revision != "abc123" || !data.Modified {
		t.Errorf("data = %+v", data)
	}
	if len(data.Modules) != 2 {
		t.Fatalf("modules = %+v, want gorm only", data.Modules)
	}
	if data.Modules[1].Replace != "../postgres" {
		t.Errorf("replace = %q", data.Modules[1].Replace)
	}

	c.buildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
	if out := collectOne(t, c, NewManager(nil)); out != nil {
		t.Errorf("expected nil without build info, got %v", out)
	}
}
