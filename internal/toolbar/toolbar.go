// Package toolbar wires request profiling into HTTP and gRPC servers and
// serves cached snapshots.
package toolbar

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/szibis/request-toolbar/internal/cache"
	"github.com/szibis/request-toolbar/internal/collector"
	"github.com/szibis/request-toolbar/internal/logging"
	"github.com/szibis/request-toolbar/internal/observer"
	"github.com/szibis/request-toolbar/internal/profiler"
)

const (
	// IDHeader carries the key a response's snapshot is cached under.
	IDHeader = "X-Toolbar-Id"
	// DefaultCorrelationHeader is read for a caller supplied snapshot key.
	DefaultCorrelationHeader = "X-Toolbar-Correlation-Id"
	// DefaultRoutePrefix is where SnapshotHandler is mounted.
	DefaultRoutePrefix = "/_toolbar"
)

// Options configures a Toolbar.
type Options struct {
	Collectors []collector.Collector
	// Cache stores snapshots. Nil disables caching and SnapshotHandler returns 404.
	Cache   *cache.SnapshotCache
	Queries observer.QueryConfig
	Debug   bool
	// CorrelationHeader overrides DefaultCorrelationHeader.
	CorrelationHeader string
	// IgnorePaths are path (or gRPC method) prefixes that are never profiled.
	IgnorePaths []string
	RoutePrefix string
}

// Toolbar profiles requests and runs the collectors once each request completes.
type Toolbar struct {
	collectors        []collector.Collector
	cache             *cache.SnapshotCache
	queries           observer.QueryConfig
	debug             bool
	correlationHeader string
	ignorePaths       []string
	prefix            string
}

// New returns a Toolbar. Disabled collectors are dropped.
func New(opts Options) *Toolbar {
	tb := &Toolbar{
		collectors:        collector.Enabled(opts.Collectors),
		cache:             opts.Cache,
		queries:           opts.Queries,
		debug:             opts.Debug,
		correlationHeader: opts.CorrelationHeader,
		prefix:            strings.TrimRight(opts.RoutePrefix, "/"),
	}
	if tb.correlationHeader == "" {
		tb.correlationHeader = DefaultCorrelationHeader
	}
	if tb.prefix == "" {
		tb.prefix = DefaultRoutePrefix
	}
	tb.ignorePaths = append([]string{tb.prefix + "/"}, opts.IgnorePaths...)
	return tb
}

// RoutePrefix returns the prefix SnapshotHandler serves under.
func (tb *Toolbar) RoutePrefix() string { return tb.prefix }

// Collectors returns the enabled collectors in run order.
func (tb *Toolbar) Collectors() []collector.Collector {
	return append([]collector.Collector(nil), tb.collectors...)
}

func (tb *Toolbar) ignored(path string) bool {
	for _, p := range tb.ignorePaths {
		if p != "" && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// begin opens a scope whose request started at arrived.
func (tb *Toolbar) begin(arrived time.Time, correlationID string, req *collector.Request) *Scope {
	ledger := profiler.NewLedger()
	ledger.Record(profiler.RequestStart, profiler.TimeOnly(arrived))
	ledger.Record(profiler.BeforeServiceProviders)
	s := &Scope{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		Ledger:        ledger,
		Observers:     observer.New(ledger, tb.queries),
		request:       req,
	}
	ledger.Record(profiler.AfterServiceProviders)
	return s
}

// finish closes the scope and collects its snapshot. Errors are logged, never
// returned to the client.
func (tb *Toolbar) finish(ctx context.Context, s *Scope, transport string) *collector.Snapshot {
	s.Ledger.Record(profiler.RequestHandled)

	opts := []collector.ManagerOption{
		collector.WithID(s.ID),
		collector.WithCorrelationID(s.CorrelationID),
		collector.WithDebug(tb.debug),
		collector.WithLedger(s.Ledger),
		collector.WithObservers(s.Observers),
		collector.WithRequest(s.Request()),
		collector.WithResponse(s.Response()),
	}
	if tb.cache != nil {
		opts = append(opts, collector.WithStore(tb.cache))
	}

	snap, err := collector.NewManager(tb.collectors, opts...).Collect(ctx)
	if err != nil {
		profiledFailed(transport).Inc()
		req := s.Request()
		fields := logging.F(
			"snapshot_id", s.ID,
			"correlation_id", s.CorrelationID,
			"transport", transport,
			"error", err.Error(),
		)
		if req != nil {
			fields["method"] = req.Method
			fields["uri"] = req.URI
		}
		logging.Error("toolbar collector run failed", fields)
		return nil
	}
	profiledOK(transport).Inc()
	return snap
}
