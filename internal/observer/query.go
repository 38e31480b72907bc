// Package observer accumulates per-request database facts: executed queries and hydrated models.
package observer

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/szibis/request-toolbar/internal/measure"
	"github.com/szibis/request-toolbar/internal/profiler"
)

// DefaultSlowThreshold marks queries at or above this duration as slow.
const DefaultSlowThreshold = 100 * time.Millisecond

// QueryType classifies a query.
type QueryType string

// QueryTypeSession marks session-store housekeeping statements.
const QueryTypeSession QueryType = "session"

var sessionMarkers = []string{
	`select * from "sessions" where "id" =`,
	`update "sessions" set "payload" =`,
	`delete from "sessions" where`,
}

// QueryEvent describes one executed statement.
type QueryEvent struct {
	SQL           string
	Bindings      []any
	NamedBindings map[string]any
	Duration      time.Duration
	Connection    string
	Driver        string
	Database      string
	RowsAffected  int64
	Err           error
}

// Query is the recorded form of a QueryEvent.
type Query struct {
	Hash         string               `json:"hash"`
	SQL          string               `json:"sql"`
	Bindings     []any                `json:"bindings"`
	Duration     float64              `json:"duration"`
	Connection   string               `json:"connection"`
	Driver       string               `json:"driver"`
	Database     string               `json:"database,omitempty"`
	RowsAffected int64                `json:"rows_affected"`
	IsDuplicate  bool                 `json:"is_duplicate"`
	IsSlow       bool                 `json:"is_slow"`
	NewShape     bool                 `json:"new_shape"`
	Percentage   float64              `json:"percentage"`
	Offset       float64              `json:"offset"`
	MemoryUsed   *measure.Measurement `json:"memory_used,omitempty"`
	File         string               `json:"file,omitempty"`
	Line         int                  `json:"line,omitempty"`
	EditorURL    string               `json:"editor_url,omitempty"`
	Type         QueryType            `json:"type,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Database identifies a database seen during the request.
type Database struct {
	Name       string `json:"name"`
	Connection string `json:"connection"`
	Driver     string `json:"driver"`
}

// QueryConfig tunes a QueryObserver.
type QueryConfig struct {
	// Production disables caller resolution.
	Production     bool
	SlowThreshold  time.Duration
	MaxStackDepth  int
	IgnorePrefixes []string
	// EditorURL is a link template such as "vscode://file/{file}:{line}".
	EditorURL string
	// Shapes tracks SQL shapes across requests; nil uses DefaultShapes.
	Shapes *ShapeTracker
}

// QueryStats is a copy of everything a QueryObserver has recorded.
type QueryStats struct {
	TotalTime   float64    `json:"total_time"`
	Queries     []Query    `json:"queries"`
	Connections []string   `json:"connections"`
	Drivers     []string   `json:"drivers"`
	Databases   []Database `json:"databases"`
}

// QueryObserver records executed statements for one request.
type QueryObserver struct {
	ledger    *profiler.Ledger
	resolver  *CallerResolver
	slow      time.Duration
	editorURL string
	shapes    *ShapeTracker

	mu          sync.Mutex
	baseline    float64
	hasBaseline bool
	totalTime   float64
	queries     []Query
	hashes      map[string]struct{}
	connections []string
	drivers     []string
	databases   []Database
	seenConn    map[string]struct{}
	seenDriver  map[string]struct{}
	seenDB      map[string]struct{}
}

// NewQueryObserver returns an observer that reads memory baselines from ledger.
func NewQueryObserver(ledger *profiler.Ledger, cfg QueryConfig) *QueryObserver {
	if ledger == nil {
		ledger = profiler.Default()
	}
	o := &QueryObserver{
		ledger:    ledger,
		slow:      cfg.SlowThreshold,
		editorURL: cfg.EditorURL,
		shapes:    cfg.Shapes,
	}
	if o.shapes == nil {
		o.shapes = defaultShapes
	}
	if o.slow <= 0 {
		o.slow = DefaultSlowThreshold
	}
	if !cfg.Production {
		o.resolver = NewCallerResolver(cfg.MaxStackDepth, cfg.IgnorePrefixes...)
	}
	o.resetLocked()
	return o
}

// Record adds one executed statement.
func (o *QueryObserver) Record(ev QueryEvent) Query {
	var caller Caller
	var hasCaller bool
	if o.resolver != nil {
		caller, hasCaller = o.resolver.Resolve()
	}
	now := o.ledger.SampleMemory().Value

	ms := float64(ev.Duration) / float64(time.Millisecond)
	q := Query{
		Hash:         Hash(ev.SQL),
		SQL:          SubstituteBindings(ev.SQL, ev.Bindings, ev.NamedBindings),
		Bindings:     displayBindings(ev),
		Duration:     ms,
		Connection:   ev.Connection,
		Driver:       ev.Driver,
		Database:     ev.Database,
		RowsAffected: ev.RowsAffected,
		IsSlow:       ev.Duration >= o.slow,
		NewShape:     o.shapes.Observe(ev.SQL),
	}
	if q.Bindings == nil {
		q.Bindings = []any{}
	}
	if hasCaller {
		q.File = caller.File
		q.Line = caller.Line
		q.EditorURL = EditorURL(o.editorURL, caller)
	}
	if ev.Err != nil {
		q.Error = ev.Err.Error()
	}
	if IsSessionQuery(q.SQL) {
		q.Type = QueryTypeSession
	}

	o.mu.Lock()
	if !o.hasBaseline {
		if cur := o.ledger.CurrentMemoryUsage(); cur != nil {
			o.baseline, _ = cur.In(measure.Bytes)
		} else {
			o.baseline = now
		}
		o.hasBaseline = true
	}
	used := measure.New(now-o.baseline, measure.Bytes)
	_ = used.ConvertTo(measure.Kilobytes)
	q.MemoryUsed = &used

	if _, dup := o.hashes[q.Hash]; dup {
		q.IsDuplicate = true
	} else {
		o.hashes[q.Hash] = struct{}{}
	}
	o.totalTime += ms
	o.addConnectionLocked(ev)
	o.queries = append(o.queries, q)
	o.mu.Unlock()

	recordQueryMetrics(q)
	return q
}

func (o *QueryObserver) addConnectionLocked(ev QueryEvent) {
	if _, ok := o.seenConn[ev.Connection]; !ok {
		o.seenConn[ev.Connection] = struct{}{}
		o.connections = append(o.connections, ev.Connection)
	}
	if _, ok := o.seenDriver[ev.Driver]; !ok {
		o.seenDriver[ev.Driver] = struct{}{}
		o.drivers = append(o.drivers, ev.Driver)
	}
	if ev.Database == "" {
		return
	}
	if _, ok := o.seenDB[ev.Database]; !ok {
		o.seenDB[ev.Database] = struct{}{}
		o.databases = append(o.databases, Database{Name: ev.Database, Connection: ev.Connection, Driver: ev.Driver})
	}
}

// Stats returns a copy of the recorded state.
func (o *QueryObserver) Stats() QueryStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return QueryStats{
		TotalTime:   o.totalTime,
		Queries:     append([]Query{}, o.queries...),
		Connections: append([]string{}, o.connections...),
		Drivers:     append([]string{}, o.drivers...),
		Databases:   append([]Database{}, o.databases...),
	}
}

// Reset discards everything recorded, including duplicate hashes and the memory baseline.
func (o *QueryObserver) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resetLocked()
}

func (o *QueryObserver) resetLocked() {
	o.baseline = 0
	o.hasBaseline = false
	o.totalTime = 0
	o.queries = nil
	o.hashes = make(map[string]struct{})
	o.connections = nil
	o.drivers = nil
	o.databases = nil
	o.seenConn = make(map[string]struct{})
	o.seenDriver = make(map[string]struct{})
	o.seenDB = make(map[string]struct{})
}

// Hash returns the duplicate-detection key of a raw statement.
func Hash(sql string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(sql))
}

// IsSessionQuery reports whether sql is session-store housekeeping.
func IsSessionQuery(sql string) bool {
	lower := strings.ToLower(sql)
	for _, m := range sessionMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func displayBindings(ev QueryEvent) []any {
	if len(ev.NamedBindings) == 0 {
		return append([]any(nil), ev.Bindings...)
	}
	out := make([]any, 0, len(ev.Bindings)+len(ev.NamedBindings))
	out = append(out, ev.Bindings...)
	for _, k := range slices.Sorted(maps.Keys(ev.NamedBindings)) {
		out = append(out, map[string]any{k: ev.NamedBindings[k]})
	}
	return out
}
