package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/szibis/request-toolbar/internal/logging"
	"github.com/szibis/request-toolbar/internal/measure"
	"github.com/szibis/request-toolbar/internal/observer"
	"github.com/szibis/request-toolbar/internal/profiler"
)

// SnapshotStore keeps snapshots for out-of-band retrieval.
type SnapshotStore interface {
	Put(ctx context.Context, id string, snapshot any) error
}

// Manager runs the enabled collectors of one request and merges their payloads.
type Manager struct {
	// ID identifies the snapshot. It is a random UUID unless overridden.
	ID string
	// CorrelationID, when set, is the cache key used instead of ID.
	CorrelationID string
	Debug         bool

	Ledger    *profiler.Ledger
	Observers *observer.Observers
	Request   *Request
	Response  *Response

	collectors []Collector
	store      SnapshotStore
	clock      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithCorrelationID sets an externally supplied request id.
func WithCorrelationID(id string) ManagerOption {
	return func(m *Manager) { m.CorrelationID = id }
}

// WithDebug stamps debug details into snapshot metadata.
func WithDebug(debug bool) ManagerOption {
	return func(m *Manager) { m.Debug = debug }
}

// WithStore caches every produced snapshot.
func WithStore(s SnapshotStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithLedger sets the ledger read by the profiler collector.
func WithLedger(l *profiler.Ledger) ManagerOption {
	return func(m *Manager) { m.Ledger = l }
}

// WithObservers sets the query and model observers.
func WithObservers(o *observer.Observers) ManagerOption {
	return func(m *Manager) { m.Observers = o }
}

// WithRequest sets the request view.
func WithRequest(r *Request) ManagerOption {
	return func(m *Manager) { m.Request = r }
}

// WithResponse sets the response view.
func WithResponse(r *Response) ManagerOption {
	return func(m *Manager) { m.Response = r }
}

// WithClock replaces time.Now for collector timings.
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// WithID replaces the generated snapshot id.
func WithID(id string) ManagerOption {
	return func(m *Manager) { m.ID = id }
}

// NewManager returns a Manager over collectors. Disabled collectors are dropped.
func NewManager(collectors []Collector, opts ...ManagerOption) *Manager {
	m := &Manager{
		ID:         uuid.NewString(),
		collectors: Enabled(collectors),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Collectors returns the enabled collectors in run order.
func (m *Manager) Collectors() []Collector {
	return append([]Collector(nil), m.collectors...)
}

// CacheID is the key a snapshot is stored under.
func (m *Manager) CacheID() string {
	if m.CorrelationID != "" {
		return m.CorrelationID
	}
	return m.ID
}

// ledger returns the ledger the pass reads. Without WithLedger it is the
// process-wide ledger, which Collect clears when the pass ends.
func (m *Manager) ledger() *profiler.Ledger {
	if m.Ledger != nil {
		return m.Ledger
	}
	return profiler.Default()
}

// Collect runs every enabled collector in order. A collector error aborts the
// pass and is returned wrapped with the collector key. Failing to cache the
// snapshot is logged and does not fail the pass.
func (m *Manager) Collect(ctx context.Context) (*Snapshot, error) {
	if m.Ledger == nil {
		defer profiler.End()
	}
	start := m.clock()
	snap := newSnapshot()
	snap.Metadata.ID = m.ID
	snap.Metadata.CorrelationID = m.CorrelationID

	if len(m.collectors) == 0 {
		end := m.clock()
		total := measure.FromDuration(max(end.Sub(start), 0))
		snap.Metadata.Timestamp = unixSeconds(end)
		snap.Metadata.Collectors = NoCollectorsMessage
		snap.Metadata.WallTime.Total = &total
		snapshotsEmpty.Inc()
		return snap, nil
	}

	snap.Metadata.WallTime.Collectors = make(map[string]CollectorTiming, len(m.collectors))
	for _, c := range m.collectors {
		key := c.Key()
		began := m.clock()
		payload, err := c.Collect(ctx, m)
		took := m.clock().Sub(began)
		recordCollector(key, took)
		if err != nil {
			snapshotsError.Inc()
			return nil, fmt.Errorf("collector %s: %w", key, err)
		}
		snap.set(key, payload)
		snap.Metadata.WallTime.Collectors[key] = CollectorTiming{Duration: measure.FromDuration(took)}
	}

	if m.Debug {
		end := m.clock()
		total := measure.FromDuration(end.Sub(start))
		snap.Metadata.Debug = true
		snap.Metadata.Timestamp = unixSeconds(end)
		snap.Metadata.WallTime.Total = &total
	}

	if m.store != nil {
		if err := m.store.Put(ctx, m.CacheID(), snap); err != nil {
			logging.Warn("snapshot cache write failed", logging.F(
				"snapshot_id", m.ID,
				"cache_id", m.CacheID(),
				"error", err.Error(),
			))
		}
	}
	snapshotsOK.Inc()
	return snap, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
