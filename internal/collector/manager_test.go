package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/szibis/request-toolbar/internal/profiler"
)

type stubCollector struct {
	key     string
	enabled bool
	payload any
	err     error
	calls   int
}

func (s *stubCollector) Key() string    { return s.key }
func (s *stubCollector) Config() Config { return Toggle{Enabled: s.enabled} }

func (s *stubCollector) Collect(context.Context, *Manager) (any, error) {
	s.calls++
	return s.payload, s.err
}

type memoryStore struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (s *memoryStore) Put(_ context.Context, id string, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return s.err
}

// tickClock advances one millisecond per call.
func tickClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(time.Millisecond)
		return t
	}
}

func TestManager_NoCollectorsEnabled(t *testing.T) {
	store := &memoryStore{}
	before := testutil.ToFloat64(snapshotsEmpty)

	m := NewManager([]Collector{&stubCollector{key: "a"}}, WithStore(store), WithID("snap-1"))
	snap, err := m.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if len(snap.Keys()) != 0 {
		t.Errorf("keys = %v, want none", snap.Keys())
	}
	md := snap.Metadata
	if md.ID != "snap-1" || md.Collectors != NoCollectorsMessage {
		t.Errorf("metadata = %+v", md)
	}
	if md.Timestamp <= 0 || md.WallTime.Total == nil {
		t.Errorf("expected timestamp and total, got %+v", md)
	}
	if len(store.ids) != 0 {
		t.Errorf("empty snapshot must not be cached, got %v", store.ids)
	}
	if got := testutil.ToFloat64(snapshotsEmpty) - before; got != 1 {
		t.Errorf("empty snapshots delta = %v, want 1", got)
	}
}

func TestManager_CollectsInOrder(t *testing.T) {
	b := &stubCollector{key: "b", enabled: true, payload: map[string]int{"n": 2}}
	a := &stubCollector{key: "a", enabled: true, payload: []int{1}}
	off := &stubCollector{key: "off", payload: "x"}

	m := NewManager([]Collector{b, off, a}, WithClock(tickClock(time.Unix(100, 0))), WithID("id"))
	snap, err := m.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if off.calls != 0 {
		t.Error("disabled collector was called")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ib, ia, im := bytes.Index(data, []byte(`"b":`)), bytes.Index(data, []byte(`"a":`)), bytes.Index(data, []byte(`"metadata":`))
	if ib < 0 || ia < 0 || im < 0 || !(ib < ia && ia < im) {
		t.Errorf("unexpected field order: %s", data)
	}

	timing, ok := snap.Metadata.WallTime.Collectors["a"]
	if !ok {
		t.Fatal("missing timing for a")
	}
	if timing.Duration.Value != 1 {
		t.Errorf("a took %v ms, want 1", timing.Duration.Value)
	}
	if snap.Metadata.Debug || snap.Metadata.WallTime.Total != nil {
		t.Error("total and debug flag are only stamped in debug mode")
	}
}

func TestManager_NilPayloadEncodesNull(t *testing.T) {
	m := NewManager([]Collector{&stubCollector{key: "response", enabled: true}})
	snap, err := m.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	data, _ := json.Marshal(snap)
	if !bytes.Contains(data, []byte(`"response":null`)) {
		t.Errorf("expected null response, got %s", data)
	}
}

func TestManager_CollectorErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	first := &stubCollector{key: "first", enabled: true, err: boom}
	second := &stubCollector{key: "second", enabled: true}
	store := &memoryStore{}
	before := testutil.ToFloat64(snapshotsError)

	m := NewManager([]Collector{first, second}, WithStore(store))
	_, err := m.Collect(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if second.calls != 0 {
		t.Error("collection continued after an error")
	}
	if len(store.ids) != 0 {
		t.Error("failed pass must not be cached")
	}
	if got := testutil.ToFloat64(snapshotsError) - before; got != 1 {
		t.Errorf("error snapshots delta = %v, want 1", got)
	}
}

func TestManager_CachesUnderCorrelationID(t *testing.T) {
	store := &memoryStore{}
	c := &stubCollector{key: "a", enabled: true}

	m := NewManager([]Collector{c}, WithStore(store), WithID("generated"), WithCorrelationID("req-42"))
	snap, err := m.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(store.ids) != 1 || store.ids[0] != "req-42" {
		t.Errorf("cached ids = %v, want [req-42]", store.ids)
	}
	if snap.Metadata.ID != "generated" || snap.Metadata.CorrelationID != "req-42" {
		t.Errorf("metadata = %+v", snap.Metadata)
	}

	store2 := &memoryStore{}
	m2 := NewManager([]Collector{c}, WithStore(store2), WithID("generated"))
	if _, err := m2.Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(store2.ids) != 1 || store2.ids[0] != "generated" {
		t.Errorf("cached ids = %v, want [generated]", store2.ids)
	}
}

func TestManager_StoreFailureIsNotFatal(t *testing.T) {
	store := &memoryStore{err: errors.New("unavailable")}
	m := NewManager([]Collector{&stubCollector{key: "a", enabled: true}}, WithStore(store))
	if _, err := m.Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(store.ids) != 1 {
		t.Errorf("store called %d times, want 1", len(store.ids))
	}
}

func TestManager_DebugMetadata(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	m := NewManager([]Collector{&stubCollector{key: "a", enabled: true}},
		WithDebug(true), WithClock(tickClock(start)))
	snap, err := m.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	md := snap.Metadata
	if !md.Debug {
		t.Error("expected debug flag")
	}
	// start, collector begin, collector end, final read
	if md.WallTime.Total == nil || md.WallTime.Total.Value != 3 {
		t.Errorf("total = %v, want 3ms", md.WallTime.Total)
	}
	if want := float64(start.Add(3*time.Millisecond).UnixMicro()) / 1e6; md.Timestamp != want {
		t.Errorf("timestamp = %v, want %v", md.Timestamp, want)
	}
}

func TestManager_IDsAreUnique(t *testing.T) {
	a, b := NewManager(nil), NewManager(nil)
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids %q and %q should be distinct and non-empty", a.ID, b.ID)
	}
	if a.CacheID() != a.ID {
		t.Errorf("CacheID = %q, want %q", a.CacheID(), a.ID)
	}
}

func TestManager_ClearsDefaultLedgerAfterPass(t *testing.T) {
	cases := []struct {
		name       string
		collectors []Collector
		wantErr    bool
	}{
		{name: "no collectors", collectors: nil},
		{name: "success", collectors: []Collector{&stubCollector{key: "a", enabled: true, payload: 1}}},
		{name: "collector error", collectors: []Collector{&stubCollector{key: "a", enabled: true, err: errors.New("boom")}}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			profiler.Begin()
			profiler.Profile("background")
			profiler.Record(profiler.BeforeController)

			_, err := NewManager(tc.collectors).Collect(context.Background())
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if m := profiler.Default().Markers(); len(m) != 0 {
				t.Errorf("default ledger markers = %d, want 0", len(m))
			}
			if _, ok := profiler.Default().Checkpoint(profiler.BeforeController); ok {
				t.Error("default ledger checkpoint survived the pass")
			}
		})
	}
}

func TestManager_LeavesOwnLedgerAlone(t *testing.T) {
	profiler.Begin()
	defer profiler.End()
	profiler.Profile("other work")

	l := profiler.NewLedger()
	l.Profile("request")
	if _, err := NewManager(nil, WithLedger(l)).Collect(context.Background()); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if got := len(profiler.Default().Markers()); got != 1 {
		t.Errorf("default ledger markers = %d, want 1", got)
	}
}
