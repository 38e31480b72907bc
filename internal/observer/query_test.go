package observer

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/szibis/request-toolbar/internal/measure"
	"github.com/szibis/request-toolbar/internal/profiler"
)

type scriptedMemory struct {
	mu     sync.Mutex
	values []uint64
}

func (s *scriptedMemory) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[0]
	if len(s.values) > 1 {
		s.values = s.values[1:]
	}
	return v
}

func (s *scriptedMemory) Peak() uint64 { return 0 }

func newLedger(values ...uint64) *profiler.Ledger {
	return profiler.NewLedger(profiler.WithMemorySampler(&scriptedMemory{values: values}))
}

func TestQueryObserver_Duplicates(t *testing.T) {
	o := NewQueryObserver(newLedger(0), QueryConfig{Production: true})

	first := o.Record(QueryEvent{SQL: "select * from users where id = ?", Bindings: []any{1}})
	second := o.Record(QueryEvent{SQL: "select * from users where id = ?", Bindings: []any{2}})
	other := o.Record(QueryEvent{SQL: "select * from posts"})

	if first.IsDuplicate {
		t.Error("first occurrence flagged duplicate")
	}
	if !second.IsDuplicate {
		t.Error("repeat of raw sql should be a duplicate even with different bindings")
	}
	if other.IsDuplicate {
		t.Error("distinct sql flagged duplicate")
	}
	if first.Hash != second.Hash || first.Hash == other.Hash {
		t.Errorf("unexpected hashes %s %s %s", first.Hash, second.Hash, other.Hash)
	}

	o.Reset()
	again := o.Record(QueryEvent{SQL: "select * from users where id = ?", Bindings: []any{1}})
	if again.IsDuplicate {
		t.Error("reset should forget seen hashes")
	}
	if n := len(o.Stats().Queries); n != 1 {
		t.Errorf("expected 1 query after reset, got %d", n)
	}
}

func TestQueryObserver_SlowAndTotals(t *testing.T) {
	o := NewQueryObserver(newLedger(0), QueryConfig{Production: true, SlowThreshold: 50 * time.Millisecond})

	fast := o.Record(QueryEvent{SQL: "a", Duration: 10 * time.Millisecond, Connection: "main", Driver: "postgres", Database: "app"})
	slow := o.Record(QueryEvent{SQL: "b", Duration: 50 * time.Millisecond, Connection: "main", Driver: "postgres", Database: "app"})
	o.Record(QueryEvent{SQL: "c", Duration: 2500 * time.Microsecond, Connection: "replica", Driver: "postgres"})

	if fast.IsSlow || !slow.IsSlow {
		t.Errorf("slow flags: fast=%v slow=%v", fast.IsSlow, slow.IsSlow)
	}
	st := o.Stats()
	if st.TotalTime != 62.5 {
		t.Errorf("expected 62.5ms total, got %v", st.TotalTime)
	}
	if strings.Join(st.Connections, ",") != "main,replica" {
		t.Errorf("connections %v", st.Connections)
	}
	if len(st.Drivers) != 1 || len(st.Databases) != 1 || st.Databases[0].Name != "app" {
		t.Errorf("drivers %v databases %v", st.Drivers, st.Databases)
	}
}

func TestQueryObserver_MemoryBaseline(t *testing.T) {
	l := newLedger(1024, 3072, 5120)
	l.Record(profiler.BeforeController)

	o := NewQueryObserver(l, QueryConfig{Production: true})
	q1 := o.Record(QueryEvent{SQL: "a"})
	q2 := o.Record(QueryEvent{SQL: "b"})

	if q1.MemoryUsed.Unit != measure.Kilobytes || q1.MemoryUsed.Value != 2 {
		t.Errorf("expected 2 KB, got %v", q1.MemoryUsed)
	}
	if q2.MemoryUsed.Value != 4 {
		t.Errorf("baseline must not move between queries, got %v", q2.MemoryUsed)
	}
}

func TestQueryObserver_Caller(t *testing.T) {
	o := NewQueryObserver(newLedger(0), QueryConfig{EditorURL: "vscode://file/{file}:{line}"})
	q := o.Record(QueryEvent{SQL: "select 1"})

	if !strings.HasSuffix(q.File, "query_test.go") {
		t.Fatalf("expected caller in query_test.go, got %q", q.File)
	}
	if q.Line == 0 || !strings.HasPrefix(q.EditorURL, "vscode://file/") {
		t.Errorf("unexpected caller %d %q", q.Line, q.EditorURL)
	}

	prod := NewQueryObserver(newLedger(0), QueryConfig{Production: true})
	if q := prod.Record(QueryEvent{SQL: "select 1"}); q.File != "" {
		t.Errorf("production must not resolve callers, got %q", q.File)
	}
}

func TestQueryObserver_SessionAndError(t *testing.T) {
	o := NewQueryObserver(newLedger(0), QueryConfig{Production: true})
	q := o.Record(QueryEvent{
		SQL:      `SELECT * FROM "sessions" WHERE "id" = ? limit 1`,
		Bindings: []any{"abc"},
		Err:      errors.New("boom"),
	})
	if q.Type != QueryTypeSession {
		t.Errorf("expected session type, got %q", q.Type)
	}
	if q.Error != "boom" {
		t.Errorf("expected error text, got %q", q.Error)
	}
	if q.SQL != `SELECT * FROM "sessions" WHERE "id" = 'abc' limit 1` {
		t.Errorf("unexpected sql %s", q.SQL)
	}
}

func TestQueryObserver_NamedBindingsDisplay(t *testing.T) {
	o := NewQueryObserver(newLedger(0), QueryConfig{Production: true})
	q := o.Record(QueryEvent{SQL: "x = :b and y = :a", NamedBindings: map[string]any{"b": 2, "a": 1}})
	if len(q.Bindings) != 2 {
		t.Fatalf("expected 2 display bindings, got %v", q.Bindings)
	}
	if _, ok := q.Bindings[0].(map[string]any)["a"]; !ok {
		t.Errorf("named bindings should be listed in key order, got %v", q.Bindings)
	}
}
