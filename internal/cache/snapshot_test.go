package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type failingStore struct{ err error }

func (s failingStore) Set(context.Context, string, []byte, time.Duration) error { return s.err }
func (s failingStore) Get(context.Context, string) ([]byte, error)              { return nil, s.err }

func TestKey(t *testing.T) {
	if got := Key("abc"); got != "request-toolbar-request-data-abc" {
		t.Errorf("Key = %q", got)
	}
}

func TestSnapshotCache_PutGet(t *testing.T) {
	mem, _ := newTestMemory(t)
	c := NewSnapshotCache(mem, "", 0)
	if c.TTL() != DefaultTTL {
		t.Errorf("ttl = %v, want %v", c.TTL(), DefaultTTL)
	}

	ctx := context.Background()
	if err := c.Put(ctx, "req-1", map[string]any{"queries": []int{1, 2}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	stored, err := mem.Get(ctx, Key("req-1"))
	if err != nil {
		t.Fatalf("raw store lookup: %v", err)
	}
	if json.Valid(stored) {
		t.Error("stored payload should be compressed")
	}

	raw, err := c.Get(ctx, "req-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(raw) != `{"queries":[1,2]}` {
		t.Errorf("raw = %s", raw)
	}
}

func TestSnapshotCache_ExpiresAfterTTL(t *testing.T) {
	mem, clock := newTestMemory(t)
	c := NewSnapshotCache(mem, CodecNone, 0)
	ctx := context.Background()

	_ = c.Put(ctx, "req", "v")
	clock.Advance(DefaultTTL - time.Millisecond)
	if _, err := c.Get(ctx, "req"); err != nil {
		t.Fatalf("expired early: %v", err)
	}
	clock.Advance(time.Millisecond)

	before := testutil.ToFloat64(getMiss)
	if _, err := c.Get(ctx, "req"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if got := testutil.ToFloat64(getMiss) - before; got != 1 {
		t.Errorf("miss delta = %v, want 1", got)
	}
}

func TestSnapshotCache_Errors(t *testing.T) {
	boom := errors.New("store down")
	c := NewSnapshotCache(failingStore{err: boom}, CodecZstd, time.Second)
	ctx := context.Background()

	if err := c.Put(ctx, "x", 1); !errors.Is(err, boom) {
		t.Errorf("Put error = %v", err)
	}
	if _, err := c.Get(ctx, "x"); !errors.Is(err, boom) {
		t.Errorf("Get error = %v", err)
	}
	if err := c.Put(ctx, "", 1); err == nil {
		t.Error("expected error for empty id")
	}
	if err := c.Put(ctx, "x", func() {}); err == nil {
		t.Error("expected encode error")
	}
}

func TestSnapshotCache_PingLocalStore(t *testing.T) {
	mem, _ := newTestMemory(t)
	if err := NewSnapshotCache(mem, CodecZstd, 0).Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
