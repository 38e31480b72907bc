package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMemory(t *testing.T) (*Memory, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	m := newMemory(time.Hour, clock.Now)
	t.Cleanup(func() { _ = m.Close() })
	return m, clock
}

func TestMemory_SetGet(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	value := []byte("payload")
	if err := m.Set(ctx, "k", value, time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value[0] = 'X'

	got, err := m.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("got %q, stored value must be copied", got)
	}

	if _, err := m.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	_ = m.Set(ctx, "short", []byte("a"), 30*time.Second)
	_ = m.Set(ctx, "forever", []byte("b"), 0)

	clock.Advance(29 * time.Second)
	if _, err := m.Get(ctx, "short"); err != nil {
		t.Fatalf("entry expired early: %v", err)
	}

	clock.Advance(time.Second)
	if _, err := m.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected expiry at ttl, got %v", err)
	}
	if _, err := m.Get(ctx, "forever"); err != nil {
		t.Errorf("entry without ttl should not expire: %v", err)
	}
}

func TestMemory_OverwriteRefreshesTTL(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	_ = m.Set(ctx, "k", []byte("old"), 10*time.Second)
	clock.Advance(8 * time.Second)
	_ = m.Set(ctx, "k", []byte("new"), 10*time.Second)
	clock.Advance(8 * time.Second)

	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "new" {
		t.Errorf("got %q, %v; want new", got, err)
	}
}

func TestMemory_Sweep(t *testing.T) {
	m, clock := newTestMemory(t)
	ctx := context.Background()

	_ = m.Set(ctx, "a", []byte("1"), time.Second)
	_ = m.Set(ctx, "b", []byte("2"), time.Second)
	_ = m.Set(ctx, "c", []byte("3"), time.Minute)

	clock.Advance(2 * time.Second)
	if n := m.Sweep(); n != 2 {
		t.Errorf("swept %d, want 2", n)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d, want 1", m.Len())
	}
}

func TestMemory_MaxEntriesEvictsOldest(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	m := newMemory(time.Hour, clock.Now, WithMaxEntries(100))
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()
	before := testutil.ToFloat64(evictCapacity)

	for i := 0; i < 1000; i++ {
		if err := m.Set(ctx, fmt.Sprintf("snap-%d", i), []byte("v"), 30*time.Second); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}

	if m.Len() != 100 {
		t.Errorf("len = %d, want 100", m.Len())
	}
	if got := testutil.ToFloat64(evictCapacity) - before; got != 900 {
		t.Errorf("capacity evictions = %v, want 900", got)
	}
	if _, err := m.Get(ctx, "snap-899"); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest entry should be evicted, got %v", err)
	}
	if _, err := m.Get(ctx, "snap-900"); err != nil {
		t.Errorf("newest entries should remain: %v", err)
	}
}

func TestMemory_OverwriteDoesNotEvict(t *testing.T) {
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	m := newMemory(time.Hour, clock.Now, WithMaxEntries(2))
	t.Cleanup(func() { _ = m.Close() })
	ctx := context.Background()

	_ = m.Set(ctx, "a", []byte("1"), 0)
	_ = m.Set(ctx, "b", []byte("2"), 0)
	_ = m.Set(ctx, "a", []byte("3"), 0)
	_ = m.Set(ctx, "c", []byte("4"), 0)

	if _, err := m.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("b was least recently written and should be evicted, got %v", err)
	}
	if got, err := m.Get(ctx, "a"); err != nil || string(got) != "3" {
		t.Errorf("a = %q, %v; want 3", got, err)
	}
}

func TestMemory_DefaultMaxEntries(t *testing.T) {
	m := NewMemory(time.Hour, WithMaxEntries(0))
	defer m.Close()
	if m.maxEntries != DefaultMaxEntries {
		t.Errorf("maxEntries = %d, want %d", m.maxEntries, DefaultMaxEntries)
	}
}

func TestMemory_JanitorEvicts(t *testing.T) {
	m := NewMemory(10 * time.Millisecond)
	defer m.Close()

	_ = m.Set(context.Background(), "k", []byte("v"), time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for m.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("janitor did not evict expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m, _ := newTestMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				key := string(rune('a' + i))
				_ = m.Set(ctx, key, []byte{byte(j)}, time.Minute)
				_, _ = m.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	if m.Len() != 8 {
		t.Errorf("len = %d, want 8", m.Len())
	}
}

func TestLeakCheck_MemoryJanitor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	m := NewMemory(5 * time.Millisecond)
	_ = m.Set(context.Background(), "k", []byte("v"), time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
