package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const (
	// DefaultCleanupInterval is how often the memory janitor drops expired entries.
	DefaultCleanupInterval = time.Minute
	// DefaultMaxEntries bounds the memory store when no limit is configured.
	DefaultMaxEntries = 10000
)

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process Store. Expired entries are hidden on read and
// removed by a background janitor until Close is called. Once maxEntries are
// held, each new key evicts the least recently written one.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // front is the most recently written
	maxEntries int
	now        func() time.Time

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMaxEntries caps the number of held entries. Non-positive values keep
// DefaultMaxEntries.
func WithMaxEntries(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxEntries = n
		}
	}
}

// NewMemory starts a memory store whose janitor runs every interval.
func NewMemory(interval time.Duration, opts ...MemoryOption) *Memory {
	return newMemory(interval, time.Now, opts...)
}

func newMemory(interval time.Duration, now func() time.Time, opts ...MemoryOption) *Memory {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	m := &Memory{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: DefaultMaxEntries,
		now:        now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.janitor(interval)
	return m
}

// Set implements Store. The value is copied.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := &memoryEntry{key: key, value: append([]byte(nil), value...)}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	if elem, ok := m.entries[key]; ok {
		elem.Value = e
		m.order.MoveToFront(elem)
		return nil
	}

	evicted := 0
	for m.order.Len() >= m.maxEntries {
		back := m.order.Back()
		if back == nil {
			break
		}
		m.removeLocked(back)
		evicted++
	}
	if evicted > 0 {
		evictCapacity.Add(float64(evicted))
	}
	m.entries[key] = m.order.PushFront(e)
	return nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	e := elem.Value.(*memoryEntry)
	if e.expired(m.now()) {
		m.removeLocked(elem)
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Len returns the number of entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for elem := m.order.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*memoryEntry).expired(now) {
			m.removeLocked(elem)
			n++
		}
		elem = prev
	}
	return n
}

func (m *Memory) removeLocked(elem *list.Element) {
	delete(m.entries, elem.Value.(*memoryEntry).key)
	m.order.Remove(elem)
}

// Close stops the janitor. It is safe to call more than once.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.doneCh
	return nil
}

func (m *Memory) janitor(interval time.Duration) {
	defer close(m.doneCh)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				evictExpired.Add(float64(n))
			}
		}
	}
}
