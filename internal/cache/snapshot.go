package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// KeyPrefix namespaces snapshot entries in a shared store.
	KeyPrefix = "request-toolbar-request-data-"
	// DefaultTTL is how long a snapshot stays retrievable.
	DefaultTTL = 30 * time.Second
)

// Key returns the store key of the snapshot with the given id.
func Key(id string) string {
	return KeyPrefix + id
}

// SnapshotCache stores snapshots as encoded JSON.
type SnapshotCache struct {
	store Store
	codec Codec
	ttl   time.Duration
}

// NewSnapshotCache wraps store. A zero ttl selects DefaultTTL and an empty codec zstd.
func NewSnapshotCache(store Store, codec Codec, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if codec == "" {
		codec = CodecZstd
	}
	return &SnapshotCache{store: store, codec: codec, ttl: ttl}
}

// TTL returns the lifetime of stored snapshots.
func (c *SnapshotCache) TTL() time.Duration { return c.ttl }

// Store returns the underlying store.
func (c *SnapshotCache) Store() Store { return c.store }

// Put encodes snapshot as JSON and stores it under id, replacing any previous entry.
func (c *SnapshotCache) Put(ctx context.Context, id string, snapshot any) error {
	if id == "" {
		putError.Inc()
		return errors.New("cache: empty snapshot id")
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		putError.Inc()
		return fmt.Errorf("cache: encode snapshot %s: %w", id, err)
	}
	data, err := c.codec.Encode(raw)
	if err != nil {
		putError.Inc()
		return fmt.Errorf("cache: compress snapshot %s: %w", id, err)
	}
	if err := c.store.Set(ctx, Key(id), data, c.ttl); err != nil {
		putError.Inc()
		return err
	}
	putOK.Inc()
	cacheStoredBytes.Add(float64(len(data)))
	return nil
}

// Get returns the JSON of the snapshot stored under id, or ErrNotFound.
func (c *SnapshotCache) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := c.store.Get(ctx, Key(id))
	switch {
	case errors.Is(err, ErrNotFound):
		getMiss.Inc()
		return nil, ErrNotFound
	case err != nil:
		getError.Inc()
		return nil, err
	}
	raw, err := c.codec.Decode(data)
	if err != nil {
		getError.Inc()
		return nil, fmt.Errorf("cache: decompress snapshot %s: %w", id, err)
	}
	getHit.Inc()
	return raw, nil
}

// Ping reports whether a remote store is reachable. Local stores always are.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	if p, ok := c.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
