// Package cache keeps collected snapshots for a short time so they can be
// fetched after the response that produced them has been sent.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for keys that were never stored or have expired.
var ErrNotFound = errors.New("cache: not found")

// Store is a byte-oriented key value store with per-entry expiry.
type Store interface {
	// Set stores value under key. A ttl <= 0 keeps the entry until overwritten.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}
