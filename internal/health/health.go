// Package health serves liveness and readiness probes for the toolbar host.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the health status of a component.
type Status string

const (
	StatusUp   Status = "up"
	StatusDown Status = "down"
)

// DefaultCheckTimeout bounds a single readiness check.
const DefaultCheckTimeout = 2 * time.Second

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the JSON body returned by health endpoints.
type Response struct {
	Status     Status                    `json:"status"`
	Components map[string]ComponentCheck `json:"components,omitempty"`
	Timestamp  string                    `json:"timestamp"`
}

// CheckFunc returns nil if the component is healthy, or an error describing the issue.
// ctx expires after the checker's timeout.
type CheckFunc func(ctx context.Context) error

// Checker provides liveness and readiness probes.
// Components such as the snapshot store and the demo database register themselves.
type Checker struct {
	mu              sync.RWMutex
	readinessChecks map[string]CheckFunc
	timeout         time.Duration
	shuttingDown    atomic.Bool
}

// New creates a Checker. A non-positive timeout selects DefaultCheckTimeout.
func New(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checker{
		readinessChecks: make(map[string]CheckFunc),
		timeout:         timeout,
	}
}

// RegisterReadiness registers a named readiness check, replacing any with the same name.
func (c *Checker) RegisterReadiness(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readinessChecks[name] = check
}

// SetShuttingDown marks the instance as shutting down.
// After this, both /live and /ready return 503.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// LiveHandler returns an http.HandlerFunc for the /live endpoint.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			writeShuttingDown(w)
			return
		}
		writeJSON(w, http.StatusOK, Response{Status: StatusUp, Timestamp: now()})
	}
}

// ReadyHandler returns an http.HandlerFunc for the /ready endpoint.
// Registered checks run concurrently; any failure yields 503.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.shuttingDown.Load() {
			writeShuttingDown(w)
			return
		}

		components := c.Check(r.Context())
		overall := StatusUp
		for _, cc := range components {
			if cc.Status == StatusDown {
				overall = StatusDown
				break
			}
		}

		code := http.StatusOK
		if overall == StatusDown {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, Response{Status: overall, Components: components, Timestamp: now()})
	}
}

// Check runs every readiness check and returns per-component results.
func (c *Checker) Check(ctx context.Context) map[string]ComponentCheck {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.readinessChecks))
	for k, v := range c.readinessChecks {
		checks[k] = v
	}
	c.mu.RUnlock()

	var mu sync.Mutex
	components := make(map[string]ComponentCheck, len(checks))

	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			result := ComponentCheck{Status: StatusUp}
			if err := check(cctx); err != nil {
				result = ComponentCheck{Status: StatusDown, Message: err.Error()}
			}
			mu.Lock()
			components[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return components
}

func writeShuttingDown(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, Response{
		Status:    StatusDown,
		Timestamp: now(),
		Components: map[string]ComponentCheck{
			"process": {Status: StatusDown, Message: "shutting down"},
		},
	})
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

func writeJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
