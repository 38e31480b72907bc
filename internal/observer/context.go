package observer

import (
	"context"

	"github.com/szibis/request-toolbar/internal/profiler"
)

// Observers bundles the per-request observers.
type Observers struct {
	Queries *QueryObserver
	Models  *ModelObserver
}

// New returns fresh observers bound to ledger.
func New(ledger *profiler.Ledger, cfg QueryConfig) *Observers {
	return &Observers{
		Queries: NewQueryObserver(ledger, cfg),
		Models:  NewModelObserver(ledger),
	}
}

// Reset clears both observers.
func (o *Observers) Reset() {
	o.Queries.Reset()
	o.Models.Reset()
}

type ctxKey struct{}

// NewContext returns a context carrying obs.
func NewContext(ctx context.Context, obs *Observers) context.Context {
	return context.WithValue(ctx, ctxKey{}, obs)
}

// FromContext returns the observers carried by ctx, or nil.
func FromContext(ctx context.Context) *Observers {
	if ctx == nil {
		return nil
	}
	obs, _ := ctx.Value(ctxKey{}).(*Observers)
	return obs
}
