package toolbar

import (
	"context"
	"net/http"
	"sync"

	"github.com/szibis/request-toolbar/internal/collector"
	"github.com/szibis/request-toolbar/internal/logging"
	"github.com/szibis/request-toolbar/internal/observer"
	"github.com/szibis/request-toolbar/internal/profiler"
)

// Scope is the per-request profiling state: a ledger, observers and the views
// of the request and response handed to collectors.
type Scope struct {
	ID            string
	CorrelationID string
	Ledger        *profiler.Ledger
	Observers     *observer.Observers

	mu       sync.Mutex
	request  *collector.Request
	response *collector.Response
}

// CacheID is the key the request's snapshot is cached under.
func (s *Scope) CacheID() string {
	if s.CorrelationID != "" {
		return s.CorrelationID
	}
	return s.ID
}

// Request returns a copy of the request view, or nil.
func (s *Scope) Request() *collector.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.request == nil {
		return nil
	}
	r := *s.request
	r.Middleware = append([]string(nil), s.request.Middleware...)
	return &r
}

// Response returns the response view, or nil before the handler finished.
func (s *Scope) Response() *collector.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.response
}

func (s *Scope) setResponse(r *collector.Response) {
	s.mu.Lock()
	s.response = r
	s.mu.Unlock()
}

func (s *Scope) update(fn func(r *collector.Request)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.request == nil {
		s.request = &collector.Request{Header: http.Header{}}
	}
	fn(s.request)
}

type scopeKey struct{}

// NewContext returns a context carrying s, its ledger and its observers.
func NewContext(ctx context.Context, s *Scope) context.Context {
	ctx = context.WithValue(ctx, scopeKey{}, s)
	ctx = profiler.NewContext(ctx, s.Ledger)
	return observer.NewContext(ctx, s.Observers)
}

// FromContext returns the scope carried by ctx, or nil.
func FromContext(ctx context.Context) *Scope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Profile adds a labelled marker to the request's ledger. Outside a profiled
// request it does nothing.
func Profile(ctx context.Context, label string) {
	if l := scopedLedger(ctx, "profile"); l != nil {
		l.Profile(label)
	}
}

// Checkpoint records id now on the request's ledger. It reports false when id
// was already recorded or ctx carries no profiled request.
func Checkpoint(ctx context.Context, id profiler.CheckpointID) bool {
	if l := scopedLedger(ctx, "checkpoint"); l != nil {
		return l.Record(id)
	}
	return false
}

// ViewRendered notes a finished template render.
func ViewRendered(ctx context.Context, name string) {
	if l := scopedLedger(ctx, "view_rendered"); l != nil {
		l.RecordViewRender(name)
	}
}

// scopedLedger returns the ledger of the request carried by ctx, or nil. It
// never returns the process-wide ledger.
func scopedLedger(ctx context.Context, helper string) *profiler.Ledger {
	if s := FromContext(ctx); s != nil && s.Ledger != nil {
		return s.Ledger
	}
	logging.Debug("toolbar helper called outside a profiled request", logging.F("helper", helper))
	return nil
}

// UseMiddleware appends name to the middleware reported for the request.
func UseMiddleware(ctx context.Context, name string) {
	if s := FromContext(ctx); s != nil {
		s.update(func(r *collector.Request) { r.Middleware = append(r.Middleware, name) })
	}
}

// SetRoute names the matched route and the handler serving it.
func SetRoute(ctx context.Context, route, handler string) {
	if s := FromContext(ctx); s != nil {
		s.update(func(r *collector.Request) {
			if route != "" {
				r.Route = route
			}
			if handler != "" {
				r.Handler = handler
			}
		})
	}
}

func recordIfAbsent(l *profiler.Ledger, id profiler.CheckpointID) {
	if _, ok := l.Checkpoint(id); !ok {
		l.Record(id)
	}
}
