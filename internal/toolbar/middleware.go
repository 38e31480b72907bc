package toolbar

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/szibis/request-toolbar/internal/collector"
	"github.com/szibis/request-toolbar/internal/profiler"
)

// Middleware profiles every request that is not under an ignored prefix. It
// should wrap the whole handler chain: it records BeforeMiddleware before
// calling next and AfterMiddleware once next returns, then collects the snapshot.
func (tb *Toolbar) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tb.ignored(r.URL.Path) {
			requestsIgnored.WithLabelValues(transportHTTP).Inc()
			next.ServeHTTP(w, r)
			return
		}

		s := tb.begin(time.Now(), r.Header.Get(tb.correlationHeader), requestView(r))
		w.Header().Set(IDHeader, s.CacheID())

		rec := &responseRecorder{ResponseWriter: w}
		s.Ledger.Record(profiler.BeforeMiddleware)
		next.ServeHTTP(rec, r.WithContext(NewContext(r.Context(), s)))
		s.Ledger.Record(profiler.AfterMiddleware)

		s.setResponse(rec.view())
		tb.finish(context.WithoutCancel(r.Context()), s, transportHTTP)
	})
}

// Controller wraps the handler of one route. It records BeforeController unless
// the handler chain already did and AfterViewRendering if no view recorded it.
func Controller(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := FromContext(r.Context())
		if s == nil {
			h.ServeHTTP(w, r)
			return
		}
		SetRoute(r.Context(), r.Pattern, name)
		recordIfAbsent(s.Ledger, profiler.BeforeController)
		h.ServeHTTP(w, r)
		recordIfAbsent(s.Ledger, profiler.AfterViewRendering)
	})
}

// Router records BeforeRouting and AfterRouting around route matching and names
// the matched pattern as the request's route.
func Router(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := FromContext(r.Context())
		if s == nil {
			mux.ServeHTTP(w, r)
			return
		}
		s.Ledger.Record(profiler.BeforeRouting)
		_, pattern := mux.Handler(r)
		s.Ledger.Record(profiler.AfterRouting)
		SetRoute(r.Context(), pattern, "")
		mux.ServeHTTP(w, r)
	})
}

func requestView(r *http.Request) *collector.Request {
	return &collector.Request{
		Method:     r.Method,
		URI:        r.URL.RequestURI(),
		RemoteAddr: clientIP(r.RemoteAddr),
		Protocol:   r.Proto,
		Middleware: []string{},
		Header:     r.Header.Clone(),
	}
}

func clientIP(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// responseRecorder captures the status and size of a response.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	size        int64
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.size += int64(n)
	return n, err
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *responseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := r.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("toolbar: response writer does not support hijacking")
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *responseRecorder) view() *collector.Response {
	status := r.status
	if !r.wroteHeader {
		status = http.StatusOK
	}
	return &collector.Response{
		StatusCode: status,
		Header:     r.Header().Clone(),
		Size:       r.size,
	}
}
