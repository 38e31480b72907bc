package toolbar

import (
	"context"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/szibis/request-toolbar/internal/collector"
	"github.com/szibis/request-toolbar/internal/profiler"
)

// UnaryServerInterceptor profiles unary RPCs. The correlation id is read from
// incoming metadata and the cache key is returned as a response header.
// The reported status code is the gRPC code.
func (tb *Toolbar) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	idKey := strings.ToLower(IDHeader)
	corrKey := strings.ToLower(tb.correlationHeader)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if tb.ignored(info.FullMethod) {
			requestsIgnored.WithLabelValues(transportGRPC).Inc()
			return handler(ctx, req)
		}

		arrived := time.Now()
		md, _ := metadata.FromIncomingContext(ctx)
		var correlationID string
		if v := md.Get(corrKey); len(v) > 0 {
			correlationID = v[0]
		}

		s := tb.begin(arrived, correlationID, rpcView(ctx, info, md))
		// Fails outside a real server stream; the snapshot is still cached.
		_ = grpc.SetHeader(ctx, metadata.Pairs(idKey, s.CacheID()))

		s.Ledger.Record(profiler.BeforeMiddleware)
		s.Ledger.Record(profiler.BeforeController)
		resp, err := handler(NewContext(ctx, s), req)
		recordIfAbsent(s.Ledger, profiler.AfterViewRendering)
		s.Ledger.Record(profiler.AfterMiddleware)

		view := &collector.Response{StatusCode: int(status.Code(err)), Header: http.Header{}}
		if m, ok := resp.(proto.Message); ok && err == nil {
			view.Size = int64(proto.Size(m))
		}
		s.setResponse(view)
		tb.finish(context.WithoutCancel(ctx), s, transportGRPC)
		return resp, err
	}
}

func rpcView(ctx context.Context, info *grpc.UnaryServerInfo, md metadata.MD) *collector.Request {
	r := &collector.Request{
		Method:     http.MethodPost,
		URI:        info.FullMethod,
		Route:      info.FullMethod,
		Handler:    info.FullMethod,
		Protocol:   "grpc",
		Middleware: []string{},
		Header:     http.Header{},
	}
	for k, v := range md {
		r.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), v...)
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		r.RemoteAddr = clientIP(p.Addr.String())
	}
	return r
}
