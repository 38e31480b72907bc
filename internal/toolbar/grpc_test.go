package toolbar

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/szibis/request-toolbar/internal/collector"
	"github.com/szibis/request-toolbar/internal/observer"
)

func TestUnaryServerInterceptor(t *testing.T) {
	tb, sc := newTestToolbar(t, Options{})
	intercept := tb.UnaryServerInterceptor()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-toolbar-correlation-id", "rpc-1", "user-agent", "grpc-go"))
	ctx = peer.NewContext(ctx, &peer.Peer{Addr: &net.TCPAddr{IP: net.IPv4(10, 1, 2, 3), Port: 5000}})
	info := &grpc.UnaryServerInfo{FullMethod: "/shop.v1.Users/Get"}

	resp, err := intercept(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
		if FromContext(ctx) == nil {
			t.Error("handler context has no scope")
		}
		observer.FromContext(ctx).Queries.Record(observer.QueryEvent{SQL: "select 1", Connection: "default", Driver: "postgres"})
		return wrapperspb.String("hello"), nil
	})
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if resp.(*wrapperspb.StringValue).GetValue() != "hello" {
		t.Errorf("resp = %v", resp)
	}

	raw, err := sc.Get(context.Background(), "rpc-1")
	if err != nil {
		t.Fatalf("snapshot not cached: %v", err)
	}
	var snap struct {
		Request  collector.RequestData `json:"request"`
		Response struct {
			StatusCode int `json:"status_code"`
			Size       struct {
				Value float64 `json:"value"`
			} `json:"size"`
		} `json:"response"`
		Queries collector.QueriesData `json:"queries"`
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Request.URI != "/shop.v1.Users/Get" || snap.Request.IPAddress != "10.1.2.3" || snap.Request.Protocol != "grpc" {
		t.Errorf("request = %+v", snap.Request)
	}
	if snap.Response.StatusCode != int(codes.OK) || snap.Response.Size.Value <= 0 {
		t.Errorf("response = %+v", snap.Response)
	}
	if len(snap.Queries.Queries) != 1 {
		t.Errorf("queries = %+v", snap.Queries.Queries)
	}
}

func TestUnaryServerInterceptor_Error(t *testing.T) {
	tb, sc := newTestToolbar(t, Options{})
	intercept := tb.UnaryServerInterceptor()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-toolbar-correlation-id", "rpc-err"))
	_, err := intercept(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/shop.v1.Users/Get"}, func(context.Context, any) (any, error) {
		return nil, status.Error(codes.NotFound, "no such user")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("err = %v, want NotFound passed through", err)
	}

	raw, err := sc.Get(context.Background(), "rpc-err")
	if err != nil {
		t.Fatalf("snapshot not cached: %v", err)
	}
	var snap struct {
		Response struct {
			StatusCode int `json:"status_code"`
		} `json:"response"`
	}
	_ = json.Unmarshal(raw, &snap)
	if snap.Response.StatusCode != int(codes.NotFound) {
		t.Errorf("status code = %d, want %d", snap.Response.StatusCode, codes.NotFound)
	}
}

func TestUnaryServerInterceptor_Ignored(t *testing.T) {
	tb, _ := newTestToolbar(t, Options{IgnorePaths: []string{"/grpc.health.v1.Health/"}})
	intercept := tb.UnaryServerInterceptor()

	_, _ = intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, func(ctx context.Context, _ any) (any, error) {
		if FromContext(ctx) != nil {
			t.Error("ignored method was profiled")
		}
		return nil, nil
	})
}
