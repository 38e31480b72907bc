package toolbar

import "github.com/prometheus/client_golang/prometheus"

const (
	transportHTTP = "http"
	transportGRPC = "grpc"
)

var (
	requestsProfiled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_requests_profiled_total",
		Help: "Requests profiled, by transport and collection result",
	}, []string{"transport", "result"})

	requestsIgnored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_requests_ignored_total",
		Help: "Requests skipped because their path matched an ignored prefix",
	}, []string{"transport"})

	snapshotLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_snapshot_lookups_total",
		Help: "Snapshot retrieval requests by HTTP status",
	}, []string{"code"})

	httpOK, httpFailed, grpcOK, grpcFailed prometheus.Counter
)

func init() {
	prometheus.MustRegister(requestsProfiled, requestsIgnored, snapshotLookups)

	httpOK = requestsProfiled.WithLabelValues(transportHTTP, "ok")
	httpFailed = requestsProfiled.WithLabelValues(transportHTTP, "error")
	grpcOK = requestsProfiled.WithLabelValues(transportGRPC, "ok")
	grpcFailed = requestsProfiled.WithLabelValues(transportGRPC, "error")
}

func profiledOK(transport string) prometheus.Counter {
	if transport == transportGRPC {
		return grpcOK
	}
	return httpOK
}

func profiledFailed(transport string) prometheus.Counter {
	if transport == transportGRPC {
		return grpcFailed
	}
	return httpFailed
}
