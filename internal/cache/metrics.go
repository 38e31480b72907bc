package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	cacheOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_cache_operations_total",
		Help: "Snapshot cache operations by operation and result",
	}, []string{"operation", "result"})

	cacheStoredBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "request_toolbar_cache_stored_bytes_total",
		Help: "Encoded snapshot bytes written to the cache",
	})

	cacheEvictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_cache_evictions_total",
		Help: "Entries removed from the memory cache by reason",
	}, []string{"reason"})

	putOK    prometheus.Counter
	putError prometheus.Counter
	getHit   prometheus.Counter
	getMiss  prometheus.Counter
	getError prometheus.Counter

	evictExpired  prometheus.Counter
	evictCapacity prometheus.Counter
)

func init() {
	prometheus.MustRegister(cacheOperations, cacheStoredBytes, cacheEvictions)

	putOK = cacheOperations.WithLabelValues("put", "ok")
	putError = cacheOperations.WithLabelValues("put", "error")
	getHit = cacheOperations.WithLabelValues("get", "hit")
	getMiss = cacheOperations.WithLabelValues("get", "miss")
	getError = cacheOperations.WithLabelValues("get", "error")

	evictExpired = cacheEvictions.WithLabelValues("expired")
	evictCapacity = cacheEvictions.WithLabelValues("capacity")
}
