package collector

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	collectorSeconds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_collector_seconds_total",
		Help: "Cumulative seconds spent in each collector",
	}, []string{"collector"})

	snapshotsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_snapshots_total",
		Help: "Collection passes by result",
	}, []string{"result"})

	// Pre-resolved counters avoid a label lookup per collector per request.
	snapshotsOK    prometheus.Counter
	snapshotsError prometheus.Counter
	snapshotsEmpty prometheus.Counter

	collectorCountersMu sync.RWMutex
	collectorCounters   = map[string]prometheus.Counter{}
)

func init() {
	prometheus.MustRegister(collectorSeconds, snapshotsTotal)

	snapshotsOK = snapshotsTotal.WithLabelValues("ok")
	snapshotsError = snapshotsTotal.WithLabelValues("error")
	snapshotsEmpty = snapshotsTotal.WithLabelValues("empty")

	for _, key := range []string{KeyProfiler, KeyRequest, KeyResponse, KeyQueries, KeyModels, KeyRuntime, KeyApp, KeyDependencies} {
		collectorCounters[key] = collectorSeconds.WithLabelValues(key)
	}
}

func recordCollector(key string, d time.Duration) {
	collectorCountersMu.RLock()
	c, ok := collectorCounters[key]
	collectorCountersMu.RUnlock()
	if !ok {
		c = collectorSeconds.WithLabelValues(key)
		collectorCountersMu.Lock()
		collectorCounters[key] = c
		collectorCountersMu.Unlock()
	}
	c.Add(d.Seconds())
}
