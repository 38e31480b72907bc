package observer

import "github.com/prometheus/client_golang/prometheus"

var (
	queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_queries_total",
		Help: "Database statements observed, by connection",
	}, []string{"connection"})

	slowQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "request_toolbar_slow_queries_total",
		Help: "Observed statements at or above the slow threshold",
	})

	duplicateQueriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "request_toolbar_duplicate_queries_total",
		Help: "Observed statements whose raw SQL was already seen in the same request",
	})

	newQueryShapesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "request_toolbar_new_query_shapes_total",
		Help: "Observed statements whose raw SQL had not been seen by the process before",
	})

	queryShapesEstimate = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "request_toolbar_query_shapes_estimate",
		Help: "Estimated distinct raw SQL shapes observed by the process",
	}, func() float64 { return float64(defaultShapes.Estimate()) })

	modelsHydratedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_models_hydrated_total",
		Help: "Model instances hydrated from query results, by model",
	}, []string{"model"})
)

func init() {
	prometheus.MustRegister(queriesTotal, slowQueriesTotal, duplicateQueriesTotal, newQueryShapesTotal, queryShapesEstimate, modelsHydratedTotal)
}

func recordQueryMetrics(q Query) {
	conn := q.Connection
	if conn == "" {
		conn = "default"
	}
	queriesTotal.WithLabelValues(conn).Inc()
	if q.IsSlow {
		slowQueriesTotal.Inc()
	}
	if q.IsDuplicate {
		duplicateQueriesTotal.Inc()
	}
	if q.NewShape {
		newQueryShapesTotal.Inc()
	}
}
