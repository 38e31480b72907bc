package profiler

import (
	"errors"
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	stageSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_toolbar_stage_seconds",
		Help:    "Wall-clock seconds spent in each derived request stage",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"stage"})

	timelineErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "request_toolbar_timeline_errors_total",
		Help: "Stage derivations that failed, by failure kind",
	}, []string{"kind"})

	stageObservers map[string]prometheus.Observer
)

func init() {
	prometheus.MustRegister(stageSeconds, timelineErrors)

	stageObservers = make(map[string]prometheus.Observer, len(DefaultStages))
	for _, d := range DefaultStages {
		stageObservers[d.Label] = stageSeconds.WithLabelValues(d.Label)
	}
	for _, kind := range []string{string(Gap), string(Overlap), "missing_boundary"} {
		timelineErrors.WithLabelValues(kind).Add(0)
	}
}

// observeStage records a non-negative stage duration. Stages from custom tables
// are ignored so label cardinality stays bounded.
func observeStage(s *Stage) {
	o, ok := stageObservers[s.Label]
	if !ok {
		return
	}
	ms := s.WallTime.Measurement.Value
	if ms < 0 || math.IsNaN(ms) {
		return
	}
	o.Observe(ms / 1e3)
}

func recordTimelineError(err error) {
	var te *TimelineError
	if errors.As(err, &te) {
		timelineErrors.WithLabelValues(string(te.Kind)).Inc()
		return
	}
	timelineErrors.WithLabelValues("missing_boundary").Inc()
}
