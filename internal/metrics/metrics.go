package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lecrec"

// Metrics holds the capture engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	ActiveSessions    prometheus.Gauge
	Sessions          *prometheus.CounterVec
	Polls             *prometheus.CounterVec
	SegmentsCaptured  prometheus.Counter
	SegmentsFailed    prometheus.Counter
	BytesWritten      prometheus.Counter
	SegmentsEvicted   prometheus.Counter
	ScheduledTasks    prometheus.Gauge
	SegmentFetchDelay prometheus.Histogram
}

// New registers a fresh set of collectors on their own registry so several
// instances can coexist in one process (tests, multiple managers).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_sessions",
			Help: "Recording sessions currently polling.",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total",
			Help: "Recording sessions by outcome.",
		}, []string{"result"}),
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "polls_total",
			Help: "Segment list polls by outcome.",
		}, []string{"result"}),
		SegmentsCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "segments_captured_total",
			Help: "Segments appended to output files.",
		}),
		SegmentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "segments_failed_total",
			Help: "Segments skipped after a failed download or write.",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_written_total",
			Help: "Segment bytes appended to output files.",
		}),
		SegmentsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "segment_ids_evicted_total",
			Help: "Segment ids dropped from the deduplication window.",
		}),
		ScheduledTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "scheduled_tasks",
			Help: "Tasks armed for today.",
		}),
		SegmentFetchDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "segment_fetch_seconds",
			Help:    "Time to download one segment.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.ActiveSessions, m.Sessions, m.Polls, m.SegmentsCaptured, m.SegmentsFailed,
		m.BytesWritten, m.SegmentsEvicted, m.ScheduledTasks, m.SegmentFetchDelay,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
