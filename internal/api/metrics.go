package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	latency          *prometheus.HistogramVec
	rateLimited      *prometheus.CounterVec
	jobsCreated      *prometheus.CounterVec
	variantsPerJob   prometheus.Histogram
	policyRejections *prometheus.CounterVec
	jobsEnqueued     *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelnorm",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "pixelnorm",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelnorm",
			Subsystem: "api",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the token bucket.",
		}, []string{"route"}),
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelnorm",
			Subsystem: "api",
			Name:      "jobs_created_total",
			Help:      "Jobs created by source type.",
		}, []string{"source_type"}),
		variantsPerJob: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pixelnorm",
			Subsystem: "api",
			Name:      "variants_per_job",
			Help:      "Number of variants requested per job.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13},
		}),
		policyRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelnorm",
			Subsystem: "api",
			Name:      "policy_rejections_total",
			Help:      "Job requests rejected for an invalid policy, by field.",
		}, []string{"field"}),
		jobsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pixelnorm",
			Subsystem: "queue",
			Name:      "jobs_enqueued_total",
			Help:      "Jobs handed to the normalize queue.",
		}, []string{"queue"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.latency,
		m.rateLimited,
		m.jobsCreated,
		m.variantsPerJob,
		m.policyRejections,
		m.jobsEnqueued,
	)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *metrics) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)
		next.ServeHTTP(rec, r)

		route := routeLabel(r.URL.Path)
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *metrics) jobCreated(sourceType string, variants int) {
	m.jobsCreated.WithLabelValues(sourceType).Inc()
	m.variantsPerJob.Observe(float64(variants))
}
