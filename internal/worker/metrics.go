package worker

import (
	"net/http"
	"time"

	"github.com/dunamismax/pixelnorm/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pixelnorm"

type metrics struct {
	registry *prometheus.Registry

	jobs       *prometheus.CounterVec
	jobSeconds *prometheus.HistogramVec
	active     prometheus.Gauge
	variants   *prometheus.CounterVec
	warnings   prometheus.Counter
	webhooks   *prometheus.CounterVec

	pixels      prometheus.Counter
	bytesSaved  prometheus.Counter
	computeTime prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "jobs_total",
			Help: "Finished normalize tasks by source type and status.",
		}, []string{"source_type", "status"}),
		jobSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "worker", Name: "job_duration_seconds",
			Help:    "Wall time of a normalize task including fetch and emit.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source_type", "status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "active_jobs",
			Help: "Tasks currently holding a pipeline slot.",
		}),
		variants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "variants_total",
			Help: "Artifacts emitted by output format.",
		}, []string{"format"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "artifact_warnings_total",
			Help: "Warnings attached to emitted artifacts, such as a skipped ICC conversion.",
		}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "webhooks_total",
			Help: "Webhook deliveries by event and result.",
		}, []string{"event", "result"}),
		pixels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "usage", Name: "pixels_processed_total",
			Help: "Output pixels written by successful jobs.",
		}),
		bytesSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "usage", Name: "bytes_saved_total",
			Help: "Bytes saved by successful jobs.",
		}),
		computeTime: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "usage", Name: "compute_seconds_total",
			Help: "Compute time billed to successful jobs.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobs, m.jobSeconds, m.active, m.variants, m.warnings, m.webhooks,
		m.pixels, m.bytesSaved, m.computeTime,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *metrics) jobFinished(sourceType, status string, took time.Duration) {
	m.jobs.WithLabelValues(sourceType, status).Inc()
	m.jobSeconds.WithLabelValues(sourceType, status).Observe(took.Seconds())
}

func (m *metrics) outputsEmitted(outputs []domain.VariantOutput) {
	for _, out := range outputs {
		m.variants.WithLabelValues(out.Format).Inc()
		m.warnings.Add(float64(len(out.Warnings)))
	}
}

func (m *metrics) webhookSent(event string, err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.webhooks.WithLabelValues(event, result).Inc()
}

func (m *metrics) usageRecorded(usage domain.UsageLog) {
	m.pixels.Add(float64(usage.PixelsProcessed))
	m.bytesSaved.Add(float64(usage.BytesSaved))
	m.computeTime.Add(float64(usage.ComputeTimeMS) / 1000)
}
