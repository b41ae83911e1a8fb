package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns an isolated Prometheus registry with the pipeline collectors.
// All record methods are safe to call on a nil *Metrics.
type Metrics struct {
	Registry *prometheus.Registry

	inflight      prometheus.Gauge
	batches       *prometheus.CounterVec
	embedDuration prometheus.Histogram
	chunks        *prometheus.CounterVec
	sources       *prometheus.CounterVec
}

// New creates the registry, wraps every collector with a constant
// service label and registers the Go and process collectors.
func New(serviceName string) *Metrics {
	registry := prometheus.NewRegistry()
	reg := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, registry)

	m := &Metrics{
		Registry: registry,
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_inflight_batches",
			Help: "Embedding batches currently holding a slot of the concurrency window",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_batches_total",
			Help: "Embedding batches processed, by outcome",
		}, []string{"status"}),
		embedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_embed_duration_seconds",
			Help:    "Latency of embedding calls",
			Buckets: prometheus.DefBuckets,
		}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_chunks_total",
			Help: "Chunks produced, by chunker",
		}, []string{"chunker"}),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_sources_total",
			Help: "Sources processed, by outcome",
		}, []string{"status"}),
	}

	reg.MustRegister(m.inflight, m.batches, m.embedDuration, m.chunks, m.sources)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) SlotAcquired() {
	if m == nil {
		return
	}
	m.inflight.Inc()
}

func (m *Metrics) SlotReleased() {
	if m == nil {
		return
	}
	m.inflight.Dec()
}

// ObserveBatch records one embedding call and its outcome.
func (m *Metrics) ObserveBatch(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.embedDuration.Observe(d.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.batches.WithLabelValues(status).Inc()
}

func (m *Metrics) AddChunks(chunker string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunks.WithLabelValues(chunker).Add(float64(n))
}

func (m *Metrics) SourceDone(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.sources.WithLabelValues(status).Inc()
}
