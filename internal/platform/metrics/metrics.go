package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the streaming service.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	streamsCreatedTotal  prometheus.Counter
	streamsReadyTotal    prometheus.Counter
	chunksCompletedTotal prometheus.Counter
	chunksFailedTotal    prometheus.Counter
	activeStreams        prometheus.Gauge
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiocast_requests_total",
		Help: "Total number of HTTP requests received",
	})
	streamsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiocast_streams_created_total",
		Help: "Total number of streams created",
	})
	streamsReadyTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiocast_streams_ready_total",
		Help: "Total number of streams sealed as VOD",
	})
	chunksCompletedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiocast_chunks_completed_total",
		Help: "Total number of chunks completed",
	})
	chunksFailedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiocast_chunks_failed_total",
		Help: "Total number of chunks that failed synthesis",
	})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "audiocast_active_streams",
		Help: "Number of streams still processing",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "audiocast_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})

	registry.MustRegister(
		requestsTotal,
		streamsCreatedTotal,
		streamsReadyTotal,
		chunksCompletedTotal,
		chunksFailedTotal,
		activeStreams,
		errorsTotal,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		streamsCreatedTotal:  streamsCreatedTotal,
		streamsReadyTotal:    streamsReadyTotal,
		chunksCompletedTotal: chunksCompletedTotal,
		chunksFailedTotal:    chunksFailedTotal,
		activeStreams:        activeStreams,
		errorsTotal:          errorsTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncStreamsCreated increments the streams created counter.
func (m *Metrics) IncStreamsCreated() {
	m.streamsCreatedTotal.Inc()
}

// IncStreamsReady increments the sealed streams counter.
func (m *Metrics) IncStreamsReady() {
	m.streamsReadyTotal.Inc()
}

// IncChunksCompleted increments the completed chunks counter.
func (m *Metrics) IncChunksCompleted() {
	m.chunksCompletedTotal.Inc()
}

// IncChunksFailed increments the failed chunks counter.
func (m *Metrics) IncChunksFailed() {
	m.chunksFailedTotal.Inc()
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges runs before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
