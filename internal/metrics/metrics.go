package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder increments counters for service events.
type Recorder interface {
	Increment(event string)
}

// NopRecorder discards every event.
type NopRecorder struct{}

// Increment does nothing.
func (NopRecorder) Increment(string) {}

// CounterMetrics implements Recorder with in-memory counts.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// PrometheusRecorder exports events as a labelled Prometheus counter.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

// NewPrometheusRecorder registers the event counter on a dedicated registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tusers_events_total",
		Help: "Identity and profile operations by outcome.",
	}, []string{"event"})
	registry.MustRegister(events)
	return &PrometheusRecorder{registry: registry, events: events}
}

// Increment increases the counter for the given event.
func (recorder *PrometheusRecorder) Increment(event string) {
	recorder.events.WithLabelValues(event).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (recorder *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(recorder.registry, promhttp.HandlerOpts{})
}
