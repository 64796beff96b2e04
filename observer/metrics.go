package observer

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isdmx/codecrate/executor"
)

const namespace = "codecrate"

// UnsupportedLabel replaces the language label of requests for ids that are
// not registered, so arbitrary client input never becomes a label value.
const UnsupportedLabel = "unsupported"

// Metrics records execution counts and durations in a private Prometheus
// registry.
type Metrics struct {
	registry   *prometheus.Registry
	executions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ executor.Observer = (*Metrics)(nil)

// NewMetrics creates the collectors and registers them together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executions by language and outcome.",
		}, []string{"language", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of an execution including provisioning.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"language"}),
	}

	m.registry.MustRegister(
		m.executions,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveExecution implements executor.Observer.
func (m *Metrics) ObserveExecution(ev executor.Event) {
	lang := ev.Language
	if ev.Outcome.Kind() == executor.KindUnsupportedLanguage {
		lang = UnsupportedLabel
	}

	m.executions.WithLabelValues(lang, string(ev.Outcome.Kind())).Inc()
	m.duration.WithLabelValues(lang).Observe(ev.Duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
