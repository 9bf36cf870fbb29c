// Package metrics exposes prometheus collectors for the answer engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	requests      *prometheus.CounterVec
	selections    *prometheus.CounterVec
	fallbacks     prometheus.Counter
	emails        prometheus.Counter
	latency       prometheus.Histogram
	corpusEntries prometheus.Gauge
	rebuilds      prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doran",
			Name:      "chat_requests_total",
			Help:      "Chat requests by classified intent.",
		}, []string{"intent"}),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "doran",
			Name:      "selections_total",
			Help:      "Selected candidates by match type.",
		}, []string{"match_type"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "doran",
			Name:      "fallbacks_total",
			Help:      "Requests answered with a fallback message.",
		}),
		emails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "doran",
			Name:      "email_answers_total",
			Help:      "Requests answered from the email directory.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "doran",
			Name:      "respond_duration_seconds",
			Help:      "Time spent answering one chat request.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		corpusEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "doran",
			Name:      "corpus_entries",
			Help:      "Question variants in the current corpus snapshot.",
		}),
		rebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "doran",
			Name:      "corpus_rebuilds_total",
			Help:      "Corpus index rebuilds.",
		}),
	}
	m.Registry.MustRegister(m.requests, m.selections, m.fallbacks, m.emails, m.latency, m.corpusEntries, m.rebuilds)
	return m
}

func (m *Metrics) ObserveRequest(intent string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(intent).Inc()
	m.latency.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveSelection(matchType string) {
	if m == nil {
		return
	}
	m.selections.WithLabelValues(matchType).Inc()
}

func (m *Metrics) ObserveFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}

func (m *Metrics) ObserveEmail() {
	if m == nil {
		return
	}
	m.emails.Inc()
}

func (m *Metrics) ObserveRebuild(entries int) {
	if m == nil {
		return
	}
	m.rebuilds.Inc()
	m.corpusEntries.Set(float64(entries))
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
