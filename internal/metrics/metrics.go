// Package metrics exposes the prometheus collectors of the service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brandviz"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	llmCallDuration *prometheus.HistogramVec
	llmCallErrors   *prometheus.CounterVec
	analyses        *prometheus.CounterVec
	steps           *prometheus.CounterVec
	creditsDebited  prometheus.Counter
	creditsRefunded prometheus.Counter
	httpRequests    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		llmCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_call_duration_seconds",
			Help:      "Latency of assistant calls by provider.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}, []string{"provider"}),
		llmCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_call_errors_total",
			Help:      "Failed assistant calls by provider.",
		}, []string{"provider"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Analyses by lifecycle event (started, completed, failed, cancelled).",
		}, []string{"event"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_steps_total",
			Help:      "Model and stage combinations processed by outcome.",
		}, []string{"model", "outcome"}),
		creditsDebited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_debited_total",
			Help:      "Credits charged for analyses.",
		}),
		creditsRefunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_refunded_total",
			Help:      "Credits returned for failed or cancelled work.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route pattern and status class.",
		}, []string{"route", "status"}),
	}

	reg.MustRegister(m.llmCallDuration, m.llmCallErrors, m.analyses, m.steps,
		m.creditsDebited, m.creditsRefunded, m.httpRequests)
	return m
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveLLMCall(provider string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.llmCallDuration.WithLabelValues(provider).Observe(d.Seconds())
	if err != nil {
		m.llmCallErrors.WithLabelValues(provider).Inc()
	}
}

func (m *Metrics) AnalysisEvent(event string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(event).Inc()
}

func (m *Metrics) StepProcessed(model, outcome string) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) CreditsDebited(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsDebited.Add(amount)
}

func (m *Metrics) CreditsRefunded(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.creditsRefunded.Add(amount)
}

func (m *Metrics) HTTPRequest(route string, status int) {
	if m == nil {
		return
	}
	class := "5xx"
	switch {
	case status < 300:
		class = "2xx"
	case status < 400:
		class = "3xx"
	case status < 500:
		class = "4xx"
	}
	m.httpRequests.WithLabelValues(route, class).Inc()
}
