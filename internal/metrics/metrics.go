// Package metrics exposes Prometheus collectors for the catalogue engine and
// the reference server. A nil *Metrics is valid and records nothing, so
// instrumentation stays optional for library consumers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	SearchesTotal      prometheus.Counter
	SearchesSuperseded prometheus.Counter
	SearchErrorsTotal  prometheus.Counter

	FacetLoadsTotal *prometheus.CounterVec

	EditSavesTotal   *prometheus.CounterVec
	AuthRetriesTotal prometheus.Counter

	DownloadsTotal prometheus.Counter
}

// New creates the collector set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fccsearch_http_requests_total",
			Help: "HTTP requests served by the reference catalogue server.",
		}, []string{"route", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fccsearch_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		SearchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fccsearch_searches_total",
			Help: "Search fetches issued by the engine.",
		}),
		SearchesSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Name: "fccsearch_searches_superseded_total",
			Help: "In-flight search fetches cancelled by a newer one.",
		}),
		SearchErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fccsearch_search_errors_total",
			Help: "Search fetches that ended in an error.",
		}),
		FacetLoadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fccsearch_facet_loads_total",
			Help: "Facet option loads by facet type and outcome.",
		}, []string{"facet", "outcome"}),
		EditSavesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fccsearch_edit_saves_total",
			Help: "Metadata save attempts by outcome.",
		}, []string{"outcome"}),
		AuthRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fccsearch_auth_retries_total",
			Help: "Saves re-attempted after a login-success broadcast.",
		}),
		DownloadsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fccsearch_downloads_total",
			Help: "Bulk downloads written.",
		}),
	}
}

// Handler serves the /metrics endpoint for this collector set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Search-side helpers; all nil-safe.

func (m *Metrics) SearchIssued() {
	if m != nil {
		m.SearchesTotal.Inc()
	}
}

func (m *Metrics) SearchSuperseded() {
	if m != nil {
		m.SearchesSuperseded.Inc()
	}
}

func (m *Metrics) SearchFailed() {
	if m != nil {
		m.SearchErrorsTotal.Inc()
	}
}

func (m *Metrics) FacetLoad(facet, outcome string) {
	if m != nil {
		m.FacetLoadsTotal.WithLabelValues(facet, outcome).Inc()
	}
}

func (m *Metrics) EditSave(outcome string) {
	if m != nil {
		m.EditSavesTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) AuthRetry() {
	if m != nil {
		m.AuthRetriesTotal.Inc()
	}
}

func (m *Metrics) Download() {
	if m != nil {
		m.DownloadsTotal.Inc()
	}
}

func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, httpCode(code)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func httpCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
