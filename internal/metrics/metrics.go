// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	renderTotal                *prometheus.CounterVec
	renderDurationSeconds      *prometheus.HistogramVec
	redirectsDetectedTotal     prometheus.Counter
	extractionsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	pacingDelaysSeconds        *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		renderTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clscrawler_render_total",
				Help: "Render calls, labeled by mode (raw or schema) and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		renderDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clscrawler_render_duration_seconds",
				Help:    "Histogram of render latencies, labeled by mode.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 15, 30, 60, 90},
			},
			[]string{"mode"},
		)

		redirectsDetectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "clscrawler_homepage_redirects_total",
				Help: "Detail renders that came back as the site homepage.",
			},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clscrawler_extractions_total",
				Help: "Extraction attempts, labeled by strategy and whether the floor was met.",
			},
			[]string{"strategy", "accepted"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		pacingDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clscrawler_pacing_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRender records one render call.
func ObserveRender(mode, outcome string, duration time.Duration) {
	Init()
	renderTotal.WithLabelValues(mode, outcome).Inc()
	renderDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveRedirect counts a detected homepage redirect.
func ObserveRedirect() {
	Init()
	redirectsDetectedTotal.Inc()
}

// ObserveExtraction records whether a strategy's candidate met its floor.
func ObserveExtraction(strategy string, accepted bool) {
	Init()
	extractionsTotal.WithLabelValues(strategy, strconv.FormatBool(accepted)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePacingDelay records the duration of a politeness wait.
func ObservePacingDelay(domain string, duration time.Duration) {
	Init()
	pacingDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
