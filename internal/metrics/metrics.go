// Package metrics exposes Prometheus collectors for the grab worker.
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

	"github.com/JakeFAU/fotopedia-grab/internal/item"
)

var (
	grabItemsTotal             *prometheus.CounterVec
	grabStageDurationSeconds   *prometheus.HistogramVec
	grabFetchExitsTotal        *prometheus.CounterVec
	grabContainerBytesTotal    prometheus.Counter
	grabDeliveriesInFlight     prometheus.Gauge
	grabActiveWorkers          prometheus.Gauge
	grabRateLimitDelaysSeconds *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		grabItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grab_items_total",
				Help: "Total number of items finished, labeled by final state and failed stage.",
			},
			[]string{"state", "stage"},
		)

		grabStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grab_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage and result.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600, 3600},
			},
			[]string{"stage", "result"},
		)

		grabFetchExitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "grab_fetch_exits_total",
				Help: "Total number of capture tool exits, labeled by exit code.",
			},
			[]string{"code"},
		)

		grabContainerBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "grab_container_bytes_total",
				Help: "Total size of released WARC containers.",
			},
		)

		grabDeliveriesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "grab_deliveries_in_flight",
				Help: "Number of uploads currently holding a delivery slot.",
			},
		)

		grabActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "grab_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		grabRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "grab_rate_limit_delays_seconds",
				Help:    "Histogram of tracker pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"host"},
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
	})
}

// SanitizeHost extracts a lowercase hostname from a URL or bare host.
// It returns "unknown" if the input is invalid.
func SanitizeHost(rawURL string) string {
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveFetchExit counts one capture tool exit code.
func ObserveFetchExit(code int) {
	grabFetchExitsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// SetDeliveriesInFlight mirrors the delivery gate occupancy.
func SetDeliveriesInFlight(n int) {
	grabDeliveriesInFlight.Set(float64(n))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	grabActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	grabActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	grabRateLimitDelaysSeconds.WithLabelValues(SanitizeHost(host)).Observe(duration.Seconds())
}

// Observer feeds pipeline stage timings and outcomes into the collectors.
type Observer struct{}

// NewObserver initializes the collectors and returns an Observer.
func NewObserver() Observer {
	Init()
	return Observer{}
}

// StageFinished records how long a stage ran and whether it failed.
func (Observer) StageFinished(stage string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	grabStageDurationSeconds.WithLabelValues(stage, result).Observe(elapsed.Seconds())
}

// ItemFinished counts a released or failed item.
func (Observer) ItemFinished(out item.Outcome) {
	grabItemsTotal.WithLabelValues(string(out.State), out.FailedStage).Inc()
	if out.State == item.StateReleased && out.Bytes > 0 {
		grabContainerBytesTotal.Add(float64(out.Bytes))
	}
}
