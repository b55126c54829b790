// Package metrics exposes Prometheus collectors for the scraper worker.
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
	linksCollectedTotal       prometheus.Counter
	extractionsTotal          *prometheus.CounterVec
	uploadsTotal              *prometheus.CounterVec
	jobsTotal                 *prometheus.CounterVec
	jobDurationSeconds        prometheus.Histogram
	browserRestartsTotal      prometheus.Counter
	imageDownloadsTotal       *prometheus.CounterVec
	navigationRateLimitDelays *prometheus.HistogramVec
	activeJob                 prometheus.Gauge
	httpRequestDuration       *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		linksCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scraper_links_collected_total",
			Help: "Total number of unique listing links collected.",
		})
		extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_extractions_total",
			Help: "Listing extractions, labeled by outcome.",
		}, []string{"outcome"})
		uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_uploads_total",
			Help: "Dedup gate results, labeled by outcome (written, duplicate, failed).",
		}, []string{"outcome"})
		jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_jobs_total",
			Help: "Total number of jobs processed, labeled by status.",
		}, []string{"status"})
		jobDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "scraper_job_duration_seconds",
			Help:    "Histogram of job durations.",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		})
		browserRestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "scraper_browser_restarts_total",
			Help: "Total number of scheduled browser restarts.",
		})
		imageDownloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "scraper_image_downloads_total",
			Help: "Image downloads, labeled by status.",
		}, []string{"status"})
		navigationRateLimitDelays = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_navigation_rate_limit_delays_seconds",
			Help:    "Histogram of navigation rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"domain"})
		activeJob = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "scraper_active_job",
			Help: "1 while the worker is processing a job.",
		})
		httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scraper_http_request_duration_seconds",
			Help:    "Status server request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "code"})
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

// ObserveLinksCollected adds n newly collected links.
func ObserveLinksCollected(n int) {
	Init()
	if n > 0 {
		linksCollectedTotal.Add(float64(n))
	}
}

// ObserveExtraction records an extraction outcome (ok, degraded, failed).
func ObserveExtraction(outcome string) {
	Init()
	extractionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpload records a dedup gate outcome.
func ObserveUpload(outcome string) {
	Init()
	uploadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string, duration time.Duration) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		jobDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveBrowserRestart increments the restart counter.
func ObserveBrowserRestart() {
	Init()
	browserRestartsTotal.Inc()
}

// ObserveImageDownload records an image download result.
func ObserveImageDownload(status string) {
	Init()
	imageDownloadsTotal.WithLabelValues(status).Inc()
}

// ObserveRateLimitDelay records the duration of a navigation rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	navigationRateLimitDelays.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// SetActiveJob flips the active job gauge.
func SetActiveJob(active bool) {
	Init()
	if active {
		activeJob.Set(1)
		return
	}
	activeJob.Set(0)
}

// ObserveHTTPRequest records a status server request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	Init()
	httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
