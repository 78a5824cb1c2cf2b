// Package metrics exposes Prometheus collectors for the monitor service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	checksTotal                *prometheus.CounterVec
	newRepliesTotal            prometheus.Counter
	notificationsTotal         *prometheus.CounterVec
	archivedPostsTotal         prometheus.Counter
	loginExpiriesTotal         prometheus.Counter
	crawlDurationSeconds       prometheus.Histogram
	rateLimitWaitSeconds       prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngamon_checks_total",
				Help: "Incremental checks performed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		newRepliesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ngamon_new_replies_total",
				Help: "New replies discovered across all targets.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ngamon_notifications_total",
				Help: "Webhook notification attempts, labeled by result.",
			},
			[]string{"result"},
		)

		archivedPostsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ngamon_archived_posts_total",
				Help: "Posts inserted into the archive.",
			},
		)

		loginExpiriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ngamon_login_expiries_total",
				Help: "Crawls aborted because the forum session expired.",
			},
		)

		crawlDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ngamon_crawl_duration_seconds",
				Help:    "Wall time of a single listing crawl.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		)

		rateLimitWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ngamon_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the notification rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCheck records one incremental check with its outcome label.
func ObserveCheck(outcome string, duration time.Duration) {
	Init()
	checksTotal.WithLabelValues(outcome).Inc()
	crawlDurationSeconds.Observe(duration.Seconds())
}

// AddNewReplies bumps the discovered-replies counter.
func AddNewReplies(n int) {
	Init()
	if n > 0 {
		newRepliesTotal.Add(float64(n))
	}
}

// ObserveNotification records one webhook attempt.
func ObserveNotification(success bool) {
	Init()
	result := "success"
	if !success {
		result = "failure"
	}
	notificationsTotal.WithLabelValues(result).Inc()
}

// AddArchivedPosts bumps the archive insert counter.
func AddArchivedPosts(n int) {
	Init()
	if n > 0 {
		archivedPostsTotal.Add(float64(n))
	}
}

// ObserveLoginExpiry counts a crawl aborted on session expiry.
func ObserveLoginExpiry() {
	Init()
	loginExpiriesTotal.Inc()
}

// ObserveRateLimitWait records time spent blocked on the send limiter.
func ObserveRateLimitWait(duration time.Duration) {
	Init()
	rateLimitWaitSeconds.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
