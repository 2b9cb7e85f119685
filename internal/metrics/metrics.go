// Package metrics exposes Prometheus collectors for the session engine and
// the HTTP layer.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_submissions_total",
			Help: "Graded submissions by trigger",
		},
		[]string{"reason"},
	)

	SubmitRacesIgnored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_submit_races_ignored_total",
			Help: "Submit triggers that lost the race to an earlier trigger",
		},
	)

	GradingFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_grading_failures_total",
			Help: "Submissions aborted by a grading invariant or storage failure",
		},
	)

	SyncPushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_sync_pushes_total",
			Help: "Periodic session snapshot pushes by outcome",
		},
		[]string{"outcome"},
	)

	ViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exam_violations_total",
			Help: "Anti-cheat violations reported by clients",
		},
		[]string{"type"},
	)

	RankingDemotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exam_ranking_demotions_total",
			Help: "Sessions that lost ranking eligibility",
		},
	)

	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exam_live_sessions",
			Help: "Sessions currently held in memory",
		},
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "PostgreSQL query latency by outcome",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"outcome"},
	)

	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		SubmissionsTotal,
		SubmitRacesIgnored,
		GradingFailures,
		SyncPushes,
		ViolationsTotal,
		RankingDemotions,
		LiveSessions,
		DBQueryDuration,
		RequestCounter,
		RequestDuration,
	)
}

// Middleware records request counts and latencies.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Raw paths would give every exam id its own series.
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
