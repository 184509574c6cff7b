package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
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
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	AnalysisOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speech_analysis_total",
			Help: "Outcomes of speech analysis tasks",
		},
		[]string{"mode", "outcome"}, // mode: blocking|background|settle|backfill
	)

	AnalysisRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "speech_analysis_retries_total",
			Help: "Retries of failed speech analysis tasks",
		},
	)

	SettleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speech_settle_duration_seconds",
			Help:    "Duration of settle-before-submit passes",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30},
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(AnalysisOutcomes)
	prometheus.MustRegister(AnalysisRetries)
	prometheus.MustRegister(SettleDuration)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
