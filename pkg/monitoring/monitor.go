package monitoring

import (
	"strconv"
	"sync"
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

	// 按题型与评分方式统计的单题评分次数
	QuestionsGraded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grading_questions_total",
			Help: "Number of graded questions by type and grading method",
		},
		[]string{"type", "method"},
	)

	GradingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grading_attempt_duration_seconds",
			Help:    "Time spent grading a whole attempt",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"operation"},
	)

	GradingFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grading_failures_total",
			Help: "Attempt level grading failures",
		},
		[]string{"operation", "reason"},
	)

	AIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_provider_requests_total",
			Help: "Requests sent to AI providers by outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			QuestionsGraded,
			GradingDuration,
			GradingFailures,
			AIRequests,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

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

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
