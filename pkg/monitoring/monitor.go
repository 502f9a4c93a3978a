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

	AnalysisTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quizmark_analysis_transitions_total",
			Help: "Analysis lifecycle transitions by target status",
		},
		[]string{"to"},
	)

	ToolchainDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quizmark_toolchain_duration_seconds",
			Help:    "Duration of external toolchain steps",
			Buckets: []float64{0.5, 1, 5, 15, 60, 180, 600},
		},
		[]string{"step", "outcome"},
	)

	OverridesApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quizmark_overrides_applied_total",
			Help: "Checkbox overrides persisted",
		},
	)

	AssociationInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quizmark_association_invalidations_total",
			Help: "Students whose annotated copies were invalidated after an identity correction",
		},
	)

	StatusSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quizmark_status_subscribers",
			Help: "Open analysis status streams on this instance",
		},
	)
)

var initOnce sync.Once

// Init 可重复调用，只注册一次
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			AnalysisTransitions,
			ToolchainDuration,
			OverridesApplied,
			AssociationInvalidations,
			StatusSubscribers,
		)
	})
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
