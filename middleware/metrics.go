package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	ordersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders placed at checkout",
		},
	)

	webhookCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_callbacks_total",
			Help: "Payment provider callbacks by provider and status class",
		},
		[]string{"provider", "class"},
	)

	webhookAmountMismatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_amount_mismatch_total",
			Help: "Callbacks whose amount or currency differs from the stored order",
		},
		[]string{"provider"},
	)

	notificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Operator notifications by delivery result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(ordersCreatedTotal)
	prometheus.MustRegister(webhookCallbacksTotal)
	prometheus.MustRegister(webhookAmountMismatchTotal)
	prometheus.MustRegister(notificationsSentTotal)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordOrderCreated() {
	ordersCreatedTotal.Inc()
}

// RecordWebhookCallback counts a callback; class is "rejected" when it never
// reached the reconciler.
func RecordWebhookCallback(provider, class string) {
	webhookCallbacksTotal.WithLabelValues(provider, class).Inc()
}

func RecordAmountMismatch(provider string) {
	webhookAmountMismatchTotal.WithLabelValues(provider).Inc()
}

func RecordNotification(result string) {
	notificationsSentTotal.WithLabelValues(result).Inc()
}
