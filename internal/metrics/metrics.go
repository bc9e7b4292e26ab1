package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imgstore",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "imgstore",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and method.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	uploadedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "imgstore",
		Name:      "uploaded_bytes_total",
		Help:      "Bytes accepted into item storage.",
	})

	itemTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imgstore",
		Name:      "item_transitions_total",
		Help:      "Item lifecycle transitions.",
	}, []string{"transition"})

	reconcileActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "imgstore",
		Name:      "reconcile_actions_total",
		Help:      "Findings and repairs made by the disk/database reconciler.",
	}, []string{"action"})

	initOnce sync.Once
)

// Item lifecycle transitions recorded by ItemTransition.
const (
	TransitionUpload     = "upload"
	TransitionSoftDelete = "soft_delete"
	TransitionRestore    = "restore"
	TransitionPurge      = "purge"
)

// InitMetrics registers collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, uploadedBytes, itemTransitions, reconcileActions)
	})
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

// ObserveUpload adds n accepted bytes.
func ObserveUpload(n int64) {
	uploadedBytes.Add(float64(n))
}

// ItemTransition counts one lifecycle transition.
func ItemTransition(transition string) {
	itemTransitions.WithLabelValues(transition).Inc()
}

// ReconcileAction counts one reconciler finding or repair.
func ReconcileAction(action string, n int) {
	if n > 0 {
		reconcileActions.WithLabelValues(action).Add(float64(n))
	}
}
