package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ticketboard_ws_connections",
		Help: "Current number of live websocket connections",
	})
	WsEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketboard_ws_evictions_total",
		Help: "Connections forcibly removed by the hub",
	}, []string{"reason"})
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketboard_broadcasts_total",
		Help: "Notification events fanned out to rooms",
	}, []string{"type"})
	SweepDeletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketboard_sweep_deletions_total",
		Help: "Entities removed by background sweeps",
	}, []string{"kind"})
	UploadedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ticketboard_uploaded_bytes_total",
		Help: "Bytes accepted by the file vault",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, WsEvictionsTotal, BroadcastsTotal, SweepDeletionsTotal,
		UploadedBytesTotal, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
