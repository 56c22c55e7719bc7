// Package metrics fieldops-api 的 Prometheus 指标
//
// 指标:
//   - http_requests_total{method,route,status}
//   - http_request_duration_seconds{method,route}
//   - job_status_transitions_total{from,to}
//   - notifications_fanout_total{type,result}
//   - location_samples_total{source}
//
// Collector 的方法对 nil 接收者是安全的，测试中可以直接传 nil。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector Prometheus 指标收集器
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	jobTransitions *prometheus.CounterVec
	fanout         *prometheus.CounterVec
	locations      *prometheus.CounterVec
}

// NewCollector 创建收集器（独立 registry）
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		jobTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "job_status_transitions_total",
			Help: "Job status transitions applied",
		}, []string{"from", "to"}),
		fanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_fanout_total",
			Help: "Notification rows fanned out, by result",
		}, []string{"type", "result"}),
		locations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "location_samples_total",
			Help: "Location samples recorded, by ingest source",
		}, []string{"source"}),
	}

	c.registry.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.jobTransitions,
		c.fanout,
		c.locations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler /metrics
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry 供测试读取
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest 记录一次 HTTP 请求
func (c *Collector) RecordRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordTransition 记录工单状态迁移
func (c *Collector) RecordTransition(from, to string) {
	if c == nil {
		return
	}
	c.jobTransitions.WithLabelValues(from, to).Inc()
}

// RecordFanout result: ok / failed
func (c *Collector) RecordFanout(notificationType, result string) {
	if c == nil {
		return
	}
	c.fanout.WithLabelValues(notificationType, result).Inc()
}

// RecordLocation source: http / mqtt
func (c *Collector) RecordLocation(source string) {
	if c == nil {
		return
	}
	c.locations.WithLabelValues(source).Inc()
}
