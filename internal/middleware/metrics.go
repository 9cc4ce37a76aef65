// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

package middleware

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsPath 指标暴露路径
const MetricsPath = "/metrics"

// Metrics 网关的 Prometheus 指标。
// 每个实例持有独立的 Registry，测试和多实例之间互不干扰。
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 指标
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// 限流指标
	RateLimitDenied *prometheus.CounterVec

	// 缓存指标
	CacheLookups *prometheus.CounterVec
}

// NewMetrics 创建指标集合。cacheSize 不为 nil 时注册 cache_entries 仪表，
// 每次抓取时调用它读取当前条目数。
func NewMetrics(namespace string, cacheSize func() int) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method and status code",
		}, []string{"method", "code"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration by method",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method"}),

		RateLimitDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_denied_total",
			Help:      "Requests rejected by the rate limiter, by profile",
		}, []string{"profile"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by resource and result",
		}, []string{"resource", "result"}),
	}

	if cacheSize != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of live cache entries",
		}, func() float64 { return float64(cacheSize()) })
	}

	return m
}

// Instrument 记录请求数和耗时
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return promhttp.InstrumentHandlerCounter(m.RequestsTotal,
		promhttp.InstrumentHandlerDuration(m.RequestDuration, next))
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRateLimitDenied 记录一次限流拒绝
func (m *Metrics) RecordRateLimitDenied(profile string) {
	if m == nil {
		return
	}
	m.RateLimitDenied.WithLabelValues(profile).Inc()
}

// RecordCacheLookup 记录一次缓存查询，result 为 hit、miss 或 bypass
func (m *Metrics) RecordCacheLookup(resource, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(resource, result).Inc()
}
