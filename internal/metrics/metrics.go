// Package metrics exposes Prometheus collectors for the API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "babylog"

// Provider owns a private registry. A nil *Provider is valid and records
// nothing, which is how metrics are disabled.
type Provider struct {
	registry *prometheus.Registry
	handler  http.Handler

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	reportRows   *prometheus.CounterVec
}

func New() (*Provider, error) {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"method", "route", "status"},
	)
	httpLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"method", "route", "status"},
	)
	reportRows := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_records_total",
			Help:      "Records fed into report aggregations.",
		},
		[]string{"report", "category"},
	)

	for _, collector := range []prometheus.Collector{
		httpRequests,
		httpLatency,
		reportRows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return &Provider{
		registry:     registry,
		handler:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}),
		httpRequests: httpRequests,
		httpLatency:  httpLatency,
		reportRows:   reportRows,
	}, nil
}

func (p *Provider) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return p.handler
}

func (p *Provider) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.registry
}

func (p *Provider) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if p == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	p.httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	p.httpLatency.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

// RecordReport counts how many records of category an aggregation consumed.
func (p *Provider) RecordReport(report, category string, records int) {
	if p == nil || records <= 0 {
		return
	}
	p.reportRows.WithLabelValues(report, category).Add(float64(records))
}

// Middleware records every request under its route template so ids do not
// explode label cardinality.
func (p *Provider) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		p.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(started))
	}
}
