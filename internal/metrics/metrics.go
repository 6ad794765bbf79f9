// Package metrics collects the Prometheus metrics of the document store
// server and exposes them for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the transport layer reports to.
type Recorder interface {
	RecordRPC(method, code string, duration time.Duration)
	RecordRateLimited(method string)
	SubscriptionOpened()
	SubscriptionClosed()
}

// Collector is the Prometheus Recorder.
type Collector struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	rateLimited   *prometheus.CounterVec
	subscriptions prometheus.Gauge
}

// NewCollector creates the metrics and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duodeck_rpc_requests_total",
			Help: "RPCs handled, by method and status code.",
		}, []string{"method", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "duodeck_rpc_duration_seconds",
			Help:    "RPC handling time in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "duodeck_rpc_rate_limited_total",
			Help: "RPCs rejected by the per-device rate limit.",
		}, []string{"method"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "duodeck_active_subscriptions",
			Help: "Open document change feeds.",
		}),
	}

	reg.MustRegister(c.requests, c.latency, c.rateLimited, c.subscriptions)
	return c
}

func (c *Collector) RecordRPC(method, code string, duration time.Duration) {
	c.requests.WithLabelValues(method, code).Inc()
	c.latency.WithLabelValues(method).Observe(duration.Seconds())
}

func (c *Collector) RecordRateLimited(method string) {
	c.rateLimited.WithLabelValues(method).Inc()
}

func (c *Collector) SubscriptionOpened() { c.subscriptions.Inc() }
func (c *Collector) SubscriptionClosed() { c.subscriptions.Dec() }

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordRPC(string, string, time.Duration) {}
func (Nop) RecordRateLimited(string)                {}
func (Nop) SubscriptionOpened()                     {}
func (Nop) SubscriptionClosed()                     {}
