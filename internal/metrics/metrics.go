// Package metrics exposes prometheus collectors for the pair engine, the
// batch dispatcher and the HTTP API on a dedicated registry.
package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/0gfoundation/0g-nft-lending/internal/pair"
)

const namespace = "pair"

type Metrics struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	fees       prometheus.Gauge
	actions    *prometheus.CounterVec
	requests   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Pair operations by name and outcome.",
		}, []string{"op", "result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_failures_total",
			Help:      "Failed pair operations by error kind.",
		}, []string{"op", "kind"}),
		fees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fees_earned_shares",
			Help:      "Vault shares currently held in the protocol fee ledger.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_actions_total",
			Help: "Executed batch actions by kind and outcome.",
		}, []string{"kind", "result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		m.operations, m.failures, m.fees, m.actions, m.requests, m.durations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveOperation implements pair.Observer.
func (m *Metrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, result(err)).Inc()
	if err != nil {
		m.failures.WithLabelValues(op, pair.KindOf(err).String()).Inc()
	}
}

// ObserveFees implements pair.Observer.
func (m *Metrics) ObserveFees(shares *big.Int) {
	if m == nil || shares == nil {
		return
	}
	f, _ := new(big.Float).SetInt(shares).Float64()
	m.fees.Set(f)
}

// ObserveAction implements batch.ActionObserver.
func (m *Metrics) ObserveAction(kind string, err error) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(kind, result(err)).Inc()
}

// Middleware records request counts and latency under the matched route
// template, so /api/loans/1 and /api/loans/2 share a series.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.durations.WithLabelValues(route, c.Request.Method).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
