package rpc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the RPC front end.
type Metrics struct {
	RPCRequestsTotal     *prometheus.CounterVec
	RPCRequestDuration   *prometheus.HistogramVec
	PolicyDecisionsTotal *prometheus.CounterVec
	ProxyPoolActive      prometheus.GaugeFunc
	ActivityDropsTotal   prometheus.CounterFunc
}

// NewMetrics creates and registers all metrics with the given registry.
// poolSize and busDrops are sampled at scrape time.
func NewMetrics(reg prometheus.Registerer, poolSize func() int, busDrops func() uint64) *Metrics {
	m := &Metrics{
		RPCRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agenshield",
				Name:      "rpc_requests_total",
				Help:      "Total number of JSON-RPC requests processed",
			},
			[]string{"method", "status"},
		),
		RPCRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agenshield",
				Name:      "rpc_request_duration_seconds",
				Help:      "JSON-RPC request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		PolicyDecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agenshield",
				Name:      "policy_decisions_total",
				Help:      "Total policy decisions by operation and result",
			},
			[]string{"operation", "result"},
		),
		ProxyPoolActive: promauto.With(reg).NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "agenshield",
				Name:      "proxy_pool_active",
				Help:      "Number of live per-run egress proxies",
			},
			func() float64 { return float64(poolSize()) },
		),
		ActivityDropsTotal: promauto.With(reg).NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: "agenshield",
				Name:      "activity_drops_total",
				Help:      "Activity events dropped due to slow subscribers",
			},
			func() float64 { return float64(busDrops()) },
		),
	}
	return m
}
