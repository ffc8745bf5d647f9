package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendingScope/internal/lending"
)

const namespace = "lending"

// Metrics implements lending.Observer on a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	interestAccrued   *prometheus.CounterVec
	alerts            *prometheus.CounterVec
	healthFactor      *prometheus.GaugeVec
	httpRequests      *prometheus.CounterVec
}

var _ lending.Observer = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and result kind.",
		}, []string{"op", "result"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency, including oracle lookups.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		interestAccrued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interest_accrued_total",
			Help:      "Interest added to pool debt, in asset units.",
		}, []string{"asset"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_alerts_total",
			Help:      "Health alerts raised, by delivery result.",
		}, []string{"result"}),
		healthFactor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "alerted_health_factor_bps",
			Help:      "Health factor of a position at its latest alert.",
		}, []string{"owner"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operations,
		m.operationDuration,
		m.interestAccrued,
		m.alerts,
		m.healthFactor,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.operations.WithLabelValues(op, lending.Kind(err)).Inc()
	m.operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAccrual(asset string, interest uint64) {
	m.interestAccrued.WithLabelValues(asset).Add(float64(interest))
}

func (m *Metrics) ObserveAlert(err error) {
	result := "delivered"
	if err != nil {
		result = "failed"
	}
	m.alerts.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveHealth(owner common.Address, healthFactor uint64) {
	m.healthFactor.WithLabelValues(owner.Hex()).Set(float64(healthFactor))
}

// GinMiddleware counts requests by matched route.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
