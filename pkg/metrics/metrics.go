package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/jordanlanch/creatorledger/pkg/ledger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Business metrics
	CommissionsPosted   *prometheus.CounterVec
	CommissionsReplayed prometheus.Counter
	CommissionCredited  *prometheus.CounterVec
	PayoutTransitions   *prometheus.CounterVec
	PayoutAmount        *prometheus.CounterVec
	OpenPayoutRequests  prometheus.Gauge
	OpenPayoutAmount    prometheus.Gauge
	Contended           *prometheus.CounterVec

	// Database metrics
	DBConnections prometheus.Gauge

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates a new Metrics instance registered with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000},
			},
			[]string{"method", "path"},
		),

		// Business metrics
		CommissionsPosted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_commissions_posted_total",
				Help: "Total number of commission events credited",
			},
			[]string{"tier"},
		),
		CommissionsReplayed: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_commissions_replayed_total",
			Help: "Total number of duplicate commission events ignored",
		}),
		CommissionCredited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_commission_credited_cents_total",
				Help: "Commission credited in cents",
			},
			[]string{"component"}, // base, bonus
		),
		PayoutTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payout_transitions_total",
				Help: "Payout request state transitions",
			},
			[]string{"from", "to"},
		),
		PayoutAmount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_payout_amount_cents_total",
				Help: "Payout amounts in cents by the state they entered",
			},
			[]string{"state"},
		),
		OpenPayoutRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_open_payout_requests",
			Help: "Number of payout requests awaiting an outcome",
		}),
		OpenPayoutAmount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_open_payout_amount_cents",
			Help: "Funds locked by open payout requests in cents",
		}),

		Contended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_contended_total",
				Help: "Operations rejected because a creator's account stayed busy",
			},
			[]string{"operation"},
		),

		// Database metrics
		DBConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		}),

		// Cache metrics
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),
	}

	return m
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // route pattern, e.g. /api/v1/payouts/:id

			err := next(c)
			if err != nil {
				// Let the error handler write the status before recording it.
				c.Error(err)
			}

			status := strconv.Itoa(c.Response().Status)
			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, status).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, status).Observe(time.Since(start).Seconds())
			m.HTTPResponseSize.WithLabelValues(req.Method, path).Observe(float64(c.Response().Size))

			return nil
		}
	}
}

// CommissionPosted records a fresh commission credit.
func (m *Metrics) CommissionPosted(_ context.Context, posting *ledger.Posting, _ ledger.Account) {
	m.CommissionsPosted.WithLabelValues(posting.TierName).Inc()
	m.CommissionCredited.WithLabelValues("base").Add(float64(posting.Base.Cents()))
	m.CommissionCredited.WithLabelValues("bonus").Add(float64(posting.Bonus.Cents()))
}

// PayoutChanged records a payout request transition.
func (m *Metrics) PayoutChanged(_ context.Context, request *ledger.PayoutRequest, from ledger.State, _ ledger.Account) {
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "new"
	}
	m.PayoutTransitions.WithLabelValues(fromLabel, string(request.State)).Inc()
	m.PayoutAmount.WithLabelValues(string(request.State)).Add(float64(request.Amount.Cents()))
}

// RecordCommissionReplay increments the duplicate event counter
func (m *Metrics) RecordCommissionReplay() {
	m.CommissionsReplayed.Inc()
}

// RecordContended counts an operation that gave up waiting for a creator.
func (m *Metrics) RecordContended(operation string) {
	m.Contended.WithLabelValues(operation).Inc()
}

// UpdatePayoutQueue sets the open request gauges.
func (m *Metrics) UpdatePayoutQueue(count int, lockedCents int64) {
	m.OpenPayoutRequests.Set(float64(count))
	m.OpenPayoutAmount.Set(float64(lockedCents))
}

// UpdateDBConnections updates active database connections gauge
func (m *Metrics) UpdateDBConnections(count float64) {
	m.DBConnections.Set(count)
}

// RecordCacheHit increments cache hits counter
func (m *Metrics) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments cache misses counter
func (m *Metrics) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}
