package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the directory server.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// L402 metrics
	ChallengesIssuedTotal *prometheus.CounterVec
	VerificationsTotal    *prometheus.CounterVec
	InvoiceSatsTotal      *prometheus.CounterVec

	// Payments backend metrics
	BackendCallsTotal   *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec

	// Domain recovery metrics
	RecoveryChallengesTotal prometheus.Counter
	RecoveryVerifiesTotal   *prometheus.CounterVec
	RecoveryRotatedListings prometheus.Counter

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satring_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satring_request_duration_seconds",
				Help:    "HTTP request duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route"},
		),

		ChallengesIssuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satring_l402_challenges_issued_total",
				Help: "Total number of 402 challenges issued",
			},
			[]string{"operation"},
		),
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satring_l402_verifications_total",
				Help: "Total number of L402 credential verifications by outcome",
			},
			[]string{"outcome"}, // authorized | replay | invalid | malformed
		),
		InvoiceSatsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satring_l402_invoice_sats_total",
				Help: "Total satoshis across invoices created for challenges",
			},
			[]string{"operation"},
		),

		BackendCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satring_payments_backend_calls_total",
				Help: "Total calls to the Lightning payments backend",
			},
			[]string{"call", "outcome"},
		),
		BackendCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satring_payments_backend_duration_seconds",
				Help:    "Duration of payments backend calls",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"call"},
		),

		RecoveryChallengesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "satring_recovery_challenges_total",
				Help: "Total number of domain recovery challenges issued",
			},
		),
		RecoveryVerifiesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satring_recovery_verifies_total",
				Help: "Total number of domain recovery verify attempts by outcome",
			},
			[]string{"outcome"}, // ok | mismatch | unreachable | private | expired
		),
		RecoveryRotatedListings: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "satring_recovery_rotated_listings_total",
				Help: "Total number of listings whose edit token was rotated by recovery",
			},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "satring_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit"},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "satring_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveChallenge records an issued 402 challenge and its invoice amount.
func (m *Metrics) ObserveChallenge(operation string, amountSats int64) {
	m.ChallengesIssuedTotal.WithLabelValues(operation).Inc()
	m.InvoiceSatsTotal.WithLabelValues(operation).Add(float64(amountSats))
}

// ObserveVerification records the outcome of an L402 credential check.
func (m *Metrics) ObserveVerification(outcome string) {
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveBackendCall records a payments backend call.
func (m *Metrics) ObserveBackendCall(call string, duration time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.BackendCallsTotal.WithLabelValues(call, outcome).Inc()
	m.BackendCallDuration.WithLabelValues(call).Observe(duration.Seconds())
}

// ObserveRecoveryChallenge records an issued domain recovery challenge.
func (m *Metrics) ObserveRecoveryChallenge() {
	m.RecoveryChallengesTotal.Inc()
}

// ObserveRecoveryVerify records a domain recovery verify attempt.
func (m *Metrics) ObserveRecoveryVerify(outcome string, rotated int) {
	m.RecoveryVerifiesTotal.WithLabelValues(outcome).Inc()
	if rotated > 0 {
		m.RecoveryRotatedListings.Add(float64(rotated))
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limit string) {
	m.RateLimitHitsTotal.WithLabelValues(limit).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
