// Package ratelimit provides per-IP, per-operation request limits. Write
// operations that mint invoices get tight hourly limits; read operations get
// burst-friendly short windows.
package ratelimit

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/satring/server/internal/config"
	"github.com/satring/server/internal/metrics"
	"github.com/satring/server/pkg/responders"
)

// Limiter builds the per-operation middlewares from config. Each middleware
// keeps its own counter window, so hammering search does not consume the
// submit budget.
type Limiter struct {
	cfg     config.RateLimitConfig
	metrics *metrics.Metrics
}

// New creates a Limiter. metrics may be nil.
func New(cfg config.RateLimitConfig, m *metrics.Metrics) *Limiter {
	return &Limiter{cfg: cfg, metrics: m}
}

// Submit limits listing creation.
func (l *Limiter) Submit() func(http.Handler) http.Handler {
	return l.perIP("submit", l.cfg.SubmitPerHour, time.Hour)
}

// Edit limits listing updates.
func (l *Limiter) Edit() func(http.Handler) http.Handler {
	return l.perIP("edit", l.cfg.EditPerHour, time.Hour)
}

// Delete limits listing deletion.
func (l *Limiter) Delete() func(http.Handler) http.Handler {
	return l.perIP("delete", l.cfg.DeletePerHour, time.Hour)
}

// Recover limits both recovery endpoints together.
func (l *Limiter) Recover() func(http.Handler) http.Handler {
	return l.perIP("recover", l.cfg.RecoverPerHour, time.Hour)
}

// Review limits rating creation.
func (l *Limiter) Review() func(http.Handler) http.Handler {
	return l.perIP("review", l.cfg.ReviewPerHour, time.Hour)
}

// Search limits the HTML search page.
func (l *Limiter) Search() func(http.Handler) http.Handler {
	return l.perIP("search", l.cfg.SearchPerSecond, time.Second)
}

// SearchAPI limits the JSON search endpoint.
func (l *Limiter) SearchAPI() func(http.Handler) http.Handler {
	return l.perIP("search_api", l.cfg.SearchAPIPerMinute, time.Minute)
}

// PaymentStatus limits invoice status polling.
func (l *Limiter) PaymentStatus() func(http.Handler) http.Handler {
	return l.perIP("payment_status", l.cfg.PaymentStatusPerMinute, time.Minute)
}

func (l *Limiter) perIP(name string, limit int, window time.Duration) func(http.Handler) http.Handler {
	if !l.cfg.Enabled || limit <= 0 {
		return passthrough
	}
	return httprate.Limit(
		limit,
		window,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(l.limitHandler(name, window)),
	)
}

func (l *Limiter) limitHandler(name string, window time.Duration) func(http.ResponseWriter, *http.Request) {
	retryAfter := int(window.Seconds())
	return func(w http.ResponseWriter, r *http.Request) {
		if l.metrics != nil {
			l.metrics.ObserveRateLimit(name)
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
		responders.Detail(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
	}
}

func passthrough(next http.Handler) http.Handler { return next }
