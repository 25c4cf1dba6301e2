package lightning

import (
	"context"
	"sync"
	"time"

	"github.com/satring/server/internal/cacheutil"
)

// SettlementCache wraps a Client and remembers settled invoices. Settlement
// is final, so a paid result caches forever; unpaid results cache briefly so
// browser poll loops do not hammer the backend.
type SettlementCache struct {
	inner       Client
	negativeTTL time.Duration

	mu   sync.RWMutex
	paid map[string]cacheutil.CachedValue[bool]
}

var _ Client = (*SettlementCache)(nil)

// NewSettlementCache wraps a client. negativeTTL bounds how long an unpaid
// answer is reused; zero or negative falls back to one second.
func NewSettlementCache(inner Client, negativeTTL time.Duration) *SettlementCache {
	if negativeTTL <= 0 {
		negativeTTL = time.Second
	}
	return &SettlementCache{
		inner:       inner,
		negativeTTL: negativeTTL,
		paid:        make(map[string]cacheutil.CachedValue[bool]),
	}
}

// CreateInvoice passes through; invoice creation is never cacheable.
func (c *SettlementCache) CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	return c.inner.CreateInvoice(ctx, amountSats, memo)
}

// IsPaid serves from cache where possible.
func (c *SettlementCache) IsPaid(ctx context.Context, paymentHash string) (bool, error) {
	return cacheutil.ReadThrough(
		&c.mu,
		func(now time.Time) (bool, bool) {
			entry, ok := c.paid[paymentHash]
			if !ok {
				return false, false
			}
			if entry.Value {
				return true, true
			}
			if now.Sub(entry.FetchedAt) < c.negativeTTL {
				return false, true
			}
			return false, false
		},
		func(now time.Time) (bool, error) {
			paid, err := c.inner.IsPaid(ctx, paymentHash)
			if err != nil {
				return false, err
			}
			c.paid[paymentHash] = cacheutil.CachedValue[bool]{Value: paid, FetchedAt: now}
			return paid, nil
		},
	)
}
