package storage

import (
	"context"
	"time"
)

// DefaultQueryTimeout bounds individual database queries so a stalled
// connection cannot pin a request goroutine indefinitely.
const DefaultQueryTimeout = 5 * time.Second

// withQueryTimeout adds the default query deadline unless the caller already
// set one.
func withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, DefaultQueryTimeout)
}
