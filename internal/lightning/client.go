package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/satring/server/internal/circuitbreaker"
	"github.com/satring/server/internal/config"
	"github.com/satring/server/internal/metrics"
)

// Invoice is the subset of the payments backend's invoice object the server
// needs: the hash that binds the macaroon and the bolt11 string the payer
// scans.
type Invoice struct {
	PaymentHash    string `json:"payment_hash"`
	PaymentRequest string `json:"payment_request"`
}

// Client creates invoices and reports their settlement state. Implementations
// must treat an unverifiable invoice as unpaid.
type Client interface {
	// CreateInvoice mints a fresh invoice for the given amount. Each call
	// creates a new invoice; idempotency is not expected.
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error)

	// IsPaid reports whether the backend considers the invoice settled.
	IsPaid(ctx context.Context, paymentHash string) (bool, error)
}

// BackendError wraps payments backend failures so callers can map them to a
// 502 at the boundary.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("payments backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// HTTPClient talks to an LNbits-compatible payments backend over REST.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.Manager
	metrics    *metrics.Metrics
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient builds a payments client from config. The breaker manager and
// metrics collector are optional.
func NewHTTPClient(cfg config.PaymentsConfig, breaker *circuitbreaker.Manager, m *metrics.Metrics) *HTTPClient {
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		metrics:    m,
	}
}

type createInvoiceRequest struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"`
	Memo   string `json:"memo"`
}

// CreateInvoice calls POST /api/v1/payments on the backend.
func (c *HTTPClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	start := time.Now()
	result, err := c.execute(func() (interface{}, error) {
		return c.createInvoice(ctx, amountSats, memo)
	})
	if c.metrics != nil {
		c.metrics.ObserveBackendCall("create_invoice", time.Since(start), err)
	}
	if err != nil {
		return Invoice{}, &BackendError{Op: "create invoice", Err: err}
	}
	return result.(Invoice), nil
}

func (c *HTTPClient) createInvoice(ctx context.Context, amountSats int64, memo string) (Invoice, error) {
	body, err := json.Marshal(createInvoiceRequest{Out: false, Amount: amountSats, Memo: memo})
	if err != nil {
		return Invoice{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/payments", bytes.NewReader(body))
	if err != nil {
		return Invoice{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Invoice{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Invoice{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var inv Invoice
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&inv); err != nil {
		return Invoice{}, fmt.Errorf("decode response: %w", err)
	}
	if inv.PaymentHash == "" || inv.PaymentRequest == "" {
		return Invoice{}, fmt.Errorf("incomplete invoice in response")
	}
	return inv, nil
}

// IsPaid calls GET /api/v1/payments/{hash}. A non-2xx or transport failure
// reports unpaid: the caller must never treat an unverifiable invoice as
// settled.
func (c *HTTPClient) IsPaid(ctx context.Context, paymentHash string) (bool, error) {
	start := time.Now()
	result, err := c.execute(func() (interface{}, error) {
		return c.isPaid(ctx, paymentHash)
	})
	if c.metrics != nil {
		c.metrics.ObserveBackendCall("is_paid", time.Since(start), err)
	}
	if err != nil {
		return false, &BackendError{Op: "payment status", Err: err}
	}
	return result.(bool), nil
}

func (c *HTTPClient) isPaid(ctx context.Context, paymentHash string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/v1/payments/"+paymentHash, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Unknown or inaccessible invoice: unpaid, not an error.
		return false, nil
	}

	var status struct {
		Paid bool `json:"paid"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return status.Paid, nil
}

func (c *HTTPClient) execute(fn func() (interface{}, error)) (interface{}, error) {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(circuitbreaker.ServicePayments, fn)
}
