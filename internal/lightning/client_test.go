package lightning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/satring/server/internal/config"
)

func backendFixture(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(config.PaymentsConfig{
		URL:     srv.URL,
		APIKey:  "test-api-key",
		Timeout: config.Duration{Duration: 2 * time.Second},
	}, nil, nil)
}

func TestCreateInvoice(t *testing.T) {
	client := backendFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/payments" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "test-api-key" {
			t.Error("missing API key header")
		}
		var req struct {
			Out    bool   `json:"out"`
			Amount int64  `json:"amount"`
			Memo   string `json:"memo"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Out || req.Amount != 1000 || req.Memo != "satring: submit listing" {
			t.Errorf("unexpected payload: %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"payment_hash":    "aa11",
			"payment_request": "lnbc10u1...",
		})
	})

	inv, err := client.CreateInvoice(context.Background(), 1000, "satring: submit listing")
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if inv.PaymentHash != "aa11" || inv.PaymentRequest != "lnbc10u1..." {
		t.Fatalf("invoice = %+v", inv)
	}
}

func TestCreateInvoiceBackendError(t *testing.T) {
	client := backendFixture(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.CreateInvoice(context.Background(), 100, "memo")
	if err == nil {
		t.Fatal("expected error on 500")
	}
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("error type = %T", err)
	}
}

func TestCreateInvoiceIncompleteResponse(t *testing.T) {
	client := backendFixture(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"payment_hash": "aa11"})
	})

	if _, err := client.CreateInvoice(context.Background(), 100, "memo"); err == nil {
		t.Fatal("response without payment_request must fail")
	}
}

func TestIsPaid(t *testing.T) {
	client := backendFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/payments/settled":
			json.NewEncoder(w).Encode(map[string]bool{"paid": true})
		case "/api/v1/payments/pending":
			json.NewEncoder(w).Encode(map[string]bool{"paid": false})
		default:
			http.NotFound(w, r)
		}
	})

	paid, err := client.IsPaid(context.Background(), "settled")
	if err != nil || !paid {
		t.Fatalf("settled: paid=%v err=%v", paid, err)
	}

	paid, err = client.IsPaid(context.Background(), "pending")
	if err != nil || paid {
		t.Fatalf("pending: paid=%v err=%v", paid, err)
	}

	// Unknown invoices read as unpaid, never as an error.
	paid, err = client.IsPaid(context.Background(), "unknown")
	if err != nil || paid {
		t.Fatalf("unknown: paid=%v err=%v", paid, err)
	}
}

// countingClient counts IsPaid passes to the inner client.
type countingClient struct {
	calls int64
	paid  map[string]bool
}

func (c *countingClient) CreateInvoice(context.Context, int64, string) (Invoice, error) {
	return Invoice{PaymentHash: "h", PaymentRequest: "r"}, nil
}

func (c *countingClient) IsPaid(_ context.Context, hash string) (bool, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.paid[hash], nil
}

func TestSettlementCache(t *testing.T) {
	inner := &countingClient{paid: map[string]bool{"settled": true}}
	cache := NewSettlementCache(inner, time.Minute)

	for i := 0; i < 5; i++ {
		paid, err := cache.IsPaid(context.Background(), "settled")
		if err != nil || !paid {
			t.Fatalf("settled: paid=%v err=%v", paid, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("settled invoice fetched %d times, want 1", inner.calls)
	}

	// Unpaid answers are reused within the negative TTL.
	inner.calls = 0
	for i := 0; i < 5; i++ {
		paid, err := cache.IsPaid(context.Background(), "pending")
		if err != nil || paid {
			t.Fatalf("pending: paid=%v err=%v", paid, err)
		}
	}
	if inner.calls != 1 {
		t.Fatalf("pending invoice fetched %d times within TTL, want 1", inner.calls)
	}
}

func TestSettlementCacheExpiresNegative(t *testing.T) {
	inner := &countingClient{paid: map[string]bool{}}
	cache := NewSettlementCache(inner, time.Nanosecond)

	if _, err := cache.IsPaid(context.Background(), "pending"); err != nil {
		t.Fatalf("IsPaid: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := cache.IsPaid(context.Background(), "pending"); err != nil {
		t.Fatalf("IsPaid: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expired negative entry fetched %d times, want 2", inner.calls)
	}
}
