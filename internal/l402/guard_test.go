package l402

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/satring/server/internal/lightning"
)

// stubInvoices hands out a fixed invoice.
type stubInvoices struct {
	invoice lightning.Invoice
	err     error
}

func (s *stubInvoices) CreateInvoice(context.Context, int64, string) (lightning.Invoice, error) {
	if s.err != nil {
		return lightning.Invoice{}, s.err
	}
	return s.invoice, nil
}

func (s *stubInvoices) IsPaid(context.Context, string) (bool, error) { return false, nil }

// mapLedger is an in-memory consumed-payments ledger.
type mapLedger struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newMapLedger() *mapLedger { return &mapLedger{seen: make(map[string]bool)} }

func (l *mapLedger) Admit(_ context.Context, hash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if l.seen[hash] {
		return false, nil
	}
	l.seen[hash] = true
	return true, nil
}

func guardFixture(t *testing.T) (*Guard, string, string) {
	t.Helper()
	preimage := make([]byte, 32)
	for i := range preimage {
		preimage[i] = 0x5a
	}
	digest := sha256.Sum256(preimage)
	hash := hex.EncodeToString(digest[:])

	invoices := &stubInvoices{invoice: lightning.Invoice{
		PaymentHash:    hash,
		PaymentRequest: "lnbc10n1test",
	}}
	g := NewGuard(testRootKey, false, invoices, newMapLedger(), nil)
	return g, hex.EncodeToString(preimage), hash
}

func protectedHandler(g *Guard) http.Handler {
	return g.Require(100, "test memo", "test_op")(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("granted"))
		}))
}

func TestGuardIssues402Challenge(t *testing.T) {
	g, _, _ := guardFixture(t)
	handler := protectedHandler(g)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/paid", nil))

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", rec.Code)
	}

	authenticate := rec.Header().Get("WWW-Authenticate")
	if !strings.HasPrefix(authenticate, "L402 macaroon=") {
		t.Fatalf("WWW-Authenticate = %q", authenticate)
	}
	if !strings.Contains(authenticate, `invoice="lnbc10n1test"`) {
		t.Fatalf("challenge missing invoice: %q", authenticate)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["detail"] != "Payment Required" {
		t.Fatalf(`body = %v, want {"detail":"Payment Required"}`, body)
	}
	if len(body) != 1 {
		t.Fatalf("402 body must carry only detail, got %v", body)
	}
}

// challengeMacaroon extracts the macaroon from a 402 WWW-Authenticate header.
func challengeMacaroon(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/paid", nil))
	header := rec.Header().Get("WWW-Authenticate")

	const prefix = `L402 macaroon="`
	start := strings.Index(header, prefix)
	if start < 0 {
		t.Fatalf("no macaroon in %q", header)
	}
	rest := header[start+len(prefix):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		t.Fatalf("unterminated macaroon in %q", header)
	}
	return rest[:end]
}

func TestGuardAcceptsPaidRetryOnce(t *testing.T) {
	g, preimage, _ := guardFixture(t)
	handler := protectedHandler(g)

	mac := challengeMacaroon(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("Authorization", "L402 "+mac+":"+preimage)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("paid retry status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	// Same credentials again: the payment hash is consumed.
	req = httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("Authorization", "L402 "+mac+":"+preimage)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay status = %d, want 401", rec.Code)
	}
}

func TestGuardAcceptsLSATScheme(t *testing.T) {
	g, preimage, _ := guardFixture(t)
	handler := protectedHandler(g)
	mac := challengeMacaroon(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("Authorization", "LSAT "+mac+":"+preimage)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("LSAT retry status = %d, want 200", rec.Code)
	}
}

func TestGuardRejectsBadCredentials(t *testing.T) {
	g, preimage, _ := guardFixture(t)
	handler := protectedHandler(g)
	mac := challengeMacaroon(t, handler)

	cases := []struct {
		name  string
		value string
		want  int
	}{
		{"missing separator", "L402 " + mac + preimage, http.StatusUnauthorized},
		{"garbage macaroon", "L402 AAAA:" + preimage, http.StatusUnauthorized},
		{"wrong preimage", "L402 " + mac + ":" + strings.Repeat("00", 32), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/paid", nil)
			req.Header.Set("Authorization", tc.value)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestGuardTestModeBypassesEverything(t *testing.T) {
	invoices := &stubInvoices{err: errors.New("backend should never be called")}
	g := NewGuard("test-mode", true, invoices, newMapLedger(), nil)
	handler := protectedHandler(g)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/paid", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("test-mode status = %d, want 200", rec.Code)
	}
}

func TestGuardBackendFailureIs502(t *testing.T) {
	invoices := &stubInvoices{err: errors.New("connection refused")}
	g := NewGuard(testRootKey, false, invoices, newMapLedger(), nil)
	handler := protectedHandler(g)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/paid", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestGuardLedgerErrorIs500(t *testing.T) {
	g, preimage, _ := guardFixture(t)
	handler := protectedHandler(g)
	mac := challengeMacaroon(t, handler)

	failing := newMapLedger()
	failing.err = errors.New("db down")
	g.ledger = failing

	req := httptest.NewRequest(http.MethodGet, "/paid", nil)
	req.Header.Set("Authorization", "L402 "+mac+":"+preimage)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}
