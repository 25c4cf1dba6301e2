package l402

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	apierrors "github.com/satring/server/internal/errors"
	"github.com/satring/server/internal/lightning"
	"github.com/satring/server/internal/logger"
	"github.com/satring/server/internal/metrics"
	"github.com/satring/server/pkg/responders"
)

// Ledger records redeemed payment hashes. Admit inserts the hash and reports
// whether this call was the first to do so; the store's unique constraint is
// the source of truth, never a prior read.
type Ledger interface {
	Admit(ctx context.Context, paymentHash string) (bool, error)
}

// Guard is the request-side paywall policy. A single guard serves every
// priced operation; the price and memo vary per route.
type Guard struct {
	rootKey  string
	testMode bool
	invoices lightning.Client
	ledger   Ledger
	metrics  *metrics.Metrics
}

// NewGuard builds the paywall guard. testMode disables every gate and must
// only be true when the root key is the explicit test-mode literal.
func NewGuard(rootKey string, testMode bool, invoices lightning.Client, ledger Ledger, m *metrics.Metrics) *Guard {
	return &Guard{
		rootKey:  rootKey,
		testMode: testMode,
		invoices: invoices,
		ledger:   ledger,
		metrics:  m,
	}
}

type contextKey string

// contextKeyPaymentHash carries the admitted payment hash for audit logging.
const contextKeyPaymentHash contextKey = "l402.paymentHash"

// AdmittedPaymentHash returns the payment hash consumed to authorize this
// request, if any.
func AdmittedPaymentHash(ctx context.Context) (string, bool) {
	if h, ok := ctx.Value(contextKeyPaymentHash).(string); ok {
		return h, true
	}
	return "", false
}

// Require returns middleware enforcing an L402 payment of amountSats before
// the downstream handler runs. Requests without credentials receive a 402
// challenge carrying a fresh invoice and macaroon; requests with credentials
// are verified, their payment hash consumed exactly once, and then passed
// through.
func (g *Guard) Require(amountSats int64, memo, operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.testMode {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "L402 ") || strings.HasPrefix(auth, "LSAT ") {
				g.verify(w, r, next, auth[5:])
				return
			}

			g.challenge(w, r, amountSats, memo, operation)
		})
	}
}

// verify handles a retried request carrying `<macaroon_b64>:<preimage_hex>`.
func (g *Guard) verify(w http.ResponseWriter, r *http.Request, next http.Handler, token string) {
	log := logger.FromContext(r.Context())

	macaroonB64, preimageHex, found := strings.Cut(token, ":")
	if !found {
		g.observe("malformed")
		apierrors.WriteError(w, apierrors.ErrCodeInvalidTokenFormat, "Invalid L402 token format")
		return
	}

	if !VerifyCredentials(g.rootKey, macaroonB64, preimageHex) {
		g.observe("invalid")
		apierrors.WriteError(w, apierrors.ErrCodeInvalidCredentials, "Invalid L402 credentials")
		return
	}

	paymentHash, ok := PaymentHash(macaroonB64)
	if !ok {
		g.observe("invalid")
		apierrors.WriteError(w, apierrors.ErrCodeInvalidCredentials, "Invalid L402 credentials")
		return
	}

	admitted, err := g.ledger.Admit(r.Context(), paymentHash)
	if err != nil {
		log.Error().Err(err).Msg("consumed payment admission failed")
		apierrors.WriteError(w, apierrors.ErrCodeDatabaseError, "Internal server error")
		return
	}
	if !admitted {
		g.observe("replay")
		log.Warn().
			Str("payment_hash", logger.TruncateHash(paymentHash)).
			Msg("replayed L402 credentials refused")
		apierrors.WriteError(w, apierrors.ErrCodeInvalidCredentials, "Invalid L402 credentials")
		return
	}

	g.observe("authorized")
	ctx := context.WithValue(r.Context(), contextKeyPaymentHash, paymentHash)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// challenge mints a fresh invoice + macaroon pair and issues the 402.
func (g *Guard) challenge(w http.ResponseWriter, r *http.Request, amountSats int64, memo, operation string) {
	log := logger.FromContext(r.Context())

	invoice, err := g.invoices.CreateInvoice(r.Context(), amountSats, memo)
	if err != nil {
		log.Error().Err(err).Str("operation", operation).Msg("invoice creation failed")
		apierrors.WriteError(w, apierrors.ErrCodePaymentBackendError, "Payment backend unavailable")
		return
	}

	macaroonB64, err := MintMacaroon(g.rootKey, invoice.PaymentHash)
	if err != nil {
		log.Error().Err(err).Msg("macaroon minting failed")
		apierrors.WriteError(w, apierrors.ErrCodeInternalError, "Internal server error")
		return
	}

	if g.metrics != nil {
		g.metrics.ObserveChallenge(operation, amountSats)
	}
	log.Info().
		Str("operation", operation).
		Int64("amount_sats", amountSats).
		Str("payment_hash", logger.TruncateHash(invoice.PaymentHash)).
		Msg("402 challenge issued")

	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		"L402 macaroon=%q, invoice=%q", macaroonB64, invoice.PaymentRequest,
	))
	responders.Detail(w, http.StatusPaymentRequired, "Payment Required")
}

func (g *Guard) observe(outcome string) {
	if g.metrics != nil {
		g.metrics.ObserveVerification(outcome)
	}
}
