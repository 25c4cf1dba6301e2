package httpserver

import (
	"encoding/hex"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/satring/server/internal/errors"
	"github.com/satring/server/internal/logger"
	"github.com/satring/server/pkg/responders"
)

// paymentStatus serves GET /api/v1/payment-status/{hash} so browser clients
// can poll whether an invoice settled before retrying the gated request. In
// test mode everything reads as paid.
func (h handlers) paymentStatus(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	if !validPaymentHash(hash) {
		apierrors.WriteError(w, apierrors.ErrCodeBadInput, "Invalid payment hash")
		return
	}

	if h.cfg.Auth.TestMode() {
		responders.JSON(w, http.StatusOK, map[string]bool{"paid": true})
		return
	}

	paid, err := h.invoices.IsPaid(r.Context(), hash)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).
			Str("payment_hash", logger.TruncateHash(hash)).
			Msg("payment status lookup failed")
		apierrors.WriteError(w, apierrors.ErrCodePaymentBackendError, "Payment backend unavailable")
		return
	}
	responders.JSON(w, http.StatusOK, map[string]bool{"paid": paid})
}

// validPaymentHash requires the 64 hex character SHA-256 form.
func validPaymentHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}
