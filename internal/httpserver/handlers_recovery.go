package httpserver

import (
	"errors"
	"net/http"

	apierrors "github.com/satring/server/internal/errors"
	"github.com/satring/server/internal/recovery"
	"github.com/satring/server/pkg/responders"
)

// recoverGenerate serves POST /api/v1/services/{slug}/recover/generate. It is
// deliberately free and unauthenticated: the proof of ownership is publishing
// the challenge on the listing's domain, not anything in this request.
func (h handlers) recoverGenerate(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.loadService(w, r)
	if !ok {
		return
	}

	challenge, err := h.verifier.Issue(r.Context(), svc)
	if err != nil {
		h.internalError(w, r, "issue recovery challenge", err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"challenge":       challenge.Value,
		"well_known_path": challenge.Path,
		"expires_at":      challenge.ExpiresAt,
		"instructions": "Serve the challenge value as plain text at " +
			challenge.Path + " on this listing's domain, then call recover/verify.",
	})
}

// recoverVerify serves POST /api/v1/services/{slug}/recover/verify.
func (h handlers) recoverVerify(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.loadService(w, r)
	if !ok {
		return
	}

	result, err := h.verifier.Verify(r.Context(), svc)
	switch {
	case err == nil:
	case errors.Is(err, recovery.ErrNoChallenge):
		apierrors.WriteError(w, apierrors.ErrCodeNoActiveChallenge, "No active challenge. Generate one first.")
		return
	case errors.Is(err, recovery.ErrPrivateAddress):
		apierrors.WriteError(w, apierrors.ErrCodePrivateAddress, "Domain resolves to a non-public address")
		return
	case errors.Is(err, recovery.ErrMismatch):
		apierrors.WriteError(w, apierrors.ErrCodeChallengeMismatch, "Published value does not match the challenge")
		return
	case errors.Is(err, recovery.ErrUnreachable):
		apierrors.WriteError(w, apierrors.ErrCodeUnreachableDomain, "Domain verification fetch failed")
		return
	default:
		h.internalError(w, r, "recovery verify", err)
		return
	}

	responders.JSON(w, http.StatusOK, map[string]interface{}{
		"edit_token": result.NewEditToken,
		"services":   result.Slugs,
	})
}
