package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// L402 / payment errors
const (
	// The caller must pay a Lightning invoice before retrying.
	ErrCodePaymentRequired ErrorCode = "payment_required"

	// Presented L402 credentials failed verification or were already spent.
	ErrCodeInvalidCredentials ErrorCode = "invalid_l402_credentials"

	// Authorization header carried an L402/LSAT token without a macaroon:preimage pair.
	ErrCodeInvalidTokenFormat ErrorCode = "invalid_l402_token_format"

	// The payments backend returned a non-2xx or was unreachable.
	ErrCodePaymentBackendError ErrorCode = "payment_backend_error"
)

// Listing ownership errors
const (
	ErrCodeInvalidEditToken   ErrorCode = "invalid_edit_token"
	ErrCodeNoActiveChallenge  ErrorCode = "no_active_challenge"
	ErrCodeChallengeMismatch  ErrorCode = "challenge_mismatch"
	ErrCodeUnreachableDomain  ErrorCode = "unreachable_domain"
	ErrCodePrivateAddress     ErrorCode = "private_or_reserved_address"
	ErrCodeCrossOriginBlocked ErrorCode = "cross_origin_blocked"
)

// Resource/state errors
const (
	ErrCodeServiceNotFound ErrorCode = "service_not_found"
	ErrCodeRateLimited     ErrorCode = "rate_limit_exceeded"
	ErrCodeBadInput        ErrorCode = "invalid_input"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Only transient backend failures qualify; credential and validation
// failures are permanent for the given request.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodePaymentBackendError, ErrCodeUnreachableDomain:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code surfaced at the boundary for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodePaymentRequired:
		return 402

	case ErrCodeInvalidCredentials, ErrCodeInvalidTokenFormat:
		return 401

	case ErrCodeInvalidEditToken,
		ErrCodeChallengeMismatch,
		ErrCodeCrossOriginBlocked:
		return 403

	case ErrCodeNoActiveChallenge, ErrCodePrivateAddress:
		return 400

	case ErrCodeServiceNotFound:
		return 404

	case ErrCodeBadInput:
		return 422

	case ErrCodeRateLimited:
		return 429

	case ErrCodeUnreachableDomain, ErrCodePaymentBackendError:
		return 502

	default:
		return 500
	}
}
