package errors

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the error format returned to clients. The `detail` field
// is the stable, human-readable contract; `code` gives clients something
// machine-readable to switch on.
type ErrorResponse struct {
	Detail    string    `json:"detail"`
	Code      ErrorCode `json:"code,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
}

// WriteError writes the response for a code with the given detail message,
// using the code's canonical HTTP status.
func WriteError(w http.ResponseWriter, code ErrorCode, detail string) {
	resp := ErrorResponse{
		Detail:    detail,
		Code:      code,
		Retryable: code.IsRetryable(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(resp)
}
