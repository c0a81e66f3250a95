package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/medrex/rx-ledger/pkg/logger"
	"github.com/medrex/rx-ledger/pkg/types"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

// WriteJSON writes v as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error to its HTTP status by error type
func StatusFor(err error) int {
	switch types.ErrorTypeOf(err) {
	case types.ErrorTypeValidation:
		return http.StatusBadRequest
	case types.ErrorTypeNotFound:
		return http.StatusNotFound
	case types.ErrorTypeConflict:
		return http.StatusConflict
	case types.ErrorTypeAuthorization:
		return http.StatusUnauthorized
	case types.ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as an ErrorResponse. Internal errors are logged with
// their cause and reported to the client without it.
func WriteError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	status := StatusFor(err)

	body := ErrorResponse{
		Success: false,
		Error:   "internal server error",
		Code:    types.ErrCodeInternalError,
	}

	var rxErr *types.RxError
	if errors.As(err, &rxErr) && status != http.StatusInternalServerError {
		body.Error = rxErr.Message
		body.Code = rxErr.Code
	}

	if status >= http.StatusInternalServerError {
		log.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}

	WriteJSON(w, status, body)
}

// DecodeJSON decodes the request body into v, returning a validation error
// for malformed input.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return types.NewValidationError(types.ErrCodeInvalidInput, "invalid request body", map[string]interface{}{
			"reason": err.Error(),
		})
	}
	return nil
}
